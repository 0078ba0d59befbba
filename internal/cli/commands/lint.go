package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/cfnworks/cfnview/internal/cli/config"
	"github.com/cfnworks/cfnview/internal/lspclient"
	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// LintOptions contains options for the lint command.
type LintOptions struct {
	Format  string
	Timeout time.Duration
}

// Severity styles for table output.
var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	fileStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
)

// NewLintCommand creates the lint command.
func NewLintCommand() *cobra.Command {
	opts := &LintOptions{}

	cmd := &cobra.Command{
		Use:   "lint FILE...",
		Short: "Lint CloudFormation templates",
		Long: `Lint CloudFormation templates through the external linter.

Each template is opened against the language server and its diagnostics are
collected and printed. The exit code is non-zero when any template has
error-severity findings.`,
		Example: `  # Lint a template
  cfnview lint stack.yaml

  # Machine-readable output
  cfnview lint --format json stack.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Time to wait for diagnostics")

	return cmd
}

// fileReport pairs a template with its collected diagnostics.
type fileReport struct {
	Path        string                 `json:"path"`
	Diagnostics []lspclient.Diagnostic `json:"diagnostics"`
}

func runLint(cmd *cobra.Command, args []string, opts *LintOptions) error {
	if opts.Format != "table" && opts.Format != "json" {
		return fmt.Errorf("unknown format %q (want table or json)", opts.Format)
	}

	cfg := config.FromContext(cmd.Context())
	logger := config.GetLogger(cmd.Context())

	type doc struct {
		path string
		uri  string
		text string
	}
	docs := make([]doc, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", arg, err)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("reading template: %w", err)
		}
		docs = append(docs, doc{path: abs, uri: lspclient.PathToURI(abs), text: string(data)})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := lspclient.Launch(ctx, lspclient.Config{
		Command:   cfg.Server.Command,
		DebugAddr: cfg.Server.DebugAddr,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("%w\n\n%s", err, installHint)
	}
	defer func() { _ = conn.Close() }()

	// One publishDiagnostics per opened document ends the wait. Later
	// re-publishes for the same URI replace the earlier set.
	results := make(chan lspclient.PublishDiagnosticsParams, len(docs))
	conn.OnNotification(lspclient.MethodPublishDiagnostics, func(params json.RawMessage) {
		var p lspclient.PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			logger.Error("bad publishDiagnostics params", "error", err)
			return
		}
		results <- p
	})

	if _, err := conn.Initialize(ctx, lspclient.PathToURI(cfg.ProjectRoot)); err != nil {
		return err
	}

	want := make(map[string]string, len(docs)) // uri -> path
	for _, d := range docs {
		if err := conn.OpenDocument(d.uri, d.text); err != nil {
			return fmt.Errorf("opening %s: %w", d.path, err)
		}
		want[d.uri] = d.path
	}

	collected := make(map[string][]lspclient.Diagnostic, len(docs))
	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()

	for len(collected) < len(want) {
		select {
		case p := <-results:
			if _, ok := want[p.URI]; !ok {
				continue
			}
			collected[p.URI] = p.Diagnostics
		case <-deadline.C:
			return fmt.Errorf("timed out after %s waiting for diagnostics (%d/%d templates reported)",
				opts.Timeout, len(collected), len(want))
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			if err := conn.Err(); err != nil {
				return fmt.Errorf("language server terminated: %w", err)
			}
			return fmt.Errorf("language server terminated unexpectedly")
		}
	}

	reports := make([]fileReport, 0, len(docs))
	errorCount := 0
	for _, d := range docs {
		diags := collected[d.uri]
		sort.SliceStable(diags, func(i, j int) bool {
			if diags[i].Range.Start.Line != diags[j].Range.Start.Line {
				return diags[i].Range.Start.Line < diags[j].Range.Start.Line
			}
			return diags[i].Range.Start.Character < diags[j].Range.Start.Character
		})
		for _, diag := range diags {
			if diag.Severity == lspclient.SeverityError {
				errorCount++
			}
		}
		reports = append(reports, fileReport{Path: d.path, Diagnostics: diags})
	}

	switch opts.Format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
	default:
		renderReports(cmd, reports)
	}

	if errorCount > 0 {
		return fmt.Errorf("%d error(s) found", errorCount)
	}
	return nil
}

func renderReports(cmd *cobra.Command, reports []fileReport) {
	out := cmd.OutOrStdout()
	for _, r := range reports {
		fmt.Fprintln(out, fileStyle.Render(r.Path))
		if len(r.Diagnostics) == 0 {
			fmt.Fprintln(out, "  no findings")
			fmt.Fprintln(out)
			continue
		}

		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.AppendHeader(table.Row{"Location", "Severity", "Code", "Message"})
		for _, d := range r.Diagnostics {
			loc := fmt.Sprintf("%d:%d", d.Range.Start.Line+1, d.Range.Start.Character+1)
			t.AppendRow(table.Row{loc, styleSeverity(d.Severity), codeString(d.Code), d.Message})
		}
		t.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Message", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		})
		t.SetStyle(table.StyleLight)
		t.Render()
		fmt.Fprintln(out)
	}
}

func styleSeverity(s lspclient.DiagnosticSeverity) string {
	switch s {
	case lspclient.SeverityError:
		return errorStyle.Render(s.String())
	case lspclient.SeverityWarning:
		return warningStyle.Render(s.String())
	case lspclient.SeverityInformation:
		return infoStyle.Render(s.String())
	case lspclient.SeverityHint:
		return hintStyle.Render(s.String())
	default:
		return s.String()
	}
}

// codeString flattens the diagnostic code, which the protocol allows to be a
// string or a number.
func codeString(code any) string {
	switch v := code.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
