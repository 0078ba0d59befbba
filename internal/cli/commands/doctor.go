package commands

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cfnworks/cfnview/internal/cli/config"
	"github.com/cfnworks/cfnview/internal/settings"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment for problems",
		Long: `Check that cfnview's environment is healthy.

Verifies that the external linter is installed and reachable, that it
reports a version, and that the global settings file is readable.`,
		Args: cobra.NoArgs,
		RunE: runDoctor,
	}
	return cmd
}

type checkResult struct {
	name   string
	status string // "ok", "warn", "fail"
	detail string
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg := config.FromContext(cmd.Context())
	out := cmd.OutOrStdout()

	results := []checkResult{
		checkServerBinary(cfg),
		checkServerVersion(cmd.Context(), cfg),
		checkSettings(),
		checkConfigFile(),
	}

	failed := 0
	for _, r := range results {
		var badge string
		switch r.status {
		case "ok":
			badge = okStyle.Render("OK")
		case "warn":
			badge = warnStyle.Render("WARN")
		default:
			badge = failStyle.Render("FAIL")
			failed++
		}
		fmt.Fprintf(out, "%-6s %s", badge, r.name)
		if r.detail != "" {
			fmt.Fprintf(out, ": %s", r.detail)
		}
		fmt.Fprintln(out)
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func checkServerBinary(cfg *config.Config) checkResult {
	name := "language server binary"
	if cfg.Server.DebugAddr != "" {
		return checkResult{name: name, status: "warn",
			detail: fmt.Sprintf("skipped, debug address %s configured", cfg.Server.DebugAddr)}
	}
	if len(cfg.Server.Command) == 0 {
		return checkResult{name: name, status: "fail", detail: "server.command is empty"}
	}
	path, err := exec.LookPath(cfg.Server.Command[0])
	if err != nil {
		return checkResult{name: name, status: "fail",
			detail: fmt.Sprintf("%q not found on PATH. %s", cfg.Server.Command[0], installHint)}
	}
	return checkResult{name: name, status: "ok", detail: path}
}

func checkServerVersion(ctx context.Context, cfg *config.Config) checkResult {
	name := "language server version"
	if cfg.Server.DebugAddr != "" || len(cfg.Server.Command) == 0 {
		return checkResult{name: name, status: "warn", detail: "skipped"}
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var buf bytes.Buffer
	c := exec.CommandContext(ctx, cfg.Server.Command[0], "--version")
	c.Stdout = &buf
	c.Stderr = &buf
	if err := c.Run(); err != nil {
		return checkResult{name: name, status: "fail",
			detail: fmt.Sprintf("%s --version failed: %v. %s", cfg.Server.Command[0], err, installHint)}
	}
	version := strings.TrimSpace(buf.String())
	if version == "" {
		return checkResult{name: name, status: "warn", detail: "no version reported"}
	}
	return checkResult{name: name, status: "ok", detail: version}
}

func checkSettings() checkResult {
	name := "global settings"
	store, err := settings.DefaultStore()
	if err != nil {
		return checkResult{name: name, status: "fail", detail: err.Error()}
	}
	st, err := store.Load()
	if err != nil {
		return checkResult{name: name, status: "fail", detail: err.Error()}
	}
	if !st.Autocomplete.Enabled {
		return checkResult{name: name, status: "warn",
			detail: fmt.Sprintf("autocomplete disabled (%s)", store.Path())}
	}
	merged := settings.MergeTags(st.Autocomplete.CustomTags)
	if len(merged) != len(st.Autocomplete.CustomTags) {
		return checkResult{name: name, status: "warn",
			detail: "intrinsic tag list out of date, run 'cfnview setup'"}
	}
	return checkResult{name: name, status: "ok", detail: store.Path()}
}

func checkConfigFile() checkResult {
	name := "project config"
	if f := config.GetConfigFileUsed(); f != "" {
		return checkResult{name: name, status: "ok", detail: f}
	}
	return checkResult{name: name, status: "warn", detail: "no cfnview.yaml found, using defaults"}
}
