package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cfnworks/cfnview/internal/cli/config"
	"github.com/cfnworks/cfnview/internal/lspclient"
	"github.com/cfnworks/cfnview/internal/preview"
	"github.com/cfnworks/cfnview/internal/settings"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// installHint is shown when the external linter is unusable.
const installHint = "Install or upgrade the linter with: pip install -U cfn-lint"

// NewPreviewCommand creates the preview command.
func NewPreviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview FILE...",
		Short: "Open dependency graph previews for CloudFormation templates",
		Long: `Open a side-by-side resource dependency graph preview for each template.

The external linter computes the graph and writes it next to the template;
cfnview renders it in the browser and keeps it in sync. The session ends
when every preview has been closed or on interrupt.`,
		Example: `  # Preview a template
  cfnview preview stack.yaml

  # Preview several templates and refresh on save
  cfnview preview --watch network.yaml compute.yaml

  # Fixed panel port, no browser launch
  cfnview preview --port 7411 --open-browser=false stack.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd, args)
		},
	}
	return cmd
}

// document is an open template tracked by the preview session.
type document struct {
	path    string // absolute filesystem path
	uri     string
	version int
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg := config.FromContext(cmd.Context())
	logger := config.GetLogger(cmd.Context())

	syncSettings(cfg, logger)

	docs := make([]*document, 0, len(args))
	texts := make(map[string]string, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", arg, err)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("reading template: %w", err)
		}
		d := &document{path: abs, uri: lspclient.PathToURI(abs), version: 1}
		docs = append(docs, d)
		texts[d.uri] = string(data)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := lspclient.Launch(ctx, lspclient.Config{
		Command:   cfg.Server.Command,
		DebugAddr: cfg.Server.DebugAddr,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("%w\n\nPreview and lint features are unavailable. %s", err, installHint)
	}
	defer func() { _ = conn.Close() }()

	host := preview.NewHost(preview.HostConfig{
		Port:        cfg.Preview.Port,
		OpenBrowser: cfg.Preview.OpenBrowser,
		Logger:      logger,
	})
	registry := preview.NewRegistry(host, conn, logger)
	host.SetCloseHandler(func(uri string) {
		if err := registry.Close(uri); err != nil {
			logger.Warn("closing preview", "uri", uri, "error", err)
		}
	})

	// The session ends once the last panel closes.
	allClosed := make(chan struct{})
	var closeOnce sync.Once
	registry.OnEmpty = func() {
		closeOnce.Do(func() { close(allClosed) })
	}

	conn.OnNotification(lspclient.MethodPreviewIsAvailable, func(params json.RawMessage) {
		var p lspclient.PreviewParams
		if err := json.Unmarshal(params, &p); err != nil {
			logger.Error("bad previewIsAvailable params", "error", err)
			return
		}
		if err := registry.HandlePreviewAvailable(p.DocumentURI); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	})
	conn.OnNotification(lspclient.MethodFileClosed, func(params json.RawMessage) {
		var p lspclient.PreviewParams
		if err := json.Unmarshal(params, &p); err != nil {
			logger.Error("bad fileClosed params", "error", err)
			return
		}
		registry.HandleFileClosed(p.DocumentURI)
	})
	conn.OnNotification(lspclient.MethodShowMessage, func(params json.RawMessage) {
		var p lspclient.ShowMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		logger.Log(ctx, p.Type.LogLevel(), "server message", "message", p.Message)
	})
	conn.OnNotification(lspclient.MethodPublishDiagnostics, func(params json.RawMessage) {
		var p lspclient.PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		logger.Debug("diagnostics", "uri", p.URI, "count", len(p.Diagnostics))
	})

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return host.Serve(egctx)
	})

	if _, err := conn.Initialize(ctx, lspclient.PathToURI(cfg.ProjectRoot)); err != nil {
		cancel()
		_ = eg.Wait()
		return err
	}

	for _, d := range docs {
		if err := conn.OpenDocument(d.uri, texts[d.uri]); err != nil {
			return fmt.Errorf("opening %s: %w", d.path, err)
		}
		if err := conn.RequestPreview(d.uri); err != nil {
			return fmt.Errorf("requesting preview for %s: %w", d.path, err)
		}
	}

	if cfg.Preview.Watch {
		eg.Go(func() error {
			return watchTemplates(egctx, docs, conn, logger)
		})
	}

	select {
	case <-ctx.Done():
		logger.Info("interrupted")
	case <-allClosed:
		logger.Info("all previews closed")
	case <-conn.Done():
		cancel()
		_ = eg.Wait()
		if err := conn.Err(); err != nil {
			return fmt.Errorf("language server terminated: %w", err)
		}
		return errors.New("language server terminated unexpectedly")
	}

	registry.CloseAll()
	cancel()
	if err := eg.Wait(); err != nil {
		return err
	}
	return nil
}

// syncSettings runs the non-interactive part of the configuration
// synchronizer: merge the intrinsic tag list when autocomplete is on, and
// point at `cfnview setup` when the validator settings are ambiguous.
func syncSettings(cfg *config.Config, logger *slog.Logger) {
	store, err := settings.DefaultStore()
	if err != nil {
		logger.Warn("settings unavailable", "error", err)
		return
	}
	st, err := store.Load()
	if err != nil {
		logger.Warn("settings unavailable", "error", err)
		return
	}
	if settings.SyncTags(st) {
		if err := store.Save(st); err != nil {
			logger.Warn("persisting custom tags", "error", err)
		} else {
			logger.Debug("custom tag list updated", "tags", len(st.Autocomplete.CustomTags))
		}
	}
	if settings.NeedsReconcile(st, cfg.Validation.Schema) {
		logger.Info("both YAML validators are active; run 'cfnview setup' to pick one")
	}
}

// watchTemplates re-requests previews when a watched template is saved.
// Events are debounced; editors tend to emit several writes per save.
func watchTemplates(ctx context.Context, docs []*document, conn *lspclient.Conn, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	byPath := make(map[string]*document, len(docs))
	dirs := make(map[string]struct{})
	for _, d := range docs {
		byPath[d.path] = d
		dirs[filepath.Dir(d.path)] = struct{}{}
	}
	// Watch parent directories, not files: most editors replace the file on
	// save, which drops a direct file watch.
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logger.Error("failed to watch directory", "dir", dir, "error", err)
		}
	}

	timers := make(map[string]*time.Timer)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event := <-watcher.Events:
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			d, ok := byPath[filepath.Clean(event.Name)]
			if !ok {
				continue
			}

			// Debounce per template
			if t, ok := timers[d.path]; ok {
				t.Stop()
			}
			timers[d.path] = time.AfterFunc(100*time.Millisecond, func() {
				data, err := os.ReadFile(d.path)
				if err != nil {
					logger.Warn("re-reading template", "path", d.path, "error", err)
					return
				}
				d.version++
				if err := conn.ChangeDocument(d.uri, d.version, string(data)); err != nil {
					logger.Warn("sending change", "path", d.path, "error", err)
					return
				}
				if err := conn.RequestPreview(d.uri); err != nil {
					logger.Warn("re-requesting preview", "path", d.path, "error", err)
					return
				}
				logger.Debug("template changed, preview re-requested", "path", d.path)
			})

		case err := <-watcher.Errors:
			logger.Error("watcher error", "error", err)
		}
	}
}
