// Package preview tracks live preview panels for CloudFormation templates.
//
// The external linter server computes a dependency graph per template and
// writes it to an artifact file next to the template before announcing it
// with a previewIsAvailable notification. This package owns the client side
// of that exchange: at most one panel per document identity, the artifact's
// on-disk lifetime, and the previewClosed notification back to the server.
package preview

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/cfnworks/cfnview/internal/lspclient"
)

// Panel is a display surface for a single template's graph. Implementations
// must tolerate Dispose being called more than once.
type Panel interface {
	// Show sets the initial graph description.
	Show(dot string) error
	// Refresh replaces the graph description in place.
	Refresh(dot string) error
	// Dispose tears the panel down.
	Dispose()
}

// PanelHost creates panels. In production this is the local web host; tests
// substitute fakes.
type PanelHost interface {
	OpenPanel(uri, title string) (Panel, error)
}

// NotificationSender reports panel closure to the server.
type NotificationSender interface {
	PreviewClosed(uri string) error
}

// Registry maps a document identity (canonical file URI) to its live panel.
// It is owned by the preview session and injected into notification handlers;
// there is no ambient shared state.
//
// Per-identity event ordering is guaranteed by the LSP connection's single
// reader goroutine; the mutex exists because user-close events arrive from
// HTTP handler goroutines.
type Registry struct {
	mu     sync.Mutex
	panels map[string]Panel

	host   PanelHost
	sender NotificationSender
	logger *slog.Logger

	// OnEmpty, when set, is called (outside the lock) each time the last
	// panel closes. The preview session uses it to know when to exit.
	OnEmpty func()
}

// NewRegistry creates an empty registry.
func NewRegistry(host PanelHost, sender NotificationSender, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		panels: make(map[string]Panel),
		host:   host,
		sender: sender,
		logger: logger,
	}
}

// HandlePreviewAvailable processes a previewIsAvailable notification. It
// reads the artifact for the document and either creates a panel or refreshes
// the existing one in place. A missing artifact leaves the registry unchanged
// and returns an error directing the user at the external tool.
func (r *Registry) HandlePreviewAvailable(uri string) error {
	docPath := lspclient.URIToPath(uri)
	dot, err := ReadArtifact(docPath)
	if err != nil {
		return fmt.Errorf("preview for %s: %w (install or upgrade cfn-lint to enable previews)", docPath, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.panels[uri]; ok {
		if err := p.Refresh(dot); err != nil {
			return fmt.Errorf("refreshing preview for %s: %w", docPath, err)
		}
		r.logger.Debug("preview refreshed", "uri", uri)
		return nil
	}

	p, err := r.host.OpenPanel(uri, filepath.Base(docPath))
	if err != nil {
		return fmt.Errorf("opening preview panel for %s: %w", docPath, err)
	}
	if err := p.Show(dot); err != nil {
		p.Dispose()
		return fmt.Errorf("showing preview for %s: %w", docPath, err)
	}
	r.panels[uri] = p
	r.logger.Info("preview panel opened", "uri", uri)
	return nil
}

// Close handles the user closing a panel: the entry is removed, the artifact
// deleted, and exactly one previewClosed notification sent. Closing an
// identity with no panel is a no-op.
func (r *Registry) Close(uri string) error {
	p, ok := r.take(uri)
	if !ok {
		return nil
	}
	p.Dispose()

	docPath := lspclient.URIToPath(uri)
	if err := RemoveArtifact(docPath); err != nil {
		r.logger.Warn("deleting preview artifact", "uri", uri, "error", err)
	}
	if err := r.sender.PreviewClosed(uri); err != nil {
		return fmt.Errorf("notifying server of closed preview: %w", err)
	}
	r.logger.Info("preview panel closed", "uri", uri)
	return nil
}

// HandleFileClosed processes the server's fileClosed notification: the panel
// for the identity is force-disposed without a further previewClosed
// notification. No panel is not an error; the server may report closure of a
// document that was never previewed or whose panel is already gone.
func (r *Registry) HandleFileClosed(uri string) {
	p, ok := r.take(uri)
	if !ok {
		return
	}
	p.Dispose()

	if err := RemoveArtifact(lspclient.URIToPath(uri)); err != nil {
		r.logger.Warn("deleting preview artifact", "uri", uri, "error", err)
	}
	r.logger.Info("preview panel disposed, source closed", "uri", uri)
}

// CloseAll closes every open panel as if the user had closed it.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	uris := make([]string, 0, len(r.panels))
	for uri := range r.panels {
		uris = append(uris, uri)
	}
	r.mu.Unlock()

	for _, uri := range uris {
		if err := r.Close(uri); err != nil {
			r.logger.Warn("closing preview panel", "uri", uri, "error", err)
		}
	}
}

// HasPanel reports whether a panel is open for the identity.
func (r *Registry) HasPanel(uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.panels[uri]
	return ok
}

// Count returns the number of open panels.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.panels)
}

// take removes and returns the panel for the identity. The OnEmpty callback
// fires after the lock is released when the removal emptied the registry.
func (r *Registry) take(uri string) (Panel, bool) {
	r.mu.Lock()
	p, ok := r.panels[uri]
	if ok {
		delete(r.panels, uri)
	}
	empty := ok && len(r.panels) == 0
	r.mu.Unlock()

	if empty && r.OnEmpty != nil {
		r.OnEmpty()
	}
	return p, ok
}
