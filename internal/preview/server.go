package preview

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/cfnworks/cfnview/internal/preview/notifier"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/starfederation/datastar-go/datastar"
	"golang.org/x/sync/errgroup"
)

// viewerCloseGrace is how long a panel may have zero connected viewers before
// it counts as closed. Browser reloads (including refresh pushes) drop the
// SSE stream briefly; the grace period keeps those from reading as a close.
const viewerCloseGrace = 2 * time.Second

// HostConfig holds configuration for the panel web host.
type HostConfig struct {
	// Port to listen on; 0 picks an ephemeral port.
	Port int

	// OpenBrowser launches the default browser when a panel first shows.
	OpenBrowser bool

	Logger *slog.Logger
}

// Host serves preview panels over HTTP on the loopback interface. Each panel
// is a page identified by a UUID; an SSE stream per open tab delivers refresh
// pushes and doubles as presence detection for the user-closed transition.
type Host struct {
	port        int
	openBrowser bool
	logger      *slog.Logger
	notifier    *notifier.Notifier

	mu     sync.Mutex
	panels map[string]*webPanel

	onViewerClose func(uri string)

	ready chan struct{}
	addr  string
}

// NewHost creates a panel host. Serve must be called before panels become
// reachable.
func NewHost(cfg HostConfig) *Host {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Host{
		port:        cfg.Port,
		openBrowser: cfg.OpenBrowser,
		logger:      logger,
		notifier:    notifier.New(),
		panels:      make(map[string]*webPanel),
		ready:       make(chan struct{}),
	}
}

// SetCloseHandler registers the callback invoked when the viewer closes a
// panel's last tab. Wired to the registry's Close by the preview session.
func (h *Host) SetCloseHandler(fn func(uri string)) {
	h.onViewerClose = fn
}

// OpenPanel implements PanelHost.
func (h *Host) OpenPanel(uri, title string) (Panel, error) {
	p := &webPanel{
		host:  h,
		id:    uuid.NewString(),
		uri:   uri,
		title: title,
	}
	h.mu.Lock()
	h.panels[p.id] = p
	h.mu.Unlock()
	return p, nil
}

// Serve starts the host and blocks until the context is cancelled.
func (h *Host) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", h.port))
	if err != nil {
		return fmt.Errorf("listening for panel host: %w", err)
	}
	h.addr = ln.Addr().String()
	close(h.ready)
	h.logger.Info("panel host listening", "addr", "http://"+h.addr)

	r := chi.NewMux()
	r.Use(middleware.Recoverer)
	r.Get("/panel/{id}", h.panelPage)
	r.Get("/panel/{id}/events", h.panelEvents)

	srv := &http.Server{
		Handler: r,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("panel host: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		h.logger.Debug("shutting down panel host...")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// PanelURL returns the page URL for a panel id. Blocks until the host is
// listening.
func (h *Host) PanelURL(id string) string {
	<-h.ready
	return fmt.Sprintf("http://%s/panel/%s", h.addr, id)
}

func (h *Host) panel(id string) *webPanel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.panels[id]
}

func (h *Host) removePanel(id string) {
	h.mu.Lock()
	delete(h.panels, id)
	h.mu.Unlock()
	h.notifier.CloseTopic(id)
}

// panelPage serves the rendered preview page.
func (h *Host) panelPage(w http.ResponseWriter, r *http.Request) {
	p := h.panel(chi.URLParam(r, "id"))
	if p == nil {
		http.NotFound(w, r)
		return
	}

	dot := p.snapshot()
	page, err := RenderPage(PageData{
		Title:      p.title,
		DOT:        dot,
		EventsPath: "/panel/" + p.id + "/events",
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

// panelEvents is the per-tab SSE stream. Refresh pings reload the page; the
// stream ending with no reconnect within the grace period is the
// user-closed-panel transition.
func (h *Host) panelEvents(w http.ResponseWriter, r *http.Request) {
	p := h.panel(chi.URLParam(r, "id"))
	if p == nil {
		http.NotFound(w, r)
		return
	}

	p.streamStarted()
	ch := h.notifier.Subscribe(p.id)
	defer func() {
		h.notifier.Unsubscribe(p.id, ch)
		p.streamEnded()
	}()

	sse := datastar.NewSSE(w, r)
	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-ch:
			if !ok {
				// Panel disposed.
				return
			}
			if err := sse.ExecuteScript("window.location.reload()"); err != nil {
				_ = sse.ConsoleError(err)
				return
			}
		}
	}
}

// viewerClosed reports a panel close initiated from the browser side.
func (h *Host) viewerClosed(p *webPanel) {
	h.logger.Debug("viewer closed panel", "uri", p.uri)
	if h.onViewerClose != nil {
		h.onViewerClose(p.uri)
	}
}

// webPanel is the HTTP-served implementation of Panel.
type webPanel struct {
	host  *Host
	id    string
	uri   string
	title string

	mu        sync.Mutex
	dot       string
	streams   int
	announced bool
	disposed  bool
}

// Show implements Panel.
func (p *webPanel) Show(dot string) error {
	p.mu.Lock()
	p.dot = dot
	announce := !p.announced
	p.announced = true
	p.mu.Unlock()

	if announce {
		go p.announce()
	}
	return nil
}

// Refresh implements Panel.
func (p *webPanel) Refresh(dot string) error {
	p.mu.Lock()
	p.dot = dot
	p.mu.Unlock()
	p.host.notifier.Broadcast(p.id)
	return nil
}

// Dispose implements Panel. Idempotent.
func (p *webPanel) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.mu.Unlock()
	p.host.removePanel(p.id)
}

func (p *webPanel) snapshot() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dot
}

func (p *webPanel) streamStarted() {
	p.mu.Lock()
	p.streams++
	p.mu.Unlock()
}

func (p *webPanel) streamEnded() {
	p.mu.Lock()
	p.streams--
	p.mu.Unlock()

	time.AfterFunc(viewerCloseGrace, func() {
		p.mu.Lock()
		gone := p.streams == 0 && !p.disposed
		p.mu.Unlock()
		if gone {
			p.host.viewerClosed(p)
		}
	})
}

// announce logs the panel URL and optionally opens the browser.
func (p *webPanel) announce() {
	url := p.host.PanelURL(p.id)
	p.host.logger.Info("preview available", "title", p.title, "url", url)
	if p.host.openBrowser {
		if err := openURL(url); err != nil {
			p.host.logger.Warn("opening browser", "error", err)
		}
	}
}

// openURL opens a URL in the default browser.
func openURL(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
