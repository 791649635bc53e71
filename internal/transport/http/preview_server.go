// Package httpserver handles all message traffic between Neovim and the browser.
package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-typeset-preview/internal/contracts"
	"go-typeset-preview/internal/mapper"
)

// PreviewServer coordinates HTTP serving and WebSocket updates. Document,
// page and scroll messages funnel through a single run loop goroutine, so
// websocket writes and replay state never race.
type PreviewServer struct {
	addr  string
	shell string
	log   *slog.Logger

	// OnPreviewScroll receives user scrolls with fresh view geometry.
	OnPreviewScroll func(mapper.PreviewGeometry)
	// OnVisibility receives per-page viewport intersection changes.
	OnVisibility func(page int, intersecting bool)
	// OnJump receives double-click jump requests on a rendered page.
	OnJump func(page int, x, y float64)
	// OnConnect fires from the run loop after a browser finished the replay
	// handshake, so pending work gated on a visible preview can be applied.
	OnConnect func()

	browserInbound chan []byte
	outbound       chan any
	register       chan *websocket.Conn
	unregister     chan *websocket.Conn

	// stateMu guards the lifecycle fields and the read-side state of
	// PreviewPort. started/server/stopLoop are recreated on every Start so
	// stop followed by start yields a working pipeline again.
	stateMu   gosync.Mutex
	started   bool
	server    *http.Server
	stopLoop  chan struct{}
	connected bool
	lastGeom  *mapper.PreviewGeometry

	upgrader websocket.Upgrader
}

// NewPreviewServer creates an HTTP/WebSocket preview server bound to addr.
func NewPreviewServer(addr, shell string, logger *slog.Logger) *PreviewServer {
	return &PreviewServer{
		addr:  addr,
		shell: shell,
		log:   logger,

		browserInbound: make(chan []byte, 64),
		outbound:       make(chan any, 64),
		register:       make(chan *websocket.Conn),
		unregister:     make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// URL returns the browser URL for the preview server.
func (m *PreviewServer) URL() string {
	return "http://" + m.addr
}

// Start launches the HTTP server and the run loop. Idempotent while running;
// after a Stop it brings up a fresh server and loop.
func (m *PreviewServer) Start() error {
	m.stateMu.Lock()
	if m.started {
		m.stateMu.Unlock()
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleIndex)
	mux.HandleFunc("/ws", m.handleWS)

	server := &http.Server{Addr: m.addr, Handler: mux}
	stopLoop := make(chan struct{})
	m.server = server
	m.stopLoop = stopLoop
	m.started = true
	m.stateMu.Unlock()

	go m.runLoop(stopLoop)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error("preview server stopped", "error", err)
		}
	}()
	m.log.Info("preview server listening", "url", m.URL())
	return nil
}

// Stop gracefully shuts down the HTTP server and run loop. Safe to call more
// than once.
func (m *PreviewServer) Stop() error {
	m.stateMu.Lock()
	if !m.started || m.server == nil {
		m.stateMu.Unlock()
		return nil
	}
	server := m.server
	stopLoop := m.stopLoop
	m.started = false
	m.server = nil
	m.stopLoop = nil
	m.stateMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := server.Shutdown(ctx)

	close(stopLoop)
	return err
}

// PublishDocument announces a newly compiled document. The run loop drops
// replayable page state from the previous document.
func (m *PreviewServer) PublishDocument(msg contracts.DocumentMessage) {
	msg.Type = contracts.MessageTypeDocument
	m.send(msg)
}

// PublishPage delivers one page's patched markup to the browser.
// Implements the page controller's output sink.
func (m *PreviewServer) PublishPage(page int, markup string, rev uint64) {
	m.send(contracts.PageMessage{
		Type:   contracts.MessageTypePage,
		Page:   page,
		Markup: markup,
		Rev:    rev,
	})
}

// SetLoading toggles the loading affordance for one page.
func (m *PreviewServer) SetLoading(page int, loading bool) {
	m.send(contracts.LoadingMessage{
		Type:    contracts.MessageTypeLoading,
		Page:    page,
		Loading: loading,
	})
}

// PublishDiagnostics delivers compile diagnostics to the preview.
func (m *PreviewServer) PublishDiagnostics(diags []contracts.Diagnostic) {
	m.send(contracts.DiagnosticsMessage{
		Type:        contracts.MessageTypeDiagnostics,
		Diagnostics: diags,
	})
}

// ScrollTo drives the preview container to an absolute scroll offset.
// Implements the coordinator's preview port.
func (m *PreviewServer) ScrollTo(top, left float64) {
	m.send(contracts.ScrollToMessage{
		Type: contracts.MessageTypeScrollTo,
		Top:  top,
		Left: left,
	})
}

// Geometry returns the last view geometry reported by the browser.
func (m *PreviewServer) Geometry() (mapper.PreviewGeometry, bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.lastGeom == nil {
		return mapper.PreviewGeometry{}, false
	}
	return *m.lastGeom, true
}

// Visible reports whether a browser is currently connected.
func (m *PreviewServer) Visible() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.connected
}

func (m *PreviewServer) send(msg any) {
	m.stateMu.Lock()
	started := m.started
	m.stateMu.Unlock()
	if !started {
		return
	}
	select {
	case m.outbound <- msg:
	default:
		m.log.Warn("outbound queue full, dropping message")
	}
}

// handleIndex serves the initial HTML shell.
func (m *PreviewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(m.shell))
}

// handleWS upgrades the connection and forwards browser messages to the loop.
func (m *PreviewServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	session := uuid.NewString()
	m.log.Info("preview client connected", "session", session, "remote", r.RemoteAddr)

	m.register <- conn
	defer func() {
		m.unregister <- conn
		m.log.Info("preview client disconnected", "session", session)
	}()

	// Block here until the connection closes / errors out
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		m.browserInbound <- msg
	}
}

// runLoop serializes state updates and websocket writes on a single
// goroutine. It keeps the latest document announcement, per-page markup and
// diagnostics for replay, so a browser connecting late (or reconnecting)
// receives the full current state without a recompile.
func (m *PreviewServer) runLoop(stopLoop <-chan struct{}) {
	var conn *websocket.Conn

	var lastDoc *contracts.DocumentMessage
	lastPages := make(map[int]contracts.PageMessage)
	var lastDiags *contracts.DiagnosticsMessage

	disconnect := func() {
		conn = nil
		m.setConnected(false)
	}

	for {
		select {
		case msg := <-m.outbound:
			switch v := msg.(type) {
			case contracts.DocumentMessage:
				lastDoc = &v
				for k := range lastPages {
					delete(lastPages, k)
				}
			case contracts.PageMessage:
				lastPages[v.Page] = v
			case contracts.DiagnosticsMessage:
				lastDiags = &v
			}

			if conn == nil {
				continue
			}
			if !m.writeJSON(conn, msg) {
				disconnect()
			}

		case c := <-m.register:
			if conn != nil {
				_ = conn.Close()
			}
			conn = c
			m.setConnected(true)

			if !m.replay(conn, lastDoc, lastPages, lastDiags) {
				disconnect()
				continue
			}
			if m.OnConnect != nil {
				m.OnConnect()
			}

		case c := <-m.unregister:
			if conn == c {
				_ = conn.Close()
				disconnect()
			}

		case raw := <-m.browserInbound:
			m.dispatch(raw)

		case <-stopLoop:
			if conn != nil {
				_ = conn.Close()
				disconnect()
			}
			return
		}
	}
}

// replay pushes the retained document state to a freshly connected browser.
func (m *PreviewServer) replay(conn *websocket.Conn, doc *contracts.DocumentMessage, pages map[int]contracts.PageMessage, diags *contracts.DiagnosticsMessage) bool {
	if doc != nil {
		if !m.writeJSON(conn, *doc) {
			return false
		}
	}
	for _, p := range pages {
		if !m.writeJSON(conn, p) {
			return false
		}
	}
	if diags != nil {
		if !m.writeJSON(conn, *diags) {
			return false
		}
	}
	return true
}

// dispatch routes one raw browser message to its registered callback.
func (m *PreviewServer) dispatch(raw []byte) {
	var envelope contracts.IncomingMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case contracts.MessageTypePreviewScroll:
		var msg contracts.PreviewScrollMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		m.stateMu.Lock()
		g := msg.Geometry
		m.lastGeom = &g
		m.stateMu.Unlock()
		if m.OnPreviewScroll != nil {
			m.OnPreviewScroll(msg.Geometry)
		}

	case contracts.MessageTypeVisibility:
		var msg contracts.VisibilityMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		if m.OnVisibility != nil {
			m.OnVisibility(msg.Page, msg.Intersecting)
		}

	case contracts.MessageTypeJump:
		var msg contracts.JumpMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		if m.OnJump != nil {
			m.OnJump(msg.Page, msg.X, msg.Y)
		}
	}
}

func (m *PreviewServer) setConnected(v bool) {
	m.stateMu.Lock()
	m.connected = v
	if !v {
		m.lastGeom = nil
	}
	m.stateMu.Unlock()
}

// writeJSON writes a JSON message and reports whether the connection is usable.
func (m *PreviewServer) writeJSON(conn *websocket.Conn, v any) bool {
	if err := conn.WriteJSON(v); err != nil {
		_ = conn.Close()
		return false
	}
	return true
}
