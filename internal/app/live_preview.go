// Package app assembles the preview pipeline: compiler, page controller,
// transport and scroll coordinator, built from configuration at startup and
// torn down together. Everything downstream receives its collaborators
// explicitly, so tests can assemble partial pipelines.
package app

import (
	"log/slog"
	"path/filepath"
	gosync "sync"
	"sync/atomic"

	"go-typeset-preview/internal/compiler"
	"go-typeset-preview/internal/config"
	"go-typeset-preview/internal/contracts"
	"go-typeset-preview/internal/debounce"
	"go-typeset-preview/internal/diffstats"
	applog "go-typeset-preview/internal/log"
	"go-typeset-preview/internal/mapper"
	"go-typeset-preview/internal/preview"
	"go-typeset-preview/internal/render"
	syncer "go-typeset-preview/internal/sync"
	httptransport "go-typeset-preview/internal/transport/http"
)

// LivePreview owns the full pipeline between editor events and the browser
// preview.
type LivePreview struct {
	cfg config.Config
	log *slog.Logger

	renderer *render.Renderer
	compiler *compiler.Service
	server   *httptransport.PreviewServer
	pages    *preview.Controller
	coord    *syncer.Coordinator

	compileDeb *debounce.Debouncer
	requestID  atomic.Uint64

	mu            gosync.Mutex
	pendingPath   string
	pendingSource []byte
	baselines     map[string]string
}

// NewLivePreview builds the pipeline from configuration. AttachEditor must be
// called before Start.
func NewLivePreview(cfg config.Config, logger *slog.Logger) *LivePreview {
	lp := &LivePreview{
		cfg:       cfg,
		log:       logger,
		baselines: make(map[string]string),
	}

	lp.renderer = render.NewRenderer()
	lp.server = httptransport.NewPreviewServer(cfg.Server.Addr, lp.renderer.Shell(), applog.WithComponent(logger, "transport"))
	lp.compiler = compiler.NewService(lp.renderer, applog.WithComponent(logger, "compiler"), lp.onCompile)
	lp.pages = preview.NewController(lp.compiler, lp.server, applog.WithComponent(logger, "pages"), preview.Options{
		LoadingThreshold: config.Duration(cfg.Sync.LoadingThresholdMs),
	})
	lp.compileDeb = debounce.New(
		config.Duration(cfg.Sync.CompileDebounceMs),
		config.Duration(cfg.Sync.CompileMaxDelayMs),
		lp.submitPending,
	)
	return lp
}

// AttachEditor connects the editor surface and completes the sync wiring.
func (s *LivePreview) AttachEditor(editor syncer.EditorPort) {
	s.coord = syncer.NewCoordinator(editor, s.server, s.compiler, applog.WithComponent(s.log, "sync"), syncer.Options{
		CursorQuantum:     config.Duration(s.cfg.Sync.CursorDebounceMs),
		ScrollQuantum:     config.Duration(s.cfg.Sync.ScrollDebounceMs),
		PreviewQuantum:    config.Duration(s.cfg.Sync.PreviewDebounceMs),
		SuppressionWindow: config.Duration(s.cfg.Sync.SuppressionMs),
	})

	s.server.OnPreviewScroll = func(mapper.PreviewGeometry) {
		s.coord.OnPreviewScroll()
	}
	s.server.OnVisibility = s.pages.SetVisibility
	s.server.OnJump = func(page int, x, y float64) {
		pos, ok := s.compiler.SourceForPoint(page, x, y)
		if !ok {
			s.log.Debug("jump target unresolvable", "page", page, "x", x, "y", y)
			return
		}
		s.coord.ScrollToLine(pos.Line, pos.Column)
	}
	s.server.OnConnect = func() {
		s.pages.Refresh()
		s.coord.ApplyPendingScroll(syncer.ViewPreview)
	}
}

// Start launches the preview server and the compile worker. Brings a
// previously stopped pipeline back up.
func (s *LivePreview) Start() error {
	s.compiler.Start()
	return s.server.Start()
}

// Stop tears the pipeline down in reverse order of construction. The
// pipeline stays reusable: a later Start resumes it.
func (s *LivePreview) Stop() error {
	if s.coord != nil {
		s.coord.Flush()
		s.coord.Close()
	}
	s.compileDeb.Cancel()
	s.compiler.Close()
	return s.server.Stop()
}

// URL returns the browser URL for the preview.
func (s *LivePreview) URL() string {
	return s.server.URL()
}

// PublishSource schedules a recompile for the given buffer content. Rapid
// edits are debounced; a sustained typing burst still compiles at least once
// per max-delay interval.
func (s *LivePreview) PublishSource(source []byte, path string) {
	s.mu.Lock()
	if _, ok := s.baselines[path]; !ok {
		s.baselines[path] = string(source)
	}
	s.pendingPath = path
	s.pendingSource = source
	s.mu.Unlock()

	s.compileDeb.Call()
}

func (s *LivePreview) submitPending() {
	s.mu.Lock()
	path := s.pendingPath
	source := s.pendingSource
	s.mu.Unlock()
	if path == "" {
		return
	}
	s.compiler.Submit(compiler.Request{
		Path:      path,
		Content:   string(source),
		RequestID: s.requestID.Add(1),
	})
}

// OnCursorMoved forwards an editor cursor move into the coordinator.
func (s *LivePreview) OnCursorMoved() {
	if s.coord != nil {
		s.coord.OnEditorCursorMove()
	}
}

// OnEditorScrolled forwards a native editor scroll into the coordinator.
func (s *LivePreview) OnEditorScrolled() {
	if s.coord != nil {
		s.coord.OnEditorScroll()
	}
}

// EditorBecameVisible applies any scroll deferred while the editor was away.
func (s *LivePreview) EditorBecameVisible() {
	if s.coord != nil {
		s.coord.ApplyPendingScroll(syncer.ViewEditor)
	}
}

// ChangeStats reports line additions/removals of the current content against
// the baseline captured when the file was first published. Used for the
// editor's change indicator.
func (s *LivePreview) ChangeStats(path string, current []byte) diffstats.Stats {
	s.mu.Lock()
	baseline, ok := s.baselines[path]
	s.mu.Unlock()
	if !ok {
		return diffstats.Stats{}
	}
	return diffstats.Compute(baseline, string(current))
}

// ResetBaseline re-anchors the diff baseline, typically after a save.
func (s *LivePreview) ResetBaseline(path string, content []byte) {
	s.mu.Lock()
	s.baselines[path] = string(content)
	s.mu.Unlock()
}

// onCompile fans a compile result out to the transport and page controller.
func (s *LivePreview) onCompile(event contracts.CompileEvent) {
	s.server.PublishDiagnostics(event.Diagnostics)
	if event.Pages == nil {
		return
	}

	doc := s.compiler.Document()
	msg := contracts.DocumentMessage{
		Pages:    len(event.Pages),
		Hash:     event.Hash,
		Filename: filepath.Base(event.Path),
	}
	if doc != nil {
		msg.WidthPt = doc.WidthPt
		msg.HeightPt = doc.HeightPt
	}
	s.server.PublishDocument(msg)
	s.pages.DocumentChanged(len(event.Pages), event.Hash)
}
