// Package compiler owns the compile pipeline: source snapshots go in, a
// paginated Document comes out. Compiles are scheduled latest-wins (a new
// request cancels the in-flight one) and results are gated by a monotonic
// request id so a slow stale compile can never overwrite a newer document.
//
// The service also implements the position-resolution and render-fetch
// contracts against its current document snapshot.
package compiler

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go-typeset-preview/internal/contracts"
	"go-typeset-preview/internal/mapper"
	"go-typeset-preview/internal/render"
)

var (
	// ErrNoDocument means nothing has compiled successfully yet.
	ErrNoDocument = errors.New("compiler: no compiled document")
	// ErrPageOutOfRange means the requested page does not exist in the
	// current document.
	ErrPageOutOfRange = errors.New("compiler: page out of range")
)

// Request is one compile submission. RequestID must increase monotonically
// per submitter.
type Request struct {
	Path      string
	Content   string
	RequestID uint64
}

// Service runs compiles on a single worker goroutine.
type Service struct {
	renderer  *render.Renderer
	log       *slog.Logger
	onCompile func(contracts.CompileEvent)

	mu  sync.RWMutex
	doc *render.Document

	lastApplied atomic.Uint64

	pending chan Request

	lifeMu  sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	cancelMu sync.Mutex
	inFlight *atomic.Bool
}

// NewService starts the compile worker. onCompile is invoked from the worker
// goroutine after every compile attempt that was not superseded.
func NewService(renderer *render.Renderer, logger *slog.Logger, onCompile func(contracts.CompileEvent)) *Service {
	s := &Service{
		renderer:  renderer,
		log:       logger,
		onCompile: onCompile,
		pending:   make(chan Request, 1),
	}
	s.Start()
	return s
}

// Start launches the compile worker if it is not already running, so a
// stopped service can be brought back for a new preview session. Requests
// queued before the previous Close are dropped.
func (s *Service) Start() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.running {
		return
	}
	select {
	case <-s.pending:
	default:
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.run(s.stop, s.done)
}

// Submit schedules a compile. Any queued request is replaced and any in-flight
// compile is cancelled: only the newest source matters.
func (s *Service) Submit(req Request) {
	s.cancelMu.Lock()
	if s.inFlight != nil {
		s.inFlight.Store(true)
	}
	s.cancelMu.Unlock()

	for {
		select {
		case s.pending <- req:
			return
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

// Close stops the worker. Pending requests are dropped. Safe to call more
// than once; a later Start resumes service.
func (s *Service) Close() {
	s.lifeMu.Lock()
	if !s.running {
		s.lifeMu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.lifeMu.Unlock()

	close(stop)
	<-done
}

// Document returns the current compiled document, or nil before the first
// successful compile.
func (s *Service) Document() *render.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

func (s *Service) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case req := <-s.pending:
			token := new(atomic.Bool)
			s.cancelMu.Lock()
			s.inFlight = token
			s.cancelMu.Unlock()
			s.compile(req, token)
		}
	}
}

func (s *Service) compile(req Request, cancelled *atomic.Bool) {
	if cancelled.Load() {
		return
	}

	s.mu.RLock()
	prev := s.doc
	s.mu.RUnlock()
	if prev != nil && prev.Path != req.Path {
		// Page cache entries belong to the old file.
		s.renderer.Reset()
	}

	doc, err := s.renderer.RenderDocument(req.Path, []byte(req.Content))
	if cancelled.Load() {
		return
	}

	// fetch_max gate: a compile that lost the race to a newer request must
	// not publish its result.
	for {
		old := s.lastApplied.Load()
		if req.RequestID < old {
			s.log.Debug("discarding superseded compile",
				"request_id", req.RequestID, "last_applied", old)
			return
		}
		if s.lastApplied.CompareAndSwap(old, req.RequestID) {
			break
		}
	}

	if err != nil {
		s.log.Warn("compile failed", "path", req.Path, "error", err)
		s.emit(contracts.CompileEvent{
			Path: req.Path,
			Diagnostics: []contracts.Diagnostic{{
				Severity: contracts.SeverityError,
				Message:  err.Error(),
				Line:     1,
			}},
		})
		return
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	event := contracts.CompileEvent{
		Path: req.Path,
		Hash: doc.Hash,
	}
	for _, p := range doc.Pages {
		event.Pages = append(event.Pages, contracts.RenderedPage{
			Page:     p.Index,
			Hash:     p.TID,
			WidthPt:  p.WidthPt,
			HeightPt: p.HeightPt,
		})
	}
	s.log.Debug("compiled", "path", req.Path, "pages", len(doc.Pages), "hash", doc.Hash)
	s.emit(event)
}

func (s *Service) emit(event contracts.CompileEvent) {
	if s.onCompile != nil {
		s.onCompile(event)
	}
}

// PointForOffset implements contracts.Resolver. The byte offset is converted
// to a line against the submitted content, then resolved against the current
// document's layout. Best effort: a document lagging one compile behind the
// content still resolves to a nearby position.
func (s *Service) PointForOffset(path, content string, byteOffset uint) (mapper.DocumentPoint, bool) {
	doc := s.Document()
	if doc == nil {
		return mapper.DocumentPoint{}, false
	}
	if int(byteOffset) > len(content) {
		byteOffset = uint(len(content))
	}
	line := strings.Count(content[:byteOffset], "\n") + 1

	page, x, y, ok := doc.PointForLine(line)
	if !ok {
		return mapper.DocumentPoint{}, false
	}
	return mapper.DocumentPoint{Page: page, X: x, Y: y}, true
}

// SourceForPoint implements contracts.Resolver.
func (s *Service) SourceForPoint(page int, x, y float64) (contracts.SourcePosition, bool) {
	doc := s.Document()
	if doc == nil {
		return contracts.SourcePosition{}, false
	}
	line, ok := doc.LineForPoint(page, y)
	if !ok {
		return contracts.SourcePosition{}, false
	}
	return contracts.SourcePosition{File: doc.Path, Line: line, Column: 1}, true
}

// RenderPage implements contracts.RenderFetcher against the current document.
// The scale only affects the client-side raster; markup is scale-independent,
// so it participates in request identity but not in the payload.
func (s *Service) RenderPage(page int, scale float64, requestID uint64) (contracts.RenderResponse, error) {
	doc := s.Document()
	if doc == nil {
		return contracts.RenderResponse{}, ErrNoDocument
	}
	if page < 0 || page >= len(doc.Pages) {
		return contracts.RenderResponse{}, ErrPageOutOfRange
	}
	p := doc.Pages[page]
	return contracts.RenderResponse{
		Markup:    p.Markup,
		WidthPt:   p.WidthPt,
		HeightPt:  p.HeightPt,
		RequestID: requestID,
	}, nil
}
