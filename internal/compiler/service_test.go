package compiler

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go-typeset-preview/internal/contracts"
	"go-typeset-preview/internal/render"
)

func newTestService(t *testing.T) (*Service, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	s := NewService(render.NewRenderer(), slog.New(slog.DiscardHandler), rec.record)
	t.Cleanup(s.Close)
	return s, rec
}

type eventRecorder struct {
	mu     sync.Mutex
	events []contracts.CompileEvent
}

func (r *eventRecorder) record(e contracts.CompileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) wait(t *testing.T, n int) []contracts.CompileEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.events) >= n {
			out := append([]contracts.CompileEvent(nil), r.events...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d compile event(s)", n)
	return nil
}

func TestCloseIsIdempotentAndStartResumes(t *testing.T) {
	s, rec := newTestService(t)
	s.Submit(Request{Path: "/doc.md", Content: "first\n", RequestID: 1})
	rec.wait(t, 1)

	s.Close()
	s.Close() // second Close is a no-op, not a panic

	s.Start()
	s.Start() // already running, no second worker
	s.Submit(Request{Path: "/doc.md", Content: "second\n", RequestID: 2})
	rec.wait(t, 2)

	doc := s.Document()
	if doc == nil || !strings.Contains(doc.Source, "second") {
		t.Fatalf("document after restart = %+v, want the post-restart source", doc)
	}
}

func TestCompileProducesDocument(t *testing.T) {
	s, rec := newTestService(t)
	s.Submit(Request{Path: "/doc.md", Content: "# Hello\n\nworld\n", RequestID: 1})

	events := rec.wait(t, 1)
	e := events[0]
	if e.Hash == "" || len(e.Pages) != 1 {
		t.Fatalf("event = %+v, want one page with a hash", e)
	}
	if e.Pages[0].Hash == "" {
		t.Error("page hash is empty")
	}
	if s.Document() == nil {
		t.Fatal("no document snapshot after compile")
	}
}

func TestCompileLatestWins(t *testing.T) {
	s, rec := newTestService(t)
	for i := 1; i <= 20; i++ {
		s.Submit(Request{Path: "/doc.md", Content: fmt.Sprintf("revision %d\n", i), RequestID: uint64(i)})
	}

	// Bursts coalesce; whatever number of events fired, the final document
	// must be the newest revision.
	rec.wait(t, 1)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		doc := s.Document()
		if doc != nil && strings.Contains(doc.Source, "revision 20") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("final document is %q, want revision 20", s.Document().Source)
}

func TestCompileStaleRequestDiscarded(t *testing.T) {
	s, rec := newTestService(t)
	s.Submit(Request{Path: "/doc.md", Content: "newer\n", RequestID: 5})
	rec.wait(t, 1)

	// An out-of-order older request must not replace the newer document.
	s.Submit(Request{Path: "/doc.md", Content: "older\n", RequestID: 3})
	time.Sleep(100 * time.Millisecond)

	if got := s.Document().Source; got != "newer\n" {
		t.Errorf("document source = %q, want the newer revision kept", got)
	}
}

func TestRenderPage(t *testing.T) {
	s, rec := newTestService(t)

	if _, err := s.RenderPage(0, 1.0, 1); err != ErrNoDocument {
		t.Errorf("err = %v, want ErrNoDocument before first compile", err)
	}

	s.Submit(Request{Path: "/doc.md", Content: "# Hello\n", RequestID: 1})
	rec.wait(t, 1)

	resp, err := s.RenderPage(0, 1.5, 42)
	if err != nil {
		t.Fatalf("RenderPage: %v", err)
	}
	if resp.RequestID != 42 {
		t.Errorf("request id = %d, want echoed 42", resp.RequestID)
	}
	if !strings.Contains(resp.Markup, "data-tid") {
		t.Error("page markup missing identity tags")
	}

	if _, err := s.RenderPage(9, 1.0, 43); err != ErrPageOutOfRange {
		t.Errorf("err = %v, want ErrPageOutOfRange", err)
	}
}

func TestResolverRoundTrip(t *testing.T) {
	s, rec := newTestService(t)
	content := "# Title\n\npara one\n\npara two\n"
	s.Submit(Request{Path: "/doc.md", Content: content, RequestID: 1})
	rec.wait(t, 1)

	// Offset of "para two" (line 5).
	offset := uint(strings.Index(content, "para two"))
	pt, ok := s.PointForOffset("/doc.md", content, offset)
	if !ok {
		t.Fatal("offset should resolve to a document point")
	}

	pos, ok := s.SourceForPoint(pt.Page, pt.X, pt.Y)
	if !ok {
		t.Fatal("point should resolve back to a source position")
	}
	if pos.Line != 5 {
		t.Errorf("round trip line = %d, want 5", pos.Line)
	}
	if pos.File != "/doc.md" {
		t.Errorf("file = %q", pos.File)
	}
}

func TestResolverBeforeFirstCompile(t *testing.T) {
	s, _ := newTestService(t)
	if _, ok := s.PointForOffset("/doc.md", "x", 0); ok {
		t.Error("resolver should fail with no document")
	}
	if _, ok := s.SourceForPoint(0, 0, 0); ok {
		t.Error("reverse resolver should fail with no document")
	}
}
