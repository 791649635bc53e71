package preview

import (
	"fmt"
	"log/slog"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"go-typeset-preview/internal/contracts"
)

type publishRecord struct {
	page   int
	markup string
	rev    uint64
}

type loadingRecord struct {
	page    int
	loading bool
}

type recordingSink struct {
	mu       gosync.Mutex
	pages    []publishRecord
	loadings []loadingRecord
}

func (s *recordingSink) PublishPage(page int, markup string, rev uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, publishRecord{page, markup, rev})
}

func (s *recordingSink) SetLoading(page int, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadings = append(s.loadings, loadingRecord{page, loading})
}

func (s *recordingSink) publishes() []publishRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishRecord(nil), s.pages...)
}

func (s *recordingSink) loadingEvents() []loadingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loadingRecord(nil), s.loadings...)
}

// pageMarkup bakes the request id into the identity tag so every distinct
// request produces patchably different content.
func pageMarkup(page int, id uint64) string {
	return fmt.Sprintf(`<div class="page" data-tid="p%d-%016x"><div class="block" data-tid="b-1">body</div></div>`, page, id)
}

type stubFetcher struct {
	mu      gosync.Mutex
	release chan struct{} // when non-nil, RenderPage blocks until closed
	reqs    []uint64
}

func (f *stubFetcher) RenderPage(page int, scale float64, requestID uint64) (contracts.RenderResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, requestID)
	ch := f.release
	f.mu.Unlock()
	if ch != nil {
		<-ch
	}
	return contracts.RenderResponse{Markup: pageMarkup(page, requestID), RequestID: requestID}, nil
}

func (f *stubFetcher) requests() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.reqs...)
}

type failingFetcher struct{}

func (failingFetcher) RenderPage(int, float64, uint64) (contracts.RenderResponse, error) {
	return contracts.RenderResponse{}, fmt.Errorf("renderer unavailable")
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestEagerPagesFetchOnDocumentChange(t *testing.T) {
	fetcher := &stubFetcher{}
	sink := &recordingSink{}
	c := NewController(fetcher, sink, testLogger(), Options{EagerPages: 2})

	c.DocumentChanged(5, "h1")
	waitFor(t, func() bool { return len(sink.publishes()) == 2 })

	seen := map[int]bool{}
	for _, p := range sink.publishes() {
		seen[p.page] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("eager pages published = %v, want pages 0 and 1", seen)
	}
}

func TestVisibilityLatchTriggersFetch(t *testing.T) {
	fetcher := &stubFetcher{}
	sink := &recordingSink{}
	c := NewController(fetcher, sink, testLogger(), Options{EagerPages: 1})

	c.DocumentChanged(5, "h1")
	waitFor(t, func() bool { return len(sink.publishes()) == 1 })

	c.SetVisibility(3, true)
	waitFor(t, func() bool { return len(sink.publishes()) == 2 })

	got := sink.publishes()[1]
	if got.page != 3 {
		t.Errorf("published page %d, want 3", got.page)
	}
	if !strings.Contains(got.markup, "p3-") {
		t.Errorf("markup %q missing page identity tag", got.markup)
	}
}

func TestRenderLatchSurvivesScrollOff(t *testing.T) {
	fetcher := &stubFetcher{}
	sink := &recordingSink{}
	c := NewController(fetcher, sink, testLogger(), Options{EagerPages: 1})

	c.DocumentChanged(5, "h1")
	c.SetVisibility(3, true)
	waitFor(t, func() bool { return len(sink.publishes()) == 2 })

	// Page 3 scrolls off-screen, then the document recompiles. The latch
	// keeps it renderable so it updates anyway.
	c.SetVisibility(3, false)
	c.DocumentChanged(5, "h2")
	waitFor(t, func() bool {
		for _, p := range sink.publishes()[2:] {
			if p.page == 3 {
				return true
			}
		}
		return false
	})
}

func TestStaleResponseRejected(t *testing.T) {
	sink := &recordingSink{}
	c := NewController(failingFetcher{}, sink, testLogger(), Options{EagerPages: 1})
	c.DocumentChanged(1, "h1")

	// Request 6's response lands before request 5's.
	c.HandleResponse(0, contracts.RenderResponse{Markup: pageMarkup(0, 6), RequestID: 6})
	c.HandleResponse(0, contracts.RenderResponse{Markup: pageMarkup(0, 5), RequestID: 5})

	pubs := sink.publishes()
	if len(pubs) != 1 {
		t.Fatalf("publishes = %d, want 1 (stale response must not repaint)", len(pubs))
	}
	if !strings.Contains(pubs[0].markup, fmt.Sprintf("p0-%016x", 6)) {
		t.Errorf("displayed markup %q does not reflect request 6", pubs[0].markup)
	}
	if got := c.LastAppliedRequestID(0); got != 6 {
		t.Errorf("lastApplied = %d, want 6", got)
	}
}

func TestUnchangedResponseNotRepublished(t *testing.T) {
	sink := &recordingSink{}
	c := NewController(failingFetcher{}, sink, testLogger(), Options{EagerPages: 1})
	c.DocumentChanged(1, "h1")

	same := pageMarkup(0, 1)
	c.HandleResponse(0, contracts.RenderResponse{Markup: same, RequestID: 1})
	c.HandleResponse(0, contracts.RenderResponse{Markup: same, RequestID: 2})

	if got := len(sink.publishes()); got != 1 {
		t.Errorf("publishes = %d, want 1 (identical content must be skipped)", got)
	}
	if got := c.LastAppliedRequestID(0); got != 2 {
		t.Errorf("lastApplied = %d, want 2 (skip still advances the gate)", got)
	}
}

func TestScaleChangeRefetchesRenderablePages(t *testing.T) {
	fetcher := &stubFetcher{}
	sink := &recordingSink{}
	c := NewController(fetcher, sink, testLogger(), Options{EagerPages: 1})

	c.DocumentChanged(3, "h1")
	waitFor(t, func() bool { return len(fetcher.requests()) == 1 })

	c.SetScale(2.0)
	waitFor(t, func() bool { return len(fetcher.requests()) == 2 })

	if reqs := fetcher.requests(); reqs[1] <= reqs[0] {
		t.Errorf("scale refetch id %d not newer than %d", reqs[1], reqs[0])
	}
}

func TestLoadingAffordanceOnlyAfterThreshold(t *testing.T) {
	release := make(chan struct{})
	fetcher := &stubFetcher{release: release}
	sink := &recordingSink{}
	c := NewController(fetcher, sink, testLogger(), Options{EagerPages: 1, LoadingThreshold: 30 * time.Millisecond})

	c.DocumentChanged(1, "h1")

	time.Sleep(10 * time.Millisecond)
	if len(sink.loadingEvents()) != 0 {
		t.Fatal("loading shown before the threshold elapsed")
	}

	waitFor(t, func() bool {
		ev := sink.loadingEvents()
		return len(ev) == 1 && ev[0].loading
	})

	close(release)
	waitFor(t, func() bool {
		ev := sink.loadingEvents()
		return len(ev) == 2 && !ev[1].loading
	})
}

func TestFastResponseNeverShowsLoading(t *testing.T) {
	fetcher := &stubFetcher{}
	sink := &recordingSink{}
	c := NewController(fetcher, sink, testLogger(), Options{EagerPages: 1, LoadingThreshold: 50 * time.Millisecond})

	c.DocumentChanged(1, "h1")
	waitFor(t, func() bool { return len(sink.publishes()) == 1 })

	time.Sleep(80 * time.Millisecond)
	if got := sink.loadingEvents(); len(got) != 0 {
		t.Errorf("loading events = %v, want none for a fast render", got)
	}
}

func TestShrunkDocumentDropsPages(t *testing.T) {
	sink := &recordingSink{}
	c := NewController(failingFetcher{}, sink, testLogger(), Options{EagerPages: 1})

	c.DocumentChanged(3, "h1")
	c.SetVisibility(2, true)
	c.DocumentChanged(1, "h2")

	// A late response for the dropped page must be ignored.
	c.HandleResponse(2, contracts.RenderResponse{Markup: pageMarkup(2, 9), RequestID: 9})
	for _, p := range sink.publishes() {
		if p.page == 2 {
			t.Error("dropped page was published")
		}
	}
	if got := c.LastAppliedRequestID(2); got != 0 {
		t.Errorf("dropped page lastApplied = %d, want 0", got)
	}
}
