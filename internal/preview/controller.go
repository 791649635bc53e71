// Package preview gates per-page rendering on viewport visibility and keeps
// each page's live element tree current through incremental patching. Pages
// are only fetched once they have been seen (a one-way latch), responses are
// deduplicated by monotonically increasing request id, and the loading
// affordance is delayed so fast re-renders never flicker.
package preview

import (
	"log/slog"
	gosync "sync"
	"time"

	"go-typeset-preview/internal/contracts"
	"go-typeset-preview/internal/patch"
)

// Sink receives the controller's output: patched page markup and loading
// state toggles. The transport layer implements it.
type Sink interface {
	PublishPage(page int, markup string, rev uint64)
	SetLoading(page int, loading bool)
}

// Options tune the controller. Zero values fall back to the defaults.
type Options struct {
	// LoadingThreshold is how long a fetch must be outstanding before the
	// loading affordance shows. Default 1s.
	LoadingThreshold time.Duration
	// EagerPages render on a document change even before they have been
	// seen, so the first screenful paints without waiting for visibility
	// reports. Default 10.
	EagerPages int
	// RootTag is the expected root element of a page markup payload.
	// Default "div".
	RootTag string
}

func (o *Options) defaults() {
	if o.LoadingThreshold <= 0 {
		o.LoadingThreshold = time.Second
	}
	if o.EagerPages <= 0 {
		o.EagerPages = 10
	}
	if o.RootTag == "" {
		o.RootTag = "div"
	}
}

// pageState is the per-page book-keeping. counter issues request ids,
// lastApplied gates stale responses, tree is the live element tree the
// patcher mutates in place.
type pageState struct {
	page         int
	intersecting bool
	canRender    bool
	lastApplied  uint64
	counter      uint64
	rev          uint64
	tree         patch.Tree

	loadingTimer *time.Timer
	loadingShown bool
}

// Controller owns the per-page state for the current document.
// Safe for concurrent use.
type Controller struct {
	fetcher contracts.RenderFetcher
	sink    Sink
	log     *slog.Logger
	opts    Options
	patcher *patch.Patcher

	mu        gosync.Mutex
	docHash   string
	scale     float64
	pageCount int
	pages     map[int]*pageState
}

// NewController wires the controller to its render source and output sink.
func NewController(fetcher contracts.RenderFetcher, sink Sink, logger *slog.Logger, opts Options) *Controller {
	opts.defaults()
	return &Controller{
		fetcher: fetcher,
		sink:    sink,
		log:     logger,
		opts:    opts,
		patcher: patch.NewPatcher(opts.RootTag),
		scale:   1.0,
		pages:   make(map[int]*pageState),
	}
}

// DocumentChanged installs a new compiled document. Pages beyond the new
// count are dropped; every renderable page is refetched because a changed
// document hash invalidates all previously fetched markup.
func (c *Controller) DocumentChanged(pageCount int, hash string) {
	c.mu.Lock()
	if hash == c.docHash && pageCount == c.pageCount {
		c.mu.Unlock()
		return
	}
	c.docHash = hash
	c.pageCount = pageCount
	for idx := range c.pages {
		if idx >= pageCount {
			c.dropPageLocked(idx)
		}
	}
	for idx := 0; idx < pageCount && idx < c.opts.EagerPages; idx++ {
		c.pageLocked(idx).canRender = true
	}
	fetches := c.collectRenderableLocked()
	c.mu.Unlock()

	for _, f := range fetches {
		go c.fetch(f.page, f.id, f.scale)
	}
}

// SetScale changes the preview zoom. All renderable pages are refetched at
// the new scale; in-flight responses for the old scale lose the id race and
// are discarded.
func (c *Controller) SetScale(scale float64) {
	c.mu.Lock()
	if scale <= 0 || scale == c.scale {
		c.mu.Unlock()
		return
	}
	c.scale = scale
	fetches := c.collectRenderableLocked()
	c.mu.Unlock()

	for _, f := range fetches {
		go c.fetch(f.page, f.id, f.scale)
	}
}

// SetVisibility records a viewport intersection change for a page. The first
// time a page becomes visible it is latched renderable and fetched; the latch
// never resets, so a page scrolled off-screen keeps updating on later
// document changes instead of thrashing between states.
func (c *Controller) SetVisibility(page int, intersecting bool) {
	c.mu.Lock()
	if page < 0 || page >= c.pageCount {
		c.mu.Unlock()
		return
	}
	st := c.pageLocked(page)
	st.intersecting = intersecting
	if !intersecting || st.canRender {
		c.mu.Unlock()
		return
	}
	st.canRender = true
	id := c.issueLocked(st)
	scale := c.scale
	c.mu.Unlock()

	go c.fetch(page, id, scale)
}

// Refresh refetches every renderable page at the current scale. Used when a
// preview client reconnects with empty state.
func (c *Controller) Refresh() {
	c.mu.Lock()
	for _, st := range c.pages {
		st.tree = patch.Tree{}
		st.lastApplied = 0
	}
	fetches := c.collectRenderableLocked()
	c.mu.Unlock()

	for _, f := range fetches {
		go c.fetch(f.page, f.id, f.scale)
	}
}

// Reset drops all page state, for document close.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx := range c.pages {
		c.dropPageLocked(idx)
	}
	c.docHash = ""
	c.pageCount = 0
}

type pendingFetch struct {
	page  int
	id    uint64
	scale float64
}

func (c *Controller) collectRenderableLocked() []pendingFetch {
	var fetches []pendingFetch
	for idx := 0; idx < c.pageCount; idx++ {
		st, ok := c.pages[idx]
		if !ok || !st.canRender {
			continue
		}
		fetches = append(fetches, pendingFetch{page: idx, id: c.issueLocked(st), scale: c.scale})
	}
	return fetches
}

func (c *Controller) pageLocked(page int) *pageState {
	st, ok := c.pages[page]
	if !ok {
		st = &pageState{page: page}
		c.pages[page] = st
	}
	return st
}

func (c *Controller) dropPageLocked(page int) {
	if st, ok := c.pages[page]; ok {
		if st.loadingTimer != nil {
			st.loadingTimer.Stop()
		}
		delete(c.pages, page)
	}
}

// issueLocked increments the page's request counter and arms the delayed
// loading affordance for the new fetch.
func (c *Controller) issueLocked(st *pageState) uint64 {
	st.counter++
	id := st.counter
	if st.loadingTimer != nil {
		st.loadingTimer.Stop()
	}
	page := st.page
	st.loadingTimer = time.AfterFunc(c.opts.LoadingThreshold, func() {
		c.showLoading(page, id)
	})
	return id
}

// showLoading fires from the loading timer. The affordance only shows when
// the fetch that armed it is still the newest and has not completed.
func (c *Controller) showLoading(page int, id uint64) {
	c.mu.Lock()
	st, ok := c.pages[page]
	if !ok || st.counter != id || st.lastApplied >= id {
		c.mu.Unlock()
		return
	}
	st.loadingShown = true
	c.mu.Unlock()
	c.sink.SetLoading(page, true)
}

// fetch performs one render round trip and applies the response.
func (c *Controller) fetch(page int, id uint64, scale float64) {
	resp, err := c.fetcher.RenderPage(page, scale, id)
	if err != nil {
		c.finishLoading(page)
		c.log.Warn("page render failed", "page", page, "requestId", id, "error", err)
		return
	}
	c.HandleResponse(page, resp)
}

// HandleResponse applies one render response. A response whose id is not
// greater than the last applied id lost the race to a newer request and is
// discarded, so stale content never lands even when responses arrive out of
// order.
func (c *Controller) HandleResponse(page int, resp contracts.RenderResponse) {
	c.mu.Lock()
	st, ok := c.pages[page]
	if !ok {
		c.mu.Unlock()
		return
	}
	if resp.RequestID <= st.lastApplied {
		c.mu.Unlock()
		c.log.Debug("stale render response discarded",
			"page", page, "requestId", resp.RequestID, "lastApplied", st.lastApplied)
		return
	}
	st.lastApplied = resp.RequestID

	result := c.patcher.Patch(&st.tree, resp.Markup, nil)
	var markup string
	var rev uint64
	publish := result.Changed
	if publish {
		st.rev++
		rev = st.rev
		markup = st.tree.Markup()
	}
	c.mu.Unlock()

	c.finishLoading(page)
	if publish {
		c.sink.PublishPage(page, markup, rev)
	}
}

// finishLoading disarms the loading timer and clears the affordance if it
// was shown.
func (c *Controller) finishLoading(page int) {
	c.mu.Lock()
	st, ok := c.pages[page]
	if !ok {
		c.mu.Unlock()
		return
	}
	if st.loadingTimer != nil {
		st.loadingTimer.Stop()
		st.loadingTimer = nil
	}
	shown := st.loadingShown
	st.loadingShown = false
	c.mu.Unlock()

	if shown {
		c.sink.SetLoading(page, false)
	}
}

// LastAppliedRequestID reports the newest applied request id for a page.
func (c *Controller) LastAppliedRequestID(page int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.pages[page]; ok {
		return st.lastApplied
	}
	return 0
}
