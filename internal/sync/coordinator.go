// Package sync orchestrates bidirectional scroll/position synchronization
// between the source editor and the rendered preview. It owns the debouncing
// and suppression state that keeps the two views from chasing each other
// (editor scroll -> preview scroll -> editor scroll ...), and the pending
// scroll handoff used when the opposite view is not currently visible.
package sync

import (
	"log/slog"
	gosync "sync"
	"time"

	"go-typeset-preview/internal/contracts"
	"go-typeset-preview/internal/debounce"
	"go-typeset-preview/internal/mapper"
)

// State is the coordinator's synchronization state.
type State uint8

const (
	// StateIdle means no synchronization activity is in progress.
	StateIdle State = iota
	// StateProgrammaticJump means the coordinator itself is driving a scroll;
	// scroll events from the driven view are suppressed.
	StateProgrammaticJump
	// StateUserScrolling means a user-driven scroll burst is being coalesced.
	StateUserScrolling
)

// EditorPort is the editor surface the coordinator drives and samples.
type EditorPort interface {
	// ViewportSample reports the currently visible line range.
	ViewportSample() (mapper.ViewportSample, bool)
	// Cursor reports the current 1-based cursor position.
	Cursor() (line, col int, ok bool)
	// Buffer reports the current file path and full content snapshot.
	Buffer() (path, content string, ok bool)
	// ScrollToLine centers the editor on the given position.
	ScrollToLine(line, col int)
	// Visible reports whether the editor view is mounted and visible.
	Visible() bool
}

// PreviewPort is the preview surface the coordinator drives and samples.
type PreviewPort interface {
	// ScrollTo drives the preview container to an absolute scroll offset.
	ScrollTo(top, left float64)
	// Geometry reports the last known preview layout.
	Geometry() (mapper.PreviewGeometry, bool)
	// Visible reports whether a preview view is currently connected.
	Visible() bool
}

// Options tune the coordinator's debounce quanta and suppression window.
// Zero values fall back to the defaults.
type Options struct {
	CursorQuantum     time.Duration // cursor-move debounce, default 300ms
	ScrollQuantum     time.Duration // editor native-scroll coalescing, default 10ms
	PreviewQuantum    time.Duration // preview-scroll debounce, default 200ms
	SuppressionWindow time.Duration // programmatic-jump suppression, default 1s
}

func (o *Options) defaults() {
	if o.CursorQuantum <= 0 {
		o.CursorQuantum = 300 * time.Millisecond
	}
	if o.ScrollQuantum <= 0 {
		o.ScrollQuantum = 10 * time.Millisecond
	}
	if o.PreviewQuantum <= 0 {
		o.PreviewQuantum = 200 * time.Millisecond
	}
	if o.SuppressionWindow <= 0 {
		o.SuppressionWindow = time.Second
	}
}

// Coordinator is the per editor/preview pair synchronization state machine.
// Safe for concurrent use.
type Coordinator struct {
	editor   EditorPort
	preview  PreviewPort
	resolver contracts.Resolver
	log      *slog.Logger
	opts     Options

	cursorDeb  *debounce.Debouncer
	scrollDeb  *debounce.Debouncer
	previewDeb *debounce.Debouncer

	mu                  gosync.Mutex
	state               State
	suppressEditorUntil time.Time
	suppressPrevUntil   time.Time

	pending pendingCell

	// retryPending re-arms one ApplyPendingScroll retry when the target view
	// has no geometry yet.
	retryPending *time.Timer
}

// NewCoordinator wires the coordinator to its two views and the resolver.
func NewCoordinator(editor EditorPort, preview PreviewPort, resolver contracts.Resolver, logger *slog.Logger, opts Options) *Coordinator {
	opts.defaults()
	c := &Coordinator{
		editor:   editor,
		preview:  preview,
		resolver: resolver,
		log:      logger,
		opts:     opts,
	}
	c.cursorDeb = debounce.New(opts.CursorQuantum, 0, c.syncFromEditorCursor)
	c.scrollDeb = debounce.New(opts.ScrollQuantum, 0, c.syncFromEditorScroll)
	c.previewDeb = debounce.New(opts.PreviewQuantum, 0, c.syncFromPreviewScroll)
	return c
}

// Close cancels all pending debounced work and drops any deferred scroll.
// Safe to call more than once.
func (c *Coordinator) Close() {
	c.cursorDeb.Cancel()
	c.scrollDeb.Cancel()
	c.previewDeb.Cancel()
	c.pending.clear()
	c.mu.Lock()
	if c.retryPending != nil {
		c.retryPending.Stop()
		c.retryPending = nil
	}
	c.mu.Unlock()
}

// State returns the coordinator's current synchronization state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateProgrammaticJump && time.Now().After(c.latestSuppressionLocked()) {
		c.state = StateIdle
	}
	return c.state
}

func (c *Coordinator) latestSuppressionLocked() time.Time {
	if c.suppressEditorUntil.After(c.suppressPrevUntil) {
		return c.suppressEditorUntil
	}
	return c.suppressPrevUntil
}

// OnEditorCursorMove schedules an editor-cursor synchronization cycle.
func (c *Coordinator) OnEditorCursorMove() {
	c.cursorDeb.Call()
}

// OnEditorScroll schedules an editor-scroll synchronization cycle. Events
// arriving while a programmatic jump into the editor is in flight are dropped
// at fire time, not at schedule time, so the suppression window covers the
// whole debounce period.
func (c *Coordinator) OnEditorScroll() {
	c.scrollDeb.Call()
}

// OnPreviewScroll schedules a preview-scroll synchronization cycle.
func (c *Coordinator) OnPreviewScroll() {
	c.previewDeb.Call()
}

// ScrollToLine drives the editor to the given position as a programmatic
// jump, suppressing the editor-scroll feedback it causes.
func (c *Coordinator) ScrollToLine(line, col int) {
	c.beginJump(ViewEditor)
	c.editor.ScrollToLine(line, col)
}

// beginJump records a programmatic jump into the given view and starts its
// suppression window.
func (c *Coordinator) beginJump(target ViewKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateProgrammaticJump
	until := time.Now().Add(c.opts.SuppressionWindow)
	if target == ViewEditor {
		c.suppressEditorUntil = until
	} else {
		c.suppressPrevUntil = until
	}
}

func (c *Coordinator) suppressed(view ViewKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if view == ViewEditor {
		return time.Now().Before(c.suppressEditorUntil)
	}
	return time.Now().Before(c.suppressPrevUntil)
}

// syncFromEditorCursor resolves the cursor position and drives the preview
// (or records a pending scroll when no preview is connected).
func (c *Coordinator) syncFromEditorCursor() {
	line, col, ok := c.editor.Cursor()
	if !ok {
		return
	}
	c.syncEditorPosition(line, col)
}

// syncFromEditorScroll samples the center visible line only. Suppressed while
// a programmatic jump into the editor is active.
func (c *Coordinator) syncFromEditorScroll() {
	if c.suppressed(ViewEditor) {
		return
	}
	c.setStateIfIdle(StateUserScrolling)
	defer c.setStateIfWas(StateUserScrolling, StateIdle)

	sample, ok := c.editor.ViewportSample()
	if !ok {
		return
	}
	c.syncEditorPosition(sample.Center, 1)
}

func (c *Coordinator) syncEditorPosition(line, col int) {
	path, content, ok := c.editor.Buffer()
	if !ok {
		return
	}
	offset := mapper.LineToByteOffset(content, line, col)
	pt, ok := c.resolver.PointForOffset(path, content, offset)
	if !ok {
		// Expected and frequent: cursor in whitespace or an unmapped region.
		c.log.Debug("no document point for cursor", "line", line, "col", col)
		return
	}

	if c.preview.Visible() {
		c.centerPreviewOn(pt)
		return
	}
	c.pending.set(PendingScroll{
		Source:   ViewEditor,
		Line:     line,
		Filepath: path,
		Preview:  &pt,
	})
}

// centerPreviewOn converts a document point into an absolute preview scroll
// position using the last reported geometry and drives the preview there.
func (c *Coordinator) centerPreviewOn(pt mapper.DocumentPoint) {
	g, ok := c.preview.Geometry()
	if !ok {
		return
	}
	var pageRect mapper.Rect
	found := false
	for _, pb := range g.Pages {
		if pb.Page == pt.Page {
			pageRect = pb.Rect
			found = true
			break
		}
	}
	if !found {
		c.log.Debug("target page not in preview layout", "page", pt.Page)
		return
	}
	target := mapper.CenterScrollTarget(g.Container, pageRect, pt, g.Scale,
		mapper.ScrollPosition{Top: g.ScrollTop, Left: g.ScrollLeft})

	c.beginJump(ViewPreview)
	c.preview.ScrollTo(target.Top, target.Left)
}

// syncFromPreviewScroll samples three viewport points, resolves each to a
// source line independently and drives the editor to the mean of the resolved
// lines. A single sample is frequently misleading (inside a figure or a raw
// block); averaging the clean edges stabilizes the target.
func (c *Coordinator) syncFromPreviewScroll() {
	if c.suppressed(ViewPreview) {
		return
	}
	c.setStateIfIdle(StateUserScrolling)
	defer c.setStateIfWas(StateUserScrolling, StateIdle)

	g, ok := c.preview.Geometry()
	if !ok {
		return
	}

	samples := mapper.ResolveDocumentPoints(g)
	var lines []int
	var path string
	for _, pt := range samples {
		if pt == nil {
			continue
		}
		pos, ok := c.resolver.SourceForPoint(pt.Page, pt.X, pt.Y)
		if !ok {
			continue
		}
		lines = append(lines, pos.Line)
		path = pos.File
	}
	line, ok := mapper.MeanLine(lines)
	if !ok {
		c.log.Debug("no preview sample resolved to a source line")
		return
	}

	if c.editor.Visible() {
		c.beginJump(ViewEditor)
		c.editor.ScrollToLine(line, 1)
		return
	}
	c.pending.set(PendingScroll{Source: ViewPreview, Line: line, Filepath: path})
}

// ApplyPendingScroll is called when a view becomes visible. A pending record
// addressed to it (written by the opposite view) is applied and cleared. When
// the preview's layout is not available yet, one retry is armed a tick later
// before giving up.
func (c *Coordinator) ApplyPendingScroll(view ViewKind) {
	switch view {
	case ViewEditor:
		rec, ok := c.pending.take(ViewPreview, c.currentPath())
		if !ok {
			return
		}
		c.beginJump(ViewEditor)
		c.editor.ScrollToLine(rec.Line, 1)

	case ViewPreview:
		rec, ok := c.pending.take(ViewEditor, c.currentPath())
		if !ok || rec.Preview == nil {
			return
		}
		if _, hasGeometry := c.preview.Geometry(); !hasGeometry {
			// The page elements may not exist yet right after mount; retry
			// once on the next tick, then drop the record.
			pt := *rec.Preview
			c.mu.Lock()
			if c.retryPending != nil {
				c.retryPending.Stop()
			}
			c.retryPending = time.AfterFunc(50*time.Millisecond, func() {
				if _, ok := c.preview.Geometry(); ok {
					c.centerPreviewOn(pt)
				}
			})
			c.mu.Unlock()
			return
		}
		c.centerPreviewOn(*rec.Preview)
	}
}

// Flush fires any pending debounced synchronization immediately. Used before
// teardown so the last user action is not lost.
func (c *Coordinator) Flush() {
	c.cursorDeb.Flush()
	c.scrollDeb.Flush()
	c.previewDeb.Flush()
}

func (c *Coordinator) currentPath() string {
	path, _, ok := c.editor.Buffer()
	if !ok {
		return ""
	}
	return path
}

func (c *Coordinator) setStateIfIdle(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		c.state = s
	}
}

func (c *Coordinator) setStateIfWas(was, next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == was {
		c.state = next
	}
}
