package sync

import (
	gosync "sync"

	"go-typeset-preview/internal/mapper"
)

// ViewKind names the two synchronized views.
type ViewKind string

const (
	ViewEditor  ViewKind = "editor"
	ViewPreview ViewKind = "preview"
)

// PendingScroll is a deferred synchronization instruction, written when the
// target view was not mounted or visible at the time of the source event and
// consumed by that view once it appears.
//
// An editor-sourced record targets the preview and carries the resolved
// document point; a preview-sourced record targets the editor and carries the
// target line.
type PendingScroll struct {
	Source   ViewKind
	Line     int
	Filepath string
	Preview  *mapper.DocumentPoint
}

// pendingCell is the single shared mutable cell holding the pending scroll.
// All access is mutex-guarded; reads that consume also clear, atomically.
type pendingCell struct {
	mu  gosync.Mutex
	rec *PendingScroll
}

func (c *pendingCell) set(rec PendingScroll) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec = &rec
}

// take returns and clears the pending record if one exists from the given
// source view for the given file. An empty filepath matches any record.
func (c *pendingCell) take(source ViewKind, filepath string) (PendingScroll, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec == nil || c.rec.Source != source {
		return PendingScroll{}, false
	}
	if filepath != "" && c.rec.Filepath != "" && c.rec.Filepath != filepath {
		return PendingScroll{}, false
	}
	rec := *c.rec
	c.rec = nil
	return rec, true
}

func (c *pendingCell) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec = nil
}
