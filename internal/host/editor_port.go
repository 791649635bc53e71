package host

import (
	"github.com/neovim/go-client/nvim"

	"go-typeset-preview/internal/mapper"
)

// Commands implements the coordinator's editor surface over nvim RPC.
// Viewport and cursor reads go to Neovim live; the buffer snapshot is the one
// cached at the last publish, so byte-offset math uses exactly the content
// the compiler saw.

func (c *Commands) client() *nvim.Nvim {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	return c.nv
}

func (c *Commands) ViewportSample() (mapper.ViewportSample, bool) {
	v := c.client()
	if v == nil {
		return mapper.ViewportSample{}, false
	}
	var first int
	if err := v.Eval(`line("w0")`, &first); err != nil {
		return mapper.ViewportSample{}, false
	}
	var last int
	if err := v.Eval(`line("w$")`, &last); err != nil {
		return mapper.ViewportSample{}, false
	}
	return mapper.VisibleLineSample(first, last)
}

func (c *Commands) Cursor() (line, col int, ok bool) {
	v := c.client()
	if v == nil {
		return 0, 0, false
	}
	if err := v.Eval(`line(".")`, &line); err != nil {
		return 0, 0, false
	}
	if err := v.Eval(`col(".")`, &col); err != nil {
		return 0, 0, false
	}
	return line, col, true
}

func (c *Commands) Buffer() (path, content string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" {
		return "", "", false
	}
	return c.path, string(c.content), true
}

func (c *Commands) ScrollToLine(line, col int) {
	v := c.client()
	if v == nil {
		return
	}
	if line < 1 {
		line = 1
	}
	if col < 1 {
		col = 1
	}

	win, err := v.CurrentWindow()
	if err != nil {
		return
	}
	// SetWindowCursor wants a 0-based byte column.
	if err := v.SetWindowCursor(win, [2]int{line, col - 1}); err != nil {
		return
	}
	_ = v.Command("normal! zz")

	c.mu.Lock()
	c.lastCursorLine = line
	c.lastCursorCol = col
	c.mu.Unlock()
}

func (c *Commands) Visible() bool {
	return c.client() != nil
}
