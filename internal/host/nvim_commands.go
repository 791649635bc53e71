package host

import (
	"bytes"
	"fmt"
	gosync "sync"

	"github.com/neovim/go-client/nvim"
	"github.com/neovim/go-client/nvim/plugin"

	"go-typeset-preview/internal/app"
	"go-typeset-preview/internal/config"
	applog "go-typeset-preview/internal/log"
)

// Commands is a state container for Neovim command handlers. It tracks the
// active buffer, delegates preview functionality to the LivePreview service
// and doubles as the coordinator's editor surface.
type Commands struct {
	preview *app.LivePreview

	mu      gosync.Mutex
	active  bool
	nv      *nvim.Nvim
	path    string
	content []byte

	lastCursorLine int
	lastCursorCol  int
}

func NewCommands() (*Commands, error) {
	cfg, err := config.Load()
	if err != nil {
		// A broken config file falls back to defaults; the plugin must not
		// refuse to start over it.
		cfg = config.Defaults()
	}
	logger := applog.New(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})

	c := &Commands{}
	c.preview = app.NewLivePreview(cfg, logger)
	c.preview.AttachEditor(c)
	return c, nil
}

// Register registers Neovim command/function handlers.
func Register(p *plugin.Plugin) error {
	commands, err := NewCommands()
	if err != nil {
		return err
	}

	p.Handle("poll", func() (string, error) {
		return "ok", nil
	})

	p.HandleCommand(&plugin.CommandOptions{
		Name: "TypesetPreviewStart",
	}, commands.Start)

	p.HandleCommand(&plugin.CommandOptions{
		Name: "TypesetPreviewStop",
	}, commands.Stop)

	p.HandleFunction(&plugin.FunctionOptions{
		Name: "TypesetPreviewInternalUpdate",
	}, commands.Update)

	p.HandleFunction(&plugin.FunctionOptions{
		Name: "TypesetPreviewInternalCursor",
	}, commands.CursorMoved)

	p.HandleFunction(&plugin.FunctionOptions{
		Name: "TypesetPreviewInternalScroll",
	}, commands.Scrolled)

	p.HandleFunction(&plugin.FunctionOptions{
		Name: "TypesetPreviewInternalSaved",
	}, commands.Saved)

	return nil
}

func (c *Commands) Start(v *nvim.Nvim) error {
	c.mu.Lock()
	c.active = true
	c.nv = v
	c.lastCursorLine = 0
	c.lastCursorCol = 0
	c.mu.Unlock()

	if err := c.preview.Start(); err != nil {
		return err
	}

	if err := c.publishBuffer(v); err != nil {
		return err
	}
	c.preview.EditorBecameVisible()

	return v.Command(fmt.Sprintf(`echom "[typeset-preview] preview: %s"`, c.preview.URL()))
}

func (c *Commands) Stop(v *nvim.Nvim) error {
	c.mu.Lock()
	wasActive := c.active
	c.active = false
	c.mu.Unlock()

	if !wasActive {
		return nil
	}
	return c.preview.Stop()
}

func (c *Commands) Update(v *nvim.Nvim) error {
	if !c.isActive() {
		return nil
	}
	if err := c.publishBuffer(v); err != nil {
		return err
	}
	return c.publishChangeStats(v)
}

func (c *Commands) CursorMoved(v *nvim.Nvim) error {
	if !c.isActive() {
		return nil
	}

	var line int
	if err := v.Eval(`line(".")`, &line); err != nil {
		return err
	}
	var col int
	if err := v.Eval(`col(".")`, &col); err != nil {
		return err
	}

	c.mu.Lock()
	same := line == c.lastCursorLine && col == c.lastCursorCol
	c.lastCursorLine = line
	c.lastCursorCol = col
	c.mu.Unlock()
	if same {
		return nil
	}

	c.preview.OnCursorMoved()
	return nil
}

func (c *Commands) Scrolled(v *nvim.Nvim) error {
	if !c.isActive() {
		return nil
	}
	c.preview.OnEditorScrolled()
	return nil
}

// Saved re-anchors the change indicator baseline after a write.
func (c *Commands) Saved(v *nvim.Nvim) error {
	if !c.isActive() {
		return nil
	}

	c.mu.Lock()
	path := c.path
	content := c.content
	c.mu.Unlock()
	if path == "" {
		return nil
	}

	c.preview.ResetBaseline(path, content)
	return c.publishChangeStats(v)
}

func (c *Commands) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Commands) publishBuffer(v *nvim.Nvim) error {
	buf, err := v.CurrentBuffer()
	if err != nil {
		return nil
	}

	lines, err := v.BufferLines(buf, 0, -1, true)
	if err != nil {
		return err
	}
	path, err := v.BufferName(buf)
	if err != nil {
		return err
	}

	source := bytes.Join(lines, []byte("\n"))
	c.mu.Lock()
	c.path = path
	c.content = source
	c.mu.Unlock()

	c.preview.PublishSource(source, path)
	return nil
}

// publishChangeStats exposes the added/removed line counts against the
// session baseline as a vim variable for statusline integrations.
func (c *Commands) publishChangeStats(v *nvim.Nvim) error {
	c.mu.Lock()
	path := c.path
	content := c.content
	c.mu.Unlock()
	if path == "" {
		return nil
	}

	stats := c.preview.ChangeStats(path, content)
	return v.SetVar("typeset_preview_diff", map[string]uint{
		"added":   stats.Added,
		"removed": stats.Removed,
	})
}
