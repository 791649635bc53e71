// Package render turns typeset markup source into a paginated document: block
// fragments with source-line metadata, laid out onto fixed-size pages in point
// units, each page carrying a content-addressed identity tag for incremental
// patching.
package render

import (
	"bytes"
	_ "embed"
	"fmt"
	"hash/fnv"
	"sync"

	chromahtml "github.com/alecthomas/chroma/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	alertcallouts "github.com/zmtcreative/gm-alert-callouts"
)

// Block is one top-level block of the source document, rendered to a markup
// fragment. Lines are 1-based and inclusive.
type Block struct {
	StartLine int
	EndLine   int
	Kind      string
	HTML      string
	Hash      uint64
}

//go:embed page.html
var shellTemplate string

// Renderer wraps the goldmark pipeline and an incremental per-page render
// cache. Safe for concurrent use.
type Renderer struct {
	md goldmark.Markdown

	mu    sync.Mutex
	cache map[int]pageCacheEntry
}

type pageCacheEntry struct {
	frameHash uint64
	markup    string
}

// NewRenderer builds the goldmark pipeline with the preview extensions.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			alertcallouts.AlertCallouts,
			extension.GFM,
			extension.Table,
			extension.Strikethrough,
			extension.TaskList,
			extension.Linkify,
			highlighting.NewHighlighting(
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	return &Renderer{md: md, cache: make(map[int]pageCacheEntry)}
}

// ConvertBlocks parses the source and renders each top-level block to its own
// fragment, annotated with the source line range it came from.
func (r *Renderer) ConvertBlocks(source []byte) ([]Block, error) {
	doc := r.md.Parser().Parse(text.NewReader(source))

	var blocks []Block
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		start, ok := firstNodeOffset(n)
		if !ok {
			start = 0
		}
		end, ok := lastNodeOffset(n, source)
		if !ok {
			end = start
		}

		var buf bytes.Buffer
		if err := r.md.Renderer().Render(&buf, source, n); err != nil {
			return nil, fmt.Errorf("render block: %w", err)
		}
		htmlFragment := buf.String()

		blocks = append(blocks, Block{
			StartLine: offsetToLine(source, start),
			EndLine:   offsetToLine(source, end),
			Kind:      n.Kind().String(),
			HTML:      htmlFragment,
			Hash:      hash64(htmlFragment),
		})
	}
	return blocks, nil
}

// Shell returns the HTML page shell for the initial browser load. All content
// arrives later over the WebSocket.
func (r *Renderer) Shell() string {
	return shellTemplate
}

// Reset drops the incremental page cache. Called when the document is
// replaced wholesale (file switch).
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[int]pageCacheEntry)
}

// cachedPageMarkup returns the cached markup for a page when its frame hash is
// unchanged since the last render.
func (r *Renderer) cachedPageMarkup(page int, frameHash uint64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[page]
	if !ok || e.frameHash != frameHash {
		return "", false
	}
	return e.markup, true
}

func (r *Renderer) storePageMarkup(page int, frameHash uint64, markup string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[page] = pageCacheEntry{frameHash: frameHash, markup: markup}
}

// prunePages drops cache entries past the current page count.
func (r *Renderer) prunePages(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.cache {
		if k >= count {
			delete(r.cache, k)
		}
	}
}

// firstNodeOffset returns the byte offset of the first line of a node,
// recursing into children for container nodes whose own line list is empty.
func firstNodeOffset(n ast.Node) (int, bool) {
	if n == nil {
		return 0, false
	}
	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		return lines.At(0).Start, true
	}
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if offset, ok := firstNodeOffset(child); ok {
			return offset, true
		}
	}
	return 0, false
}

// lastNodeOffset returns the byte offset of the last line of a node.
func lastNodeOffset(n ast.Node, source []byte) (int, bool) {
	if n == nil {
		return 0, false
	}
	best := -1
	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		stop := lines.At(lines.Len() - 1).Stop
		if stop > 0 {
			stop--
		}
		best = stop
	}
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if offset, ok := lastNodeOffset(child, source); ok && offset > best {
			best = offset
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// offsetToLine converts a byte offset into a 1-based line number, clamping the
// offset to the source bounds.
func offsetToLine(source []byte, offset int) int {
	if offset < 0 {
		offset = 0
	}
	if offset > len(source) {
		offset = len(source)
	}
	return bytes.Count(source[:offset], []byte{'\n'}) + 1
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
