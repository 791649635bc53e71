package render

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/yuin/goldmark/ast"
)

// Metrics drive the approximate page layout. All values are document points.
// The layout is an estimate, not a typesetting pass: its job is to give every
// source line a stable, monotonically increasing (page, y) position so scroll
// synchronization has something to aim at.
type Metrics struct {
	PageWidthPt  float64
	PageHeightPt float64
	MarginPt     float64
	LineHeightPt float64
	CharsPerLine int
}

// DefaultMetrics is an A4 page with 2cm margins and an 11pt body face.
func DefaultMetrics() Metrics {
	return Metrics{
		PageWidthPt:  595.28,
		PageHeightPt: 841.89,
		MarginPt:     56.7,
		LineHeightPt: 14,
		CharsPerLine: 88,
	}
}

// ContentHeight returns the usable vertical extent of a page.
func (m Metrics) ContentHeight() float64 {
	return m.PageHeightPt - 2*m.MarginPt
}

// PlacedBlock is a rendered block with its position on a page. YPt is
// relative to the page's top-left origin (margins included).
type PlacedBlock struct {
	Block
	YPt      float64
	HeightPt float64
}

// Page is one laid-out page with its content-addressed identity.
type Page struct {
	Index     int
	WidthPt   float64
	HeightPt  float64
	Blocks    []PlacedBlock
	FrameHash uint64
	TID       string
	Markup    string
}

// Document is the result of one compile: the full page layout plus the hash
// that invalidates previously fetched page content when it changes.
type Document struct {
	Path     string
	Source   string
	Hash     string
	WidthPt  float64
	HeightPt float64
	Pages    []*Page
	Metrics  Metrics
}

// RenderDocument compiles source into a paginated Document. Page markup is
// reused from the incremental cache whenever a page's frame hash is unchanged,
// so retyping one paragraph re-renders one page, not all of them.
func (r *Renderer) RenderDocument(path string, source []byte) (*Document, error) {
	blocks, err := r.ConvertBlocks(source)
	if err != nil {
		return nil, err
	}

	m := DefaultMetrics()
	pages := paginate(blocks, m)

	doc := &Document{
		Path:     path,
		Source:   string(source),
		WidthPt:  m.PageWidthPt,
		HeightPt: m.PageHeightPt,
		Pages:    pages,
		Metrics:  m,
	}

	docHasher := fnv.New128a()
	for _, p := range pages {
		p.TID = pageTID(p.Index, p.FrameHash)
		if markup, ok := r.cachedPageMarkup(p.Index, p.FrameHash); ok {
			p.Markup = markup
		} else {
			p.Markup = pageMarkup(p, m)
			r.storePageMarkup(p.Index, p.FrameHash, p.Markup)
		}
		fmt.Fprintf(docHasher, "%d:%016x;", p.Index, p.FrameHash)
	}
	r.prunePages(len(pages))

	doc.Hash = fmt.Sprintf("%x", docHasher.Sum(nil))
	return doc, nil
}

// paginate flows blocks top to bottom, breaking to a new page when a block
// would overflow the content area. A block taller than a whole page gets a
// page to itself and is clipped rather than split.
func paginate(blocks []Block, m Metrics) []*Page {
	pages := []*Page{newPage(0, m)}
	cur := pages[0]
	y := m.MarginPt

	for _, b := range blocks {
		h := estimateHeight(b, m)
		if y+h > m.PageHeightPt-m.MarginPt && y > m.MarginPt {
			cur = newPage(len(pages), m)
			pages = append(pages, cur)
			y = m.MarginPt
		}
		cur.Blocks = append(cur.Blocks, PlacedBlock{Block: b, YPt: y, HeightPt: h})
		y += h
	}

	for _, p := range pages {
		p.FrameHash = frameHash(p)
	}
	return pages
}

func newPage(index int, m Metrics) *Page {
	return &Page{Index: index, WidthPt: m.PageWidthPt, HeightPt: m.PageHeightPt}
}

// estimateHeight approximates a block's rendered height from its kind and
// source extent.
func estimateHeight(b Block, m Metrics) float64 {
	sourceLines := b.EndLine - b.StartLine + 1
	if sourceLines < 1 {
		sourceLines = 1
	}

	switch b.Kind {
	case ast.KindHeading.String():
		return 2*m.LineHeightPt + 10
	case ast.KindThematicBreak.String():
		return m.LineHeightPt
	case ast.KindFencedCodeBlock.String(), ast.KindCodeBlock.String():
		return float64(sourceLines)*m.LineHeightPt + 16
	case ast.KindParagraph.String():
		return float64(wrappedLines(b.HTML, m.CharsPerLine))*m.LineHeightPt + 8
	default:
		return float64(sourceLines)*m.LineHeightPt + 8
	}
}

// wrappedLines estimates how many visual lines a paragraph occupies once
// wrapped at the body measure. Tags are stripped crudely; this is an estimate.
func wrappedLines(htmlFragment string, charsPerLine int) int {
	if charsPerLine < 1 {
		charsPerLine = 1
	}
	chars := 0
	inTag := false
	for _, r := range htmlFragment {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			chars++
		}
	}
	lines := (chars + charsPerLine - 1) / charsPerLine
	if lines < 1 {
		lines = 1
	}
	return lines
}

// frameHash fingerprints a page's content and block placement.
func frameHash(p *Page) uint64 {
	h := fnv.New64a()
	for _, b := range p.Blocks {
		fmt.Fprintf(h, "%016x@%.2f:%.2f;", b.Hash, b.YPt, b.HeightPt)
	}
	return h.Sum64()
}

// pageTID formats a page's identity tag the same way for every render, so an
// unchanged page produces an identical tag.
func pageTID(index int, frameHash uint64) string {
	return fmt.Sprintf("p%d-%016x", index, frameHash)
}

func blockTID(hash uint64) string {
	return fmt.Sprintf("b-%016x", hash)
}

// pageMarkup serializes a laid-out page into the patchable markup payload: a
// div root carrying the page identity tag, one keyed wrapper per block.
func pageMarkup(p *Page, m Metrics) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		`<div class="page" data-tid="%s" style="width:%.2fpt;height:%.2fpt">`,
		p.TID, p.WidthPt, p.HeightPt)
	for _, pb := range p.Blocks {
		fmt.Fprintf(&b,
			`<div class="block" data-tid="%s" data-line="%d" style="position:absolute;left:%.2fpt;top:%.2fpt;width:%.2fpt">`,
			blockTID(pb.Hash), pb.StartLine, m.MarginPt, pb.YPt, m.PageWidthPt-2*m.MarginPt)
		b.WriteString(pb.HTML)
		b.WriteString("</div>")
	}
	b.WriteString("</div>")
	return b.String()
}

// PointForLine resolves a 1-based source line to a document point: the top of
// the line's position inside the block that contains it, or the bottom of the
// nearest preceding block when no block contains the line.
func (d *Document) PointForLine(line int) (page int, x, y float64, ok bool) {
	var fallbackPage = -1
	var fallbackY float64

	for _, p := range d.Pages {
		for _, b := range p.Blocks {
			if line >= b.StartLine && line <= b.EndLine {
				span := b.EndLine - b.StartLine + 1
				frac := float64(line-b.StartLine) / float64(span)
				return p.Index, d.Metrics.MarginPt, b.YPt + frac*b.HeightPt, true
			}
			if b.EndLine < line {
				fallbackPage = p.Index
				fallbackY = b.YPt + b.HeightPt
			}
		}
	}
	if fallbackPage >= 0 {
		return fallbackPage, d.Metrics.MarginPt, fallbackY, true
	}
	return 0, 0, 0, false
}

// LineForPoint resolves a document point back to a source line. Points in the
// margins snap to the nearest block edge on the page; points on a page with no
// blocks report false.
func (d *Document) LineForPoint(page int, y float64) (int, bool) {
	if page < 0 || page >= len(d.Pages) {
		return 0, false
	}
	p := d.Pages[page]
	if len(p.Blocks) == 0 {
		return 0, false
	}

	first := p.Blocks[0]
	if y < first.YPt {
		return first.StartLine, true
	}
	for _, b := range p.Blocks {
		if y >= b.YPt && y < b.YPt+b.HeightPt {
			span := b.EndLine - b.StartLine + 1
			line := b.StartLine + int(float64(span)*(y-b.YPt)/b.HeightPt)
			if line > b.EndLine {
				line = b.EndLine
			}
			return line, true
		}
	}
	last := p.Blocks[len(p.Blocks)-1]
	return last.EndLine, true
}
