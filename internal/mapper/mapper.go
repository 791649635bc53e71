// Package mapper converts between editor positions (line, column) and
// rendered-document positions (page, x, y in points). All functions are pure;
// callers feed in viewport geometry reported by the views.
package mapper

import (
	"math"
	"strings"
	"unicode/utf8"
)

// pageSlackPx widens the vertical hit band of a page so offsets that land in
// the gap between two pages still resolve to the nearer page.
const pageSlackPx = 20.0

// ViewportSample captures the visible line range of an editor window.
// Lines are 1-based.
type ViewportSample struct {
	Top    int
	Center int
	Bottom int
}

// VisibleLineSample derives a ViewportSample from the first and last visible
// lines of an editor window. It reports false when the editor has no visible
// range yet (not laid out, or an inverted range from a transient state).
func VisibleLineSample(first, last int) (ViewportSample, bool) {
	if first < 1 || last < first {
		return ViewportSample{}, false
	}
	return ViewportSample{
		Top:    first,
		Center: (first + last) / 2,
		Bottom: last,
	}, true
}

// LineToByteOffset converts a 1-based (line, column) position into a UTF-8
// byte offset into content. Column counts characters, not bytes; the offset is
// the encoded length of the buffer prefix up to that position, so multi-byte
// characters before the cursor are counted in bytes.
func LineToByteOffset(content string, line, column int) uint {
	if line < 1 {
		line = 1
	}
	if column < 1 {
		column = 1
	}

	var offset uint
	rest := content
	for l := 1; l < line; l++ {
		idx := strings.IndexByte(rest, '\n')
		if idx < 0 {
			// Position is past the last line; clamp to end of buffer.
			return uint(len(content))
		}
		offset += uint(idx) + 1
		rest = rest[idx+1:]
	}

	lineText := rest
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		lineText = rest[:idx]
	}

	chars := 0
	for _, r := range lineText {
		if chars >= column-1 {
			break
		}
		offset += uint(utf8.RuneLen(r))
		chars++
	}
	return offset
}

// Rect is an axis-aligned rectangle in pixel coordinates as reported by the
// preview view.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bottom returns the y coordinate of the rectangle's lower edge.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Right returns the x coordinate of the rectangle's right edge.
func (r Rect) Right() float64 { return r.Left + r.Width }

// PageBox is the on-screen rectangle of a rendered page, in the same pixel
// coordinate space as the pages container.
type PageBox struct {
	Page int  `json:"page"`
	Rect Rect `json:"rect"`
}

// DocumentPoint is a location in the rendered document in page-relative point
// units, independent of the current scale.
type DocumentPoint struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// PreviewGeometry is a snapshot of the preview view's layout, reported by the
// view on every scroll and resize.
type PreviewGeometry struct {
	Container  Rect      `json:"container"`
	PagesRect  Rect      `json:"pagesRect"`
	Pages      []PageBox `json:"pages"`
	Scale      float64   `json:"scale"`
	ScrollTop  float64   `json:"scrollTop"`
	ScrollLeft float64   `json:"scrollLeft"`
}

// PointAtWrapperOffset resolves an offset within the pages container to a
// document point. Pages are scanned in order; a page matches when offsetY lies
// within its vertical extent widened by the slack band. The offset inside the
// matched page is converted to points by dividing by scale, with y clamped to
// zero. Reports false when no page matches.
func PointAtWrapperOffset(offsetY, offsetX float64, pages []PageBox, pagesRect Rect, scale float64) (DocumentPoint, bool) {
	if scale <= 0 {
		return DocumentPoint{}, false
	}
	for _, pb := range pages {
		top := pb.Rect.Top - pagesRect.Top
		bottom := top + pb.Rect.Height
		if offsetY < top-pageSlackPx || offsetY > bottom+pageSlackPx {
			continue
		}
		left := pb.Rect.Left - pagesRect.Left
		y := (offsetY - top) / scale
		if y < 0 {
			y = 0
		}
		x := (offsetX - left) / scale
		return DocumentPoint{Page: pb.Page, X: x, Y: y}, true
	}
	return DocumentPoint{}, false
}

// ResolveDocumentPoints samples the top, vertical center and bottom of the
// visible viewport and resolves each independently. Entries are nil when the
// sample does not land on any page; callers must treat that as "no target for
// this sample", not as an error.
func ResolveDocumentPoints(g PreviewGeometry) [3]*DocumentPoint {
	var out [3]*DocumentPoint
	offsetX := g.Container.Left + g.Container.Width/2 - g.PagesRect.Left
	fractions := [3]float64{0, 0.5, 1}
	for i, f := range fractions {
		offsetY := g.Container.Top - g.PagesRect.Top + g.Container.Height*f
		if pt, ok := PointAtWrapperOffset(offsetY, offsetX, g.Pages, g.PagesRect, g.Scale); ok {
			p := pt
			out[i] = &p
		}
	}
	return out
}

// ScrollPosition is an absolute scroll offset for the preview container.
type ScrollPosition struct {
	Top  float64 `json:"top"`
	Left float64 `json:"left"`
}

// CenterScrollTarget computes the absolute scroll position that places pt,
// converted to pixels via scale, at the exact center of the container. page is
// the on-screen box of the page pt refers to; currentScroll is the container's
// scroll offset at the time the geometry was captured.
func CenterScrollTarget(container Rect, page Rect, pt DocumentPoint, scale float64, currentScroll ScrollPosition) ScrollPosition {
	// Page position within the scrolled content, independent of the current
	// scroll offset.
	pageTop := page.Top - container.Top + currentScroll.Top
	pageLeft := page.Left - container.Left + currentScroll.Left

	top := pageTop + pt.Y*scale - container.Height/2
	left := pageLeft + pt.X*scale - container.Width/2
	return ScrollPosition{
		Top:  math.Max(0, top),
		Left: math.Max(0, left),
	}
}

// MeanLine returns the rounded arithmetic mean of the given line numbers,
// ignoring nothing: callers pass only the resolved samples. Reports false when
// lines is empty.
func MeanLine(lines []int) (int, bool) {
	if len(lines) == 0 {
		return 0, false
	}
	sum := 0
	for _, l := range lines {
		sum += l
	}
	return int(math.Round(float64(sum) / float64(len(lines)))), true
}
