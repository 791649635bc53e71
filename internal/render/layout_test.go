package render

import (
	"strings"
	"testing"
)

func buildDoc(t *testing.T, source string) *Document {
	t.Helper()
	doc, err := NewRenderer().RenderDocument("/doc.md", []byte(source))
	if err != nil {
		t.Fatalf("RenderDocument: %v", err)
	}
	return doc
}

func TestPointForLine(t *testing.T) {
	doc := buildDoc(t, sampleSource)

	page, x, y, ok := doc.PointForLine(1)
	if !ok {
		t.Fatal("line 1 should resolve")
	}
	if page != 0 {
		t.Errorf("page = %d, want 0", page)
	}
	if x != doc.Metrics.MarginPt || y != doc.Metrics.MarginPt {
		t.Errorf("point = (%v,%v), want top-left of content area", x, y)
	}

	// Line 4 is the blank line after the first paragraph: no block contains
	// it, so it falls back to the bottom of the preceding block.
	_, _, yBlank, ok := doc.PointForLine(4)
	if !ok {
		t.Fatal("blank line should resolve via the preceding block")
	}
	_, _, yPara, _ := doc.PointForLine(3)
	if yBlank <= yPara {
		t.Errorf("fallback y %v should be below the paragraph at %v", yBlank, yPara)
	}
}

func TestPointForLineMonotonic(t *testing.T) {
	doc := buildDoc(t, sampleSource)
	lastPage, lastY := 0, -1.0
	for line := 1; line <= 10; line++ {
		page, _, y, ok := doc.PointForLine(line)
		if !ok {
			continue
		}
		if page < lastPage || (page == lastPage && y < lastY) {
			t.Errorf("line %d resolved to (%d,%v), before (%d,%v)", line, page, y, lastPage, lastY)
		}
		lastPage, lastY = page, y
	}
}

func TestPointForLineUnresolvable(t *testing.T) {
	doc := buildDoc(t, "")
	if _, _, _, ok := doc.PointForLine(5); ok {
		t.Error("empty document should not resolve any line")
	}
}

func TestLineForPointRoundTrip(t *testing.T) {
	doc := buildDoc(t, sampleSource)
	for _, line := range []int{1, 3, 7, 9} {
		page, _, y, ok := doc.PointForLine(line)
		if !ok {
			t.Fatalf("line %d should resolve", line)
		}
		got, ok := doc.LineForPoint(page, y)
		if !ok {
			t.Fatalf("point for line %d should resolve back", line)
		}
		if got != line {
			t.Errorf("round trip of line %d got %d", line, got)
		}
	}
}

func TestLineForPointEdges(t *testing.T) {
	doc := buildDoc(t, sampleSource)

	// Above the first block snaps to its first line.
	if line, ok := doc.LineForPoint(0, 0); !ok || line != 1 {
		t.Errorf("top margin resolved to %d,%v, want 1,true", line, ok)
	}
	// Below the last block snaps to its last line.
	if line, ok := doc.LineForPoint(0, doc.HeightPt); !ok || line != 10 {
		t.Errorf("bottom margin resolved to %d,%v, want 10,true", line, ok)
	}
	// Out-of-range pages do not resolve.
	if _, ok := doc.LineForPoint(7, 100); ok {
		t.Error("out-of-range page should not resolve")
	}
	if _, ok := doc.LineForPoint(-1, 100); ok {
		t.Error("negative page should not resolve")
	}
}

func TestPaginateBreaksPages(t *testing.T) {
	long := strings.Repeat("some paragraph text\n\n", 120)
	doc := buildDoc(t, long)
	if len(doc.Pages) < 2 {
		t.Fatalf("expected a page break, got %d page(s)", len(doc.Pages))
	}
	for i, p := range doc.Pages {
		if p.Index != i {
			t.Errorf("page %d has index %d", i, p.Index)
		}
		for _, b := range p.Blocks {
			if b.YPt < doc.Metrics.MarginPt-0.01 {
				t.Errorf("page %d block at y=%v above the top margin", i, b.YPt)
			}
			if b.YPt+b.HeightPt > doc.HeightPt-doc.Metrics.MarginPt+0.01 {
				t.Errorf("page %d block overflows the content area", i)
			}
		}
	}
}
