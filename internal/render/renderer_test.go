package render

import (
	"strings"
	"testing"
)

const sampleSource = `# Title

First paragraph with some text.

## Section

Second paragraph, a little longer than the first one so it wraps.

- item one
- item two
`

func TestConvertBlocks(t *testing.T) {
	r := NewRenderer()
	blocks, err := r.ConvertBlocks([]byte(sampleSource))
	if err != nil {
		t.Fatalf("ConvertBlocks: %v", err)
	}
	if len(blocks) != 5 {
		t.Fatalf("block count = %d, want 5", len(blocks))
	}

	if blocks[0].StartLine != 1 {
		t.Errorf("heading start line = %d, want 1", blocks[0].StartLine)
	}
	if !strings.Contains(blocks[0].HTML, "<h1") {
		t.Errorf("first block HTML = %q, want an h1", blocks[0].HTML)
	}
	if blocks[1].StartLine != 3 {
		t.Errorf("paragraph start line = %d, want 3", blocks[1].StartLine)
	}
	if blocks[4].StartLine != 9 || blocks[4].EndLine != 10 {
		t.Errorf("list lines = %d..%d, want 9..10", blocks[4].StartLine, blocks[4].EndLine)
	}
}

func TestConvertBlocksHashStability(t *testing.T) {
	r := NewRenderer()
	a, err := r.ConvertBlocks([]byte(sampleSource))
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.ConvertBlocks([]byte(sampleSource))
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i].Hash != b[i].Hash {
			t.Errorf("block %d hash differs across identical renders", i)
		}
	}
}

func TestRenderDocument(t *testing.T) {
	r := NewRenderer()
	doc, err := r.RenderDocument("/doc.md", []byte(sampleSource))
	if err != nil {
		t.Fatalf("RenderDocument: %v", err)
	}
	if len(doc.Pages) != 1 {
		t.Fatalf("page count = %d, want 1", len(doc.Pages))
	}
	p := doc.Pages[0]
	if p.TID == "" || !strings.HasPrefix(p.TID, "p0-") {
		t.Errorf("page tid = %q", p.TID)
	}
	if !strings.Contains(p.Markup, `data-tid="`+p.TID+`"`) {
		t.Error("page markup does not carry the page identity tag")
	}
	if !strings.Contains(p.Markup, `data-line="1"`) {
		t.Error("page markup does not carry block line metadata")
	}
	if doc.Hash == "" {
		t.Error("document hash is empty")
	}
}

func TestRenderDocumentHashChangesWithContent(t *testing.T) {
	r := NewRenderer()
	a, err := r.RenderDocument("/doc.md", []byte("hello\n"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.RenderDocument("/doc.md", []byte("goodbye\n"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash == b.Hash {
		t.Error("different content produced the same document hash")
	}
}

func TestRenderDocumentIncrementalCache(t *testing.T) {
	r := NewRenderer()
	long := strings.Repeat("paragraph one\n\n", 80) // enough to span pages

	doc1, err := r.RenderDocument("/doc.md", []byte(long))
	if err != nil {
		t.Fatal(err)
	}
	if len(doc1.Pages) < 2 {
		t.Fatalf("expected multiple pages, got %d", len(doc1.Pages))
	}

	// Change only the tail: earlier pages must keep their identity tags so
	// the patcher's no-op fast path applies to them.
	doc2, err := r.RenderDocument("/doc.md", []byte(long+"\nnew tail paragraph\n"))
	if err != nil {
		t.Fatal(err)
	}
	if doc1.Pages[0].TID != doc2.Pages[0].TID {
		t.Error("unchanged first page got a new identity tag")
	}
	if doc1.Pages[0].Markup != doc2.Pages[0].Markup {
		t.Error("unchanged first page markup was regenerated differently")
	}
	if doc1.Hash == doc2.Hash {
		t.Error("document hash unchanged despite new content")
	}
}

func TestShellIsServable(t *testing.T) {
	r := NewRenderer()
	shell := r.Shell()
	if !strings.Contains(shell, "<html") || !strings.Contains(shell, "/ws") {
		t.Error("shell template missing expected structure")
	}
}
