package contracts

import "go-typeset-preview/internal/mapper"

// SourcePosition is a resolved location in a source file. Line and Column are
// 1-based.
type SourcePosition struct {
	File   string
	Line   int
	Column int
}

// Resolver maps between source positions and rendered document points.
// Both directions fail silently: an unresolvable position is expected and
// frequent (cursor in whitespace, click on page margin) and reports ok=false.
type Resolver interface {
	// PointForOffset resolves a UTF-8 byte offset in the given file content
	// to a document point.
	PointForOffset(path, content string, byteOffset uint) (mapper.DocumentPoint, bool)

	// SourceForPoint resolves a document point to the source position that
	// produced it.
	SourceForPoint(page int, x, y float64) (SourcePosition, bool)
}

// RenderResponse is one page's rendered markup. RequestID echoes the request
// so out-of-order responses can be discarded.
type RenderResponse struct {
	Markup    string
	WidthPt   float64
	HeightPt  float64
	RequestID uint64
}

// RenderFetcher produces the rendered markup snapshot for a single page of
// the current document.
type RenderFetcher interface {
	RenderPage(page int, scale float64, requestID uint64) (RenderResponse, error)
}

// DiagnosticSeverity classifies compile diagnostics.
type DiagnosticSeverity string

const (
	SeverityError   DiagnosticSeverity = "error"
	SeverityWarning DiagnosticSeverity = "warning"
)

// Diagnostic is one compile problem mapped back to the source.
type Diagnostic struct {
	Severity DiagnosticSeverity `json:"severity"`
	Message  string             `json:"message"`
	Line     int                `json:"line"`
	Hints    []string           `json:"hints,omitempty"`
}

// RenderedPage describes one page of the current compiled document.
type RenderedPage struct {
	Page     int     `json:"page"`
	Hash     string  `json:"hash"`
	WidthPt  float64 `json:"widthPt"`
	HeightPt float64 `json:"heightPt"`
}

// CompileEvent is delivered after every compile attempt. Pages is nil when
// compilation failed; Diagnostics may accompany either outcome.
type CompileEvent struct {
	Path        string
	Hash        string
	Pages       []RenderedPage
	Diagnostics []Diagnostic
}
