// Package contracts holds the message types exchanged with the preview view
// and the interfaces of the services the sync core consumes.
package contracts

import "go-typeset-preview/internal/mapper"

// Message types routed over the preview WebSocket.
const (
	// MessageTypeDocument announces a newly compiled document to the browser.
	MessageTypeDocument = "document"
	// MessageTypePage delivers rendered markup for one page.
	MessageTypePage = "page"
	// MessageTypeScrollTo drives the preview container to a scroll position.
	MessageTypeScrollTo = "scroll_to"
	// MessageTypeLoading toggles the per-page loading affordance.
	MessageTypeLoading = "loading"
	// MessageTypeDiagnostics delivers compile diagnostics to the preview.
	MessageTypeDiagnostics = "diagnostics"

	// MessageTypePreviewScroll reports a user scroll plus fresh geometry.
	MessageTypePreviewScroll = "preview_scroll"
	// MessageTypeVisibility reports per-page viewport intersection changes.
	MessageTypeVisibility = "visibility"
	// MessageTypeJump requests an editor jump from a click on a rendered page.
	MessageTypeJump = "jump"
)

// IncomingMessage is the minimal envelope used to route browser messages.
type IncomingMessage struct {
	Type string `json:"type"`
}

// DocumentMessage announces document-level metadata after a compile. A changed
// Hash invalidates every previously fetched page image.
type DocumentMessage struct {
	Type     string  `json:"type"`
	Pages    int     `json:"pages"`
	Hash     string  `json:"hash"`
	WidthPt  float64 `json:"widthPt"`
	HeightPt float64 `json:"heightPt"`
	Filename string  `json:"filename"`
}

// PageMessage carries one page's rendered markup to the browser.
type PageMessage struct {
	Type   string `json:"type"`
	Page   int    `json:"page"`
	Markup string `json:"markup"`
	Rev    uint64 `json:"rev"`
}

// ScrollToMessage drives the preview container to an absolute scroll offset.
type ScrollToMessage struct {
	Type string  `json:"type"`
	Top  float64 `json:"top"`
	Left float64 `json:"left"`
}

// LoadingMessage toggles the loading affordance for a page whose fetch has
// been outstanding longer than the flicker threshold.
type LoadingMessage struct {
	Type    string `json:"type"`
	Page    int    `json:"page"`
	Loading bool   `json:"loading"`
}

// DiagnosticsMessage delivers the compile diagnostics for the current source.
type DiagnosticsMessage struct {
	Type        string       `json:"type"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// PreviewScrollMessage reports a user-driven preview scroll together with the
// view geometry needed to resolve document points.
type PreviewScrollMessage struct {
	Type     string                 `json:"type"`
	Geometry mapper.PreviewGeometry `json:"geometry"`
}

// VisibilityMessage reports that a page entered or left the viewport.
type VisibilityMessage struct {
	Type         string `json:"type"`
	Page         int    `json:"page"`
	Intersecting bool   `json:"intersecting"`
}

// JumpMessage requests a jump to the source position under a click on a
// rendered page. Coordinates are document points.
type JumpMessage struct {
	Type string  `json:"type"`
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}
