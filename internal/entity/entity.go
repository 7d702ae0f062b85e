package entity

import (
	"time"
)

// BoundaryBox is an axis-aligned rectangle. Predicted boxes arrive in device
// pixels, on-page candidates are in CSS pixels.
type BoundaryBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	TagName string `json:"-"`
	// ElementRef is the document-order index of the candidate inside body.
	// Predicted boxes use NoElementRef.
	ElementRef int `json:"-"`
}

const NoElementRef = -1

func (b BoundaryBox) Area() float64 {
	return b.Width * b.Height
}

func (b BoundaryBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

type ScreenshotIdentity struct {
	FileName    string
	ContentHash string
}

type SelectorMode string

const (
	ModeUseDom SelectorMode = "use_dom"
	ModeUseAI  SelectorMode = "use_ai"
)

type SelectorState struct {
	Selector string
	Mode     SelectorMode
}

type CommandKind string

const (
	CommandGet      CommandKind = "get"
	CommandFind     CommandKind = "find"
	CommandGetByAI  CommandKind = "get_by_ai"
	CommandFindByAI CommandKind = "find_by_ai"
)

// Structural reports whether the command is a plain selector lookup rather
// than an explicit AI command.
func (k CommandKind) Structural() bool {
	return k == CommandGet || k == CommandFind
}

type CommandRecord struct {
	Index    int
	Selector string
	Kind     CommandKind
	Mode     SelectorMode
}

type ClassificationRequest struct {
	Selector         string
	Identity         ScreenshotIdentity
	TestCaseID       string
	CorrelationToken string
	Screenshot       []byte
}

type ElementSource string

const (
	SourceDom ElementSource = "dom"
	SourceAI  ElementSource = "ai"
)

// Element is the outcome of a locate call.
type Element struct {
	Tag         string
	Selector    string
	BoundingBox BoundaryBox
	Ref         int
	Source      ElementSource
}

type KnownScreenshot struct {
	Known bool
	Box   *BoundaryBox
}

type BoxResponse struct {
	Success bool
	Box     *BoundaryBox
	Message string
}

type Upload struct {
	UploadID string
}

type TestCase struct {
	Name      string
	StartedAt time.Time
	Attempt   int
}
