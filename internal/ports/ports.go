package ports

import (
	"context"
	"smartlocate/internal/entity"
)

// ClassificationService is the remote vision/classification backend.
type ClassificationService interface {
	CheckKnown(ctx context.Context, contentHash, selector string) (*entity.KnownScreenshot, error)
	Upload(ctx context.Context, screenshot []byte, selector, testCaseID string) (*entity.Upload, error)
	RequestBox(ctx context.Context, req entity.ClassificationRequest) (*entity.BoxResponse, error)
	CheckFrozen(ctx context.Context, selector string) (bool, error)
	ClassifySync(ctx context.Context, screenshot []byte, selector, testCaseID string) (*entity.BoxResponse, error)
	UpdateElement(ctx context.Context, box entity.BoundaryBox, contentHash, selector, testCaseID string) error
	CheckIn(ctx context.Context, testCaseID string) error
}

// Page is the browser page the test is driving.
type Page interface {
	CaptureViewport(ctx context.Context) ([]byte, error)
	Candidates(ctx context.Context) ([]entity.BoundaryBox, error)
	DevicePixelRatio(ctx context.Context) (float64, error)
	Query(ctx context.Context, selector string) (*entity.Element, error)
}

type BrowserManager interface {
	Page
	Launch(ctx context.Context) error
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	ClickAtCoordinates(ctx context.Context, x, y float64) error
	TypeText(ctx context.Context, text string) error
	IsReady() bool
}

type URLOpener interface {
	Open(ctx context.Context, url string)
}

// ScreenshotStore keeps temporary screenshot files for the current run.
type ScreenshotStore interface {
	Save(name string, content []byte) (string, error)
	Purge() ([]string, error)
}
