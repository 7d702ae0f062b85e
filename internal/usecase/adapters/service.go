package adapters

import (
	"context"
	"smartlocate/internal/entity"
)

type BrowserService interface {
	Launch(ctx context.Context) error
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	ClickAtCoordinates(ctx context.Context, x, y float64) error
	TypeText(ctx context.Context, text string) error
	IsReady() bool
}

type SessionService interface {
	StartTest(ctx context.Context, name string) error
	EndTest(ctx context.Context) error
	Fail(cause error)
	Abort() int
	Get(ctx context.Context, selector string) (*entity.Element, error)
	Find(ctx context.Context, selector string) (*entity.Element, error)
	GetByAI(ctx context.Context, selector string) (*entity.Element, error)
	FindByAI(ctx context.Context, description string) (*entity.Element, error)
	Run(ctx context.Context, name string, attempts int, fn func(ctx context.Context) error) error
	CurrentTest() (entity.TestCase, bool)
	History() []entity.CommandRecord
	BackupMode() bool
}
