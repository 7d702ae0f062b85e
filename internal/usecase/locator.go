package usecase

import (
	"context"
	"smartlocate/internal/entity"
	"smartlocate/internal/identity"
)

// Scope is the per-test state a locate call runs against. It is owned by the
// Session and handed to locators explicitly.
type Scope struct {
	TestCaseID string
	Identities *identity.Cache
}

// Locator turns a selector into an element on the current page.
type Locator interface {
	Locate(ctx context.Context, scope Scope, selector string) (*entity.Element, error)
}

// BoxWaiter obtains a predicted box for a screenshot the service has no
// answer for yet.
type BoxWaiter interface {
	Wait(ctx context.Context, req entity.ClassificationRequest) (entity.BoundaryBox, error)
	Interactive() bool
}
