package usecase

import (
	"smartlocate/internal/classify"
	"smartlocate/internal/config"
	"smartlocate/internal/ports"
	"smartlocate/internal/usecase/adapters"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	Session adapters.SessionService
	Browser adapters.BrowserService
}

type Params struct {
	fx.In

	Logger   *zap.Logger
	Config   *config.Config
	Browser  ports.BrowserManager
	Service  ports.ClassificationService
	Store    ports.ScreenshotStore
	Waiter   *classify.Waiter
	Registry *classify.Registry
}

func NewUsecase(params Params) *Service {
	factory := newServiceFactory(params)

	return &Service{
		Session: factory.CreateSessionService(),
		Browser: factory.CreateBrowserService(),
	}
}
