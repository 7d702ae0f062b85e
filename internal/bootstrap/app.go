package bootstrap

import (
	"smartlocate/internal/browser"
	"smartlocate/internal/classifier"
	"smartlocate/internal/classify"
	"smartlocate/internal/config"
	"smartlocate/internal/console"
	"smartlocate/internal/opener"
	"smartlocate/internal/ports"
	"smartlocate/internal/screenshot"
	"smartlocate/internal/usecase"
	"time"

	"go.uber.org/fx"
)

func NewApp() *fx.App {
	return fx.New(
		Options(),

		fx.Invoke(
			runConsole,
		),

		fx.StartTimeout(10*time.Second),
	)
}

// Options is the dependency graph of the application without the console
// lifecycle hooks.
func Options() fx.Option {
	return fx.Options(
		fx.Provide(
			config.GetConfig,
			newLogger,
			newTraceProvider,

			fx.Annotate(browser.NewManager, fx.As(new(ports.BrowserManager))),
			fx.Annotate(classifier.NewClient, fx.As(new(ports.ClassificationService))),
			fx.Annotate(opener.NewOpener, fx.As(new(ports.URLOpener))),
			fx.Annotate(screenshot.NewStore, fx.As(new(ports.ScreenshotStore))),

			classify.OptionsFromConfig,
			classify.NewRegistry,
			classify.NewWaiter,

			usecase.NewUsecase,

			console.NewInterface,
		),
	)
}
