package opener

import (
	"context"
	"io"
	"smartlocate/pkg/logg"

	"github.com/pkg/browser"
	"go.uber.org/zap"
)

const openerName = "URLOpener"

// Opener opens labeling pages in the user's default browser. Failures are
// logged and otherwise ignored.
type Opener struct {
	logger *zap.Logger
	open   func(url string) error
}

func NewOpener(logger *zap.Logger) *Opener {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard

	return &Opener{
		logger: logger.With(zap.String(logg.Layer, openerName)),
		open:   browser.OpenURL,
	}
}

func (o *Opener) Open(_ context.Context, url string) {
	if err := o.open(url); err != nil {
		o.logger.Warn("Failed to open browser, open the link manually",
			zap.String(logg.URL, url),
			zap.Error(err))

		return
	}

	o.logger.Info("Opened labeling page", zap.String(logg.URL, url))
}
