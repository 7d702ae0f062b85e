package usecase

import (
	"context"
	"smartlocate/internal/entity"
	"smartlocate/internal/identity"
	"smartlocate/internal/ports"
	"smartlocate/internal/screenshot"
	"smartlocate/pkg/apperr"
	"smartlocate/pkg/logg"
	"smartlocate/pkg/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	nativeLocatorName   = "NativeLocator"
	nativeLocatorTracer = "usecase.native"
)

// NativeLocator resolves a selector structurally on the page. With auto
// ingest enabled every hit is reported back to the classification service so
// that the AI path has a labelled box for it later.
type NativeLocator struct {
	page       ports.Page
	service    ports.ClassificationService
	store      ports.ScreenshotStore
	autoIngest bool
	logger     *zap.Logger
	tracer     trace.Tracer
}

type NativeLocatorParams struct {
	Page       ports.Page
	Service    ports.ClassificationService
	Store      ports.ScreenshotStore
	AutoIngest bool
	Logger     *zap.Logger
}

func NewNativeLocator(params NativeLocatorParams) *NativeLocator {
	return &NativeLocator{
		page:       params.Page,
		service:    params.Service,
		store:      params.Store,
		autoIngest: params.AutoIngest,
		logger:     params.Logger.With(zap.String(logg.Layer, nativeLocatorName)),
		tracer:     otel.Tracer(nativeLocatorTracer),
	}
}

func (l *NativeLocator) Locate(ctx context.Context, scope Scope, selector string) (el *entity.Element, err error) {
	const op = "Locate"
	logger := l.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	ctx, step := tracing.StartSpan(ctx, l.tracer, logger, op,
		attribute.String("selector", selector),
		attribute.Bool("auto_ingest", l.autoIngest))
	defer func() {
		step.End(err)
	}()

	el, err = l.page.Query(ctx, selector)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeNotFound, err, map[string]any{
			apperr.MetaReason:   "element_not_found",
			apperr.MetaSelector: selector,
		})
	}

	if l.autoIngest {
		l.ingest(ctx, logger, scope, el)
	}

	return el, nil
}

// ingest reports a structural hit to the service. Failures are only logged.
func (l *NativeLocator) ingest(ctx context.Context, logger *zap.Logger, scope Scope, el *entity.Element) {
	frozen, err := l.service.CheckFrozen(ctx, el.Selector)
	if err != nil {
		logger.Warn("Frozen check failed, skipping ingest", zap.Error(err))

		return
	}

	if frozen {
		return
	}

	shot, err := l.page.CaptureViewport(ctx)
	if err != nil {
		logger.Warn("Screenshot for ingest failed", zap.Error(err))

		return
	}

	name := screenshot.SelectorName(el.Selector)

	if _, err := l.store.Save(name, shot); err != nil {
		logger.Warn("Failed to keep screenshot file", zap.Error(err))
	}

	hash, novel := storeIdentity(scope.Identities, name, shot)

	known, err := l.service.CheckKnown(ctx, hash, el.Selector)
	if err != nil {
		logger.Warn("Known screenshot check failed", zap.Error(err))
	}

	if novel && (known == nil || !known.Known) {
		if _, err := l.service.Upload(ctx, shot, el.Selector, scope.TestCaseID); err != nil {
			logger.Warn("Screenshot upload failed", zap.Error(apperr.WrapWithReason("ingest", apperr.CodeUploadFailed, err, "upload_failed")))

			return
		}
	}

	box := el.BoundingBox

	if ratio, err := l.page.DevicePixelRatio(ctx); err == nil && ratio > 0 {
		box = scaleBox(box, ratio)
	}

	if err := l.service.UpdateElement(ctx, box, hash, el.Selector, scope.TestCaseID); err != nil {
		logger.Warn("Element update failed", zap.Error(err))
	}
}

// storeIdentity records shot under name and reports whether its content
// differs from the previous capture under that name.
func storeIdentity(cache *identity.Cache, name string, shot []byte) (string, bool) {
	previous, seen := cache.Lookup(name)
	hash := cache.Store(name, shot)

	return hash, !seen || previous != hash
}

// scaleBox converts a CSS-pixel rectangle to device pixels, the space the
// service stores boxes in.
func scaleBox(box entity.BoundaryBox, ratio float64) entity.BoundaryBox {
	return entity.BoundaryBox{
		X:          box.X * ratio,
		Y:          box.Y * ratio,
		Width:      box.Width * ratio,
		Height:     box.Height * ratio,
		TagName:    box.TagName,
		ElementRef: box.ElementRef,
	}
}
