package usecase

import (
	"context"
	"fmt"
	"smartlocate/internal/entity"
	"smartlocate/internal/geometry"
	"smartlocate/internal/ports"
	"smartlocate/internal/screenshot"
	"smartlocate/pkg/apperr"
	"smartlocate/pkg/logg"
	"smartlocate/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	resolverName   = "LocatorResolver"
	resolverTracer = "usecase.resolver"
)

// Resolver is the AI fallback locator. It resolves a selector from a fresh
// screenshot: known predictions first, then the classification waiter, and
// finally the bounding box matcher against the live page.
type Resolver struct {
	page    ports.Page
	service ports.ClassificationService
	store   ports.ScreenshotStore
	waiter  BoxWaiter
	logger  *zap.Logger
	tracer  trace.Tracer
}

type ResolverParams struct {
	fx.In

	Page    ports.Page
	Service ports.ClassificationService
	Store   ports.ScreenshotStore
	Waiter  BoxWaiter
	Logger  *zap.Logger
}

func NewResolver(params ResolverParams) *Resolver {
	return &Resolver{
		page:    params.Page,
		service: params.Service,
		store:   params.Store,
		waiter:  params.Waiter,
		logger:  params.Logger.With(zap.String(logg.Layer, resolverName)),
		tracer:  otel.Tracer(resolverTracer),
	}
}

// capture is one screenshot taken for a selector together with its identity.
type capture struct {
	shot     []byte
	identity entity.ScreenshotIdentity
	novel    bool
}

func (r *Resolver) Locate(ctx context.Context, scope Scope, selector string) (el *entity.Element, err error) {
	const op = "Locate"
	logger := r.logger.With(
		zap.String(logg.Operation, op),
		zap.String(logg.Selector, selector),
		zap.String(logg.TestCase, scope.TestCaseID),
	)

	ctx, step := tracing.StartSpan(ctx, r.tracer, logger, op,
		attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	if r.frozen(ctx, logger, selector) {
		el, err := r.page.Query(ctx, selector)
		if err == nil {
			step.AddEvent("frozen selector resolved structurally")

			return el, nil
		}

		logger.Info("Frozen selector not found on page, resolving from screenshot", zap.Error(err))
	}

	shot, err := r.capture(ctx, logger, scope, selector)
	if err != nil {
		return nil, err
	}

	known, err := r.service.CheckKnown(ctx, shot.identity.ContentHash, selector)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeServiceError, err, map[string]any{
			apperr.MetaStage:    apperr.StageService,
			apperr.MetaSelector: selector,
		})
	}

	if known != nil && known.Box != nil {
		step.AddEvent("known prediction")

		return r.match(ctx, selector, *known.Box)
	}

	if shot.novel && (known == nil || !known.Known) {
		r.upload(ctx, logger, scope, selector, shot.shot)
	}

	step.AddEvent("waiting for classification")

	box, err := r.waiter.Wait(ctx, entity.ClassificationRequest{
		Selector:         selector,
		Identity:         shot.identity,
		TestCaseID:       scope.TestCaseID,
		CorrelationToken: uuid.NewString(),
		Screenshot:       shot.shot,
	})
	if err != nil {
		return nil, err
	}

	return r.match(ctx, selector, box)
}

// Describe resolves a human-readable description. There is no structural
// path for a description, so it always goes through the waiter.
func (r *Resolver) Describe(ctx context.Context, scope Scope, description string) (el *entity.Element, err error) {
	const op = "Describe"
	logger := r.logger.With(
		zap.String(logg.Operation, op),
		zap.String(logg.Selector, description),
		zap.String(logg.TestCase, scope.TestCaseID),
	)

	ctx, step := tracing.StartSpan(ctx, r.tracer, logger, op,
		attribute.String("description", description))
	defer func() {
		step.End(err)
	}()

	shot, err := r.capture(ctx, logger, scope, description)
	if err != nil {
		return nil, err
	}

	if shot.novel && r.waiter.Interactive() {
		r.upload(ctx, logger, scope, description, shot.shot)
	}

	box, err := r.waiter.Wait(ctx, entity.ClassificationRequest{
		Selector:         description,
		Identity:         shot.identity,
		TestCaseID:       scope.TestCaseID,
		CorrelationToken: uuid.NewString(),
		Screenshot:       shot.shot,
	})
	if err != nil {
		return nil, err
	}

	return r.match(ctx, description, box)
}

// frozen reports whether the service marked the selector as stable. Lookup
// errors count as not frozen.
func (r *Resolver) frozen(ctx context.Context, logger *zap.Logger, selector string) bool {
	frozen, err := r.service.CheckFrozen(ctx, selector)
	if err != nil {
		logger.Warn("Frozen check failed", zap.Error(err))

		return false
	}

	return frozen
}

func (r *Resolver) capture(ctx context.Context, logger *zap.Logger, scope Scope, selector string) (capture, error) {
	const op = "capture"

	shot, err := r.page.CaptureViewport(ctx)
	if err != nil {
		return capture{}, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaStage:    apperr.StageScreenshot,
			apperr.MetaSelector: selector,
		})
	}

	name := screenshot.SelectorName(selector)

	if path, err := r.store.Save(name, shot); err != nil {
		logger.Warn("Failed to keep screenshot file", zap.Error(err))
	} else {
		logger.Debug("Screenshot saved", zap.String(logg.Screenshot, path))
	}

	_, novel := storeIdentity(scope.Identities, name, shot)
	id, _ := scope.Identities.Identity(name)

	return capture{
		shot:     shot,
		identity: id,
		novel:    novel,
	}, nil
}

// upload sends a novel screenshot to the service. A failed upload does not
// stop resolution.
func (r *Resolver) upload(ctx context.Context, logger *zap.Logger, scope Scope, selector string, shot []byte) {
	const op = "upload"

	res, err := r.service.Upload(ctx, shot, selector, scope.TestCaseID)
	if err != nil {
		err = apperr.Wrap(op, apperr.CodeUploadFailed, err, map[string]any{
			apperr.MetaStage:    apperr.StageUpload,
			apperr.MetaSelector: selector,
		})
		logger.Warn("Screenshot upload failed", zap.Error(err))

		return
	}

	logger.Debug("Screenshot uploaded", zap.String("upload_id", res.UploadID))
}

// match maps a predicted box in device pixels onto the element under it.
func (r *Resolver) match(ctx context.Context, selector string, predicted entity.BoundaryBox) (*entity.Element, error) {
	const op = "match"

	ratio, err := r.page.DevicePixelRatio(ctx)
	if err != nil {
		r.logger.Warn("Device pixel ratio unavailable, assuming 1", zap.Error(err))

		ratio = 1
	}

	candidates, err := r.page.Candidates(ctx)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaStage:    apperr.StageMatching,
			apperr.MetaSelector: selector,
		})
	}

	box, ok := geometry.Match(predicted, candidates, ratio)
	if !ok {
		return nil, apperr.Wrap(op, apperr.CodeNoMatchFound,
			fmt.Errorf("no element on the page matches the predicted box for %q", selector), map[string]any{
				apperr.MetaStage:    apperr.StageMatching,
				apperr.MetaSelector: selector,
			})
	}

	return &entity.Element{
		Tag:         box.TagName,
		Selector:    selector,
		BoundingBox: box,
		Ref:         box.ElementRef,
		Source:      entity.SourceAI,
	}, nil
}
