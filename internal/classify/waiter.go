// Package classify obtains a bounding box for a selector when none is known
// yet, either in one synchronous round trip or by waiting on a human to label
// the screenshot.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"smartlocate/internal/config"
	"smartlocate/internal/entity"
	"smartlocate/internal/ports"
	"smartlocate/pkg/apperr"
	"smartlocate/pkg/logg"
	"smartlocate/pkg/tracing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	waiterName   = "ClassificationWaiter"
	waiterTracer = "classify.waiter"

	setupShare = 0.45
	pollShare  = 0.95
)

type Options struct {
	Interactive  bool
	Ceiling      time.Duration
	PollInterval time.Duration
	LabelURL     string
}

func OptionsFromConfig(conf *config.Config) Options {
	return Options{
		Interactive:  conf.ClassifyConfig.Interactive,
		Ceiling:      conf.ClassifyConfig.Timeout,
		PollInterval: conf.ClassifyConfig.PollInterval,
		LabelURL:     conf.ServiceConfig.LabelURL,
	}
}

func (o Options) setupBudget() time.Duration {
	return time.Duration(float64(o.Ceiling) * setupShare)
}

func (o Options) pollBudget() time.Duration {
	return time.Duration(float64(o.Ceiling) * pollShare)
}

type Waiter struct {
	opts     Options
	service  ports.ClassificationService
	opener   ports.URLOpener
	registry *Registry
	logger   *zap.Logger
	tracer   trace.Tracer
}

type Params struct {
	fx.In

	Options  Options
	Service  ports.ClassificationService
	Opener   ports.URLOpener
	Registry *Registry
	Logger   *zap.Logger
}

func NewWaiter(params Params) *Waiter {
	return &Waiter{
		opts:     params.Options,
		service:  params.Service,
		opener:   params.Opener,
		registry: params.Registry,
		logger:   params.Logger.With(zap.String(logg.Layer, waiterName)),
		tracer:   otel.Tracer(waiterTracer),
	}
}

func (w *Waiter) Interactive() bool {
	return w.opts.Interactive
}

// LabelURL is the deep link to the labeling page of a test case.
func (w *Waiter) LabelURL(testCaseID string) string {
	u, err := url.Parse(w.opts.LabelURL)
	if err != nil {
		return w.opts.LabelURL + "?test_case_name=" + url.QueryEscape(testCaseID)
	}

	q := u.Query()
	q.Set("test_case_name", testCaseID)
	u.RawQuery = q.Encode()

	return u.String()
}

// Wait returns the predicted box for req, in device pixels.
func (w *Waiter) Wait(ctx context.Context, req entity.ClassificationRequest) (box entity.BoundaryBox, err error) {
	const op = "Wait"
	logger := w.logger.With(
		zap.String(logg.Operation, op),
		zap.String(logg.Selector, req.Selector),
		zap.String(logg.TestCase, req.TestCaseID),
	)

	ctx, step := tracing.StartSpan(ctx, w.tracer, logger, op,
		attribute.String("selector", req.Selector),
		attribute.Bool("interactive", w.opts.Interactive))
	defer func() {
		step.End(err)
	}()

	if !w.opts.Interactive {
		return w.classifySync(ctx, logger, req)
	}

	if req.CorrelationToken == "" {
		req.CorrelationToken = uuid.NewString()
	}

	return w.waitForLabel(ctx, logger, step, req)
}

func (w *Waiter) classifySync(ctx context.Context, logger *zap.Logger, req entity.ClassificationRequest) (entity.BoundaryBox, error) {
	const op = "classifySync"

	resp, err := w.service.ClassifySync(ctx, req.Screenshot, req.Selector, req.TestCaseID)
	if err != nil {
		return entity.BoundaryBox{}, apperr.Wrap(op, apperr.CodeClassificationFailed, err, map[string]any{
			apperr.MetaStage:    apperr.StageClassify,
			apperr.MetaSelector: req.Selector,
		})
	}

	if !resp.Success || resp.Box == nil {
		message := resp.Message
		if message == "" {
			message = "no bounding box returned"
		}

		logger.Warn("Classification failed", zap.String("message", message))

		return entity.BoundaryBox{}, apperr.Wrap(op, apperr.CodeClassificationFailed, errors.New(message), map[string]any{
			apperr.MetaStage:    apperr.StageClassify,
			apperr.MetaSelector: req.Selector,
		})
	}

	return *resp.Box, nil
}

func (w *Waiter) waitForLabel(ctx context.Context, logger *zap.Logger, step *tracing.Span, req entity.ClassificationRequest) (entity.BoundaryBox, error) {
	const op = "waitForLabel"

	task := newTask(ctx, req.CorrelationToken)
	w.registry.add(task)
	defer w.registry.remove(task)

	logger = logger.With(zap.String(logg.Token, task.Token()))
	labelURL := w.LabelURL(req.TestCaseID)

	// Both budgets count from the same start so the whole wait stays within
	// the ceiling.
	start := time.Now()

	box, found, err := w.setup(task, logger, req, labelURL, start.Add(w.opts.setupBudget()))
	if err != nil {
		return entity.BoundaryBox{}, w.failure(ctx, task, op, labelURL, err)
	}

	if found {
		task.finish(StateResolved)
		step.AddEvent("prediction already available")

		return box, nil
	}

	step.AddEvent("waiting for label")
	logger.Info("Waiting for the element to be classified", zap.String(logg.URL, labelURL))

	box, err = w.poll(task, logger, req, start.Add(w.opts.pollBudget()))
	if err != nil {
		return entity.BoundaryBox{}, w.failure(ctx, task, op, labelURL, err)
	}

	return box, nil
}

// setup asks for an existing prediction and, when there is none, opens the
// labeling page. It must finish before deadline.
func (w *Waiter) setup(task *Task, logger *zap.Logger, req entity.ClassificationRequest, labelURL string, deadline time.Time) (entity.BoundaryBox, bool, error) {
	ctx, cancel := context.WithDeadline(task.ctx, deadline)
	defer cancel()

	resp, err := w.service.RequestBox(ctx, req)
	if err == nil && resp.Box != nil {
		return *resp.Box, true, nil
	}

	if ctx.Err() != nil {
		return entity.BoundaryBox{}, false, ctx.Err()
	}

	if err != nil {
		logger.Warn("Prediction lookup failed, falling back to labeling", zap.Error(err))
	}

	w.opener.Open(ctx, labelURL)

	return entity.BoundaryBox{}, false, ctx.Err()
}

// poll asks for the prediction on every tick until deadline.
func (w *Waiter) poll(task *Task, logger *zap.Logger, req entity.ClassificationRequest, deadline time.Time) (entity.BoundaryBox, error) {
	ctx, cancel := context.WithDeadline(task.ctx, deadline)
	defer cancel()

	ticks, ok := task.startTicker(w.opts.PollInterval)
	if !ok {
		return entity.BoundaryBox{}, context.Canceled
	}

	for {
		select {
		case <-ctx.Done():
			return entity.BoundaryBox{}, ctx.Err()
		case <-ticks:
			resp, err := w.service.RequestBox(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}

				logger.Warn("Poll failed, retrying on next tick", zap.Error(err))

				continue
			}

			if resp.Box != nil && task.finish(StateResolved) {
				return *resp.Box, nil
			}
		}
	}
}

// failure settles the task after an error and converts it to the error
// surfaced to the test.
func (w *Waiter) failure(ctx context.Context, task *Task, op, labelURL string, err error) error {
	meta := map[string]any{
		apperr.MetaStage: apperr.StageClassify,
		apperr.MetaURL:   labelURL,
	}

	if ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
		task.finish(StateCancelled)
	} else {
		task.finish(StateTimedOut)
	}

	if task.State() == StateTimedOut {
		return apperr.Wrap(op, apperr.CodeClassificationTimeout,
			fmt.Errorf("boundary box was never received, visit %s to classify your element", labelURL), meta)
	}

	return apperr.Wrap(op, apperr.CodeCancelled,
		fmt.Errorf("waiting for classification was cancelled, label it at %s", labelURL), meta)
}
