package usecase

import (
	"context"
	"errors"
	"smartlocate/internal/classify"
	"smartlocate/internal/entity"
	"smartlocate/internal/identity"
	"smartlocate/internal/ports"
	"smartlocate/internal/resolution"
	"smartlocate/pkg/apperr"
	"smartlocate/pkg/logg"
	"smartlocate/pkg/tracing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sessionServiceName = "SessionService"
	sessionTracer      = "usecase.session"
)

var ErrNoTest = errors.New("no test is running")

// Describer resolves free-text element descriptions.
type Describer interface {
	Describe(ctx context.Context, scope Scope, description string) (*entity.Element, error)
}

// AILocator is a locator that also understands descriptions.
type AILocator interface {
	Locator
	Describer
}

// Session is the test-execution scope. It owns the selector state machine,
// the identity cache and the current test case, and picks a locator for every
// locate call. Tests run one after another on a single session.
type Session struct {
	logger   *zap.Logger
	tracer   trace.Tracer
	service  ports.ClassificationService
	store    ports.ScreenshotStore
	registry *classify.Registry
	native   Locator
	ai       AILocator

	machine    *resolution.Machine
	identities *identity.Cache
	test       *entity.TestCase
}

type SessionParams struct {
	fx.In

	Logger   *zap.Logger
	Service  ports.ClassificationService
	Store    ports.ScreenshotStore
	Registry *classify.Registry
	Native   Locator
	AI       AILocator
}

func NewSession(params SessionParams) *Session {
	return &Session{
		logger:     params.Logger.With(zap.String(logg.Layer, sessionServiceName)),
		tracer:     otel.Tracer(sessionTracer),
		service:    params.Service,
		store:      params.Store,
		registry:   params.Registry,
		native:     params.Native,
		ai:         params.AI,
		machine:    resolution.NewMachine(),
		identities: identity.NewCache(),
	}
}

// StartTest resets all per-test state and checks the test in with the
// service.
func (s *Session) StartTest(ctx context.Context, name string) error {
	const op = "StartTest"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.TestCase, name))

	if name == "" {
		return apperr.InvalidReqError(op, "test_case", errors.New("test name cannot be empty"))
	}

	if pending := s.registry.CancelAll(); pending > 0 {
		logger.Warn("Cancelled classifications left over from the previous test", zap.Int("count", pending))
	}

	s.machine.Reset()
	s.identities.Reset()
	s.test = &entity.TestCase{
		Name:      name,
		StartedAt: time.Now(),
		Attempt:   1,
	}

	if err := s.service.CheckIn(ctx, name); err != nil {
		logger.Warn("Check-in failed", zap.Error(err))
	}

	logger.Info("Test started")

	return nil
}

// EndTest cancels whatever is still waiting and removes the temporary
// screenshots of the test.
func (s *Session) EndTest(ctx context.Context) error {
	const op = "EndTest"
	logger := s.logger.With(zap.String(logg.Operation, op))

	s.registry.CancelAll()

	if s.test != nil {
		logger = logger.With(zap.String(logg.TestCase, s.test.Name))
		s.test = nil
	}

	removed, err := s.store.Purge()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaStage: apperr.StageScreenshot,
		})
	}

	logger.Info("Test ended", zap.Int("screenshots_removed", len(removed)))

	return nil
}

// Fail is the test failure signal. The failure is attributed to the last
// locate call, which arms backup mode if that call was structural.
func (s *Session) Fail(cause error) {
	s.machine.Fail()
	cancelled := s.registry.CancelAll()

	s.logger.Info("Test failure reported",
		zap.String(logg.Operation, "Fail"),
		zap.Bool("backup_mode", s.machine.BackupMode()),
		zap.Int("cancelled", cancelled),
		zap.Error(cause))
}

// Abort force-cancels every pending classification. Safe to call from any
// goroutine.
func (s *Session) Abort() int {
	return s.registry.CancelAll()
}

func (s *Session) Get(ctx context.Context, selector string) (*entity.Element, error) {
	return s.locate(ctx, selector, entity.CommandGet)
}

func (s *Session) Find(ctx context.Context, selector string) (*entity.Element, error) {
	return s.locate(ctx, selector, entity.CommandFind)
}

// GetByAI resolves selector through the AI path regardless of its state.
func (s *Session) GetByAI(ctx context.Context, selector string) (el *entity.Element, err error) {
	scope, err := s.scope("GetByAI", selector)
	if err != nil {
		return nil, err
	}

	s.machine.Touch(selector)
	s.machine.Record(selector, entity.CommandGetByAI, entity.ModeUseAI)

	return s.ai.Locate(ctx, scope, selector)
}

// FindByAI resolves a human-readable description of an element.
func (s *Session) FindByAI(ctx context.Context, description string) (el *entity.Element, err error) {
	scope, err := s.scope("FindByAI", description)
	if err != nil {
		return nil, err
	}

	s.machine.Touch(description)
	s.machine.Record(description, entity.CommandFindByAI, entity.ModeUseAI)

	return s.ai.Describe(ctx, scope, description)
}

func (s *Session) locate(ctx context.Context, selector string, kind entity.CommandKind) (el *entity.Element, err error) {
	op := string(kind)
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	scope, err := s.scope(op, selector)
	if err != nil {
		return nil, err
	}

	mode := s.machine.Route(selector)
	record := s.machine.Record(selector, kind, mode)

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.String("selector", selector),
		attribute.String("mode", string(mode)),
		attribute.Int("command_index", record.Index))
	defer func() {
		step.End(err)
	}()

	if mode == entity.ModeUseAI {
		logger.Info("Resolving with AI")

		return s.ai.Locate(ctx, scope, selector)
	}

	return s.native.Locate(ctx, scope, selector)
}

func (s *Session) scope(op, selector string) (Scope, error) {
	if selector == "" {
		return Scope{}, apperr.InvalidReqError(op, "selector", errors.New("selector cannot be empty"))
	}

	if s.test == nil {
		return Scope{}, apperr.Wrap(op, apperr.CodeInvalidArgument, ErrNoTest, map[string]any{
			apperr.MetaReason:   "no_test",
			apperr.MetaSelector: selector,
		})
	}

	return Scope{
		TestCaseID: s.test.Name,
		Identities: s.identities,
	}, nil
}

// Run executes fn as test name, retrying up to attempts times. State survives
// between attempts so that a structural lookup that failed one attempt is
// resolved with AI on the next.
func (s *Session) Run(ctx context.Context, name string, attempts int, fn func(ctx context.Context) error) (err error) {
	const op = "Run"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.TestCase, name))

	if attempts < 1 {
		attempts = 1
	}

	if err := s.StartTest(ctx, name); err != nil {
		return err
	}

	defer func() {
		if endErr := s.EndTest(ctx); endErr != nil {
			logger.Warn("Failed to end test", zap.Error(endErr))
		}
	}()

	for attempt := 1; attempt <= attempts; attempt++ {
		s.test.Attempt = attempt

		err = fn(ctx)
		if err == nil {
			return nil
		}

		s.Fail(err)

		if ctx.Err() != nil {
			return err
		}

		if attempt < attempts {
			logger.Info("Retrying test", zap.Int(logg.Attempt, attempt+1), zap.Error(err))
		}
	}

	return err
}

func (s *Session) CurrentTest() (entity.TestCase, bool) {
	if s.test == nil {
		return entity.TestCase{}, false
	}

	return *s.test, true
}

func (s *Session) History() []entity.CommandRecord {
	return s.machine.History()
}

func (s *Session) BackupMode() bool {
	return s.machine.BackupMode()
}
