package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"smartlocate/internal/config"
	"smartlocate/internal/entity"
	"smartlocate/internal/screenshot"
	"smartlocate/pkg/apperr"
	"smartlocate/pkg/logg"
	"smartlocate/pkg/tracing"

	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	browserManagerName = "BrowserManager"
	browserTracer      = "browser.manager"
	locateTimeout      = 4000
)

var ErrElementNotFound = errors.New("element not found")

// Manager drives one playwright page and exposes it as the page the
// resolution engine works on.
type Manager struct {
	config         *config.Config
	logger         *zap.Logger
	tracer         trace.Tracer
	playwright     *playwright.Playwright
	browser        playwright.Browser
	browserContext playwright.BrowserContext
	page           playwright.Page
	ready          bool
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewManager(params Params) *Manager {
	return &Manager{
		config: params.Config,
		logger: params.Logger.With(zap.String(logg.Layer, browserManagerName)),
		tracer: otel.Tracer(browserTracer),
		ready:  false,
	}
}

func (m *Manager) viewport() *playwright.Size {
	return &playwright.Size{
		Width:  m.config.BrowserConfig.ViewportWidth,
		Height: m.config.BrowserConfig.ViewportHeight,
	}
}

func (m *Manager) Launch(ctx context.Context) (err error) {
	const op = "Launch"
	logger := m.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Launching browser...")
	step.AddEvent("installing playwright")

	err = playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "playwright_install_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	step.AddEvent("starting playwright")

	pw, err := playwright.Run()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "playwright_start_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	m.playwright = pw

	if m.config.BrowserConfig.UserDataDir != "" {
		return m.launchPersistent(ctx)
	}

	return m.launchNew(ctx)
}

func (m *Manager) launchPersistent(ctx context.Context) (err error) {
	const op = "launchPersistent"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	userDataDir := m.config.BrowserConfig.UserDataDir

	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "mkdir_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	browserContext, err := m.playwright.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(m.config.BrowserConfig.Headless),
		SlowMo:   playwright.Float(float64(m.config.BrowserConfig.SlowMo)),
		Viewport: m.viewport(),
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "launch_persistent_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	m.browserContext = browserContext

	if pages := browserContext.Pages(); len(pages) > 0 {
		m.page = pages[0]
	} else {
		page, err := browserContext.NewPage()
		if err != nil {
			return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
				apperr.MetaReason: "new_page_failed",
				apperr.MetaStage:  apperr.StageBrowser,
			})
		}
		m.page = page
	}

	m.ready = true
	logger.Info("Browser launched successfully")

	return nil
}

func (m *Manager) launchNew(ctx context.Context) (err error) {
	const op = "launchNew"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.config.BrowserConfig.Headless),
		SlowMo:   playwright.Float(float64(m.config.BrowserConfig.SlowMo)),
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "browser_launch_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	m.browser = browser

	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: m.viewport(),
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "context_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	m.browserContext = browserContext

	page, err := browserContext.NewPage()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "page_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	m.page = page

	m.ready = true
	logger.Info("Browser launched successfully")

	return nil
}

func (m *Manager) Close(ctx context.Context) (err error) {
	const op = "Close"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if m.browserContext != nil {
		if err := m.browserContext.Close(); err != nil {
			logger.Warn("Failed to close context", zap.Error(err))
		}
	}

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			logger.Warn("Failed to close browser", zap.Error(err))
		}
	}

	if m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
				apperr.MetaReason: "playwright_stop_failed",
			})
		}
	}

	m.ready = false
	logger.Info("Browser closed")

	return nil
}

// activePage returns a live page, reconnecting to another open page or opening
// a new one when the current page was closed.
func (m *Manager) activePage(op string) (playwright.Page, error) {
	if !m.ready || m.browserContext == nil {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	if m.page != nil && !m.page.IsClosed() {
		return m.page, nil
	}

	m.logger.Info("Page closed, reconnecting to active page...")

	for _, p := range m.browserContext.Pages() {
		if !p.IsClosed() {
			m.page = p

			return p, nil
		}
	}

	page, err := m.browserContext.NewPage()
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeBrowserNotReady, err, map[string]any{
			apperr.MetaReason: "page_not_active",
		})
	}

	m.page = page

	return page, nil
}

func (m *Manager) Navigate(ctx context.Context, url string) (err error) {
	const op = "Navigate"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, url))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.String("url", url))
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(op)
	if err != nil {
		return err
	}

	_, err = page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(m.config.BrowserConfig.Timeout)),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "goto_failed",
			apperr.MetaStage:  apperr.StageBrowser,
			apperr.MetaURL:    url,
		})
	}

	return nil
}

// CaptureViewport takes a PNG screenshot of the visible viewport.
func (m *Manager) CaptureViewport(ctx context.Context) (shot []byte, err error) {
	const op = "CaptureViewport"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(op)
	if err != nil {
		return nil, err
	}

	shot, err = page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "screenshot_failed",
			apperr.MetaStage:  apperr.StageScreenshot,
		})
	}

	step.SetAttributes(attribute.Int("screenshot_bytes", len(shot)))

	return shot, nil
}

// Candidates returns every element inside body with its CSS-pixel rectangle.
func (m *Manager) Candidates(ctx context.Context) (boxes []entity.BoundaryBox, err error) {
	const op = "Candidates"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(op)
	if err != nil {
		return nil, err
	}

	result, err := page.Evaluate(candidatesScript)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "evaluate_failed",
			apperr.MetaStage:  apperr.StageMatching,
		})
	}

	list, ok := result.([]interface{})
	if !ok {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeInternal, "unexpected_result_type")
	}

	boxes = make([]entity.BoundaryBox, 0, len(list))

	for i, item := range list {
		elemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		boxes = append(boxes, entity.BoundaryBox{
			X:          getFloat(elemMap, "x"),
			Y:          getFloat(elemMap, "y"),
			Width:      getFloat(elemMap, "width"),
			Height:     getFloat(elemMap, "height"),
			TagName:    getString(elemMap, "tag"),
			ElementRef: i,
		})
	}

	step.SetAttributes(attribute.Int("candidates", len(boxes)))

	return boxes, nil
}

// DevicePixelRatio reads window.devicePixelRatio, falling back to the ratio
// between a fresh screenshot and the configured viewport width.
func (m *Manager) DevicePixelRatio(ctx context.Context) (ratio float64, err error) {
	const op = "DevicePixelRatio"

	page, err := m.activePage(op)
	if err != nil {
		return 0, err
	}

	result, err := page.Evaluate(pixelRatioScript)
	if err == nil {
		if ratio, ok := toFloat(result); ok && ratio > 0 {
			return ratio, nil
		}
	}

	m.logger.Debug("devicePixelRatio unavailable, measuring screenshot", zap.Error(err))

	shot, err := m.CaptureViewport(ctx)
	if err != nil {
		return 0, err
	}

	ratio, err = screenshot.Multiplier(shot, float64(m.config.BrowserConfig.ViewportWidth))
	if err != nil {
		return 0, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "pixel_ratio_failed",
			apperr.MetaStage:  apperr.StageScreenshot,
		})
	}

	return ratio, nil
}

// Query is the structural lookup: it waits briefly for selector to be
// attached and describes the first match.
func (m *Manager) Query(ctx context.Context, selector string) (element *entity.Element, err error) {
	const op = "Query"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(op)
	if err != nil {
		return nil, err
	}

	handle, err := page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(locateTimeout),
	})
	if err != nil || handle == nil {
		return nil, apperr.Wrap(op, apperr.CodeNotFound, notFound(selector, err), map[string]any{
			apperr.MetaReason:   "element_not_found",
			apperr.MetaSelector: selector,
		})
	}
	defer handle.Dispose()

	element = &entity.Element{
		Selector: selector,
		Ref:      entity.NoElementRef,
		Source:   entity.SourceDom,
	}

	if tag, err := handle.Evaluate(tagNameScript); err == nil {
		element.Tag, _ = tag.(string)
	}

	if ref, err := handle.Evaluate(elementRefScript); err == nil {
		if idx, ok := toFloat(ref); ok {
			element.Ref = int(idx)
		}
	}

	rect, err := handle.BoundingBox()
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason:   "bounding_box_failed",
			apperr.MetaSelector: selector,
		})
	}

	if rect != nil {
		element.BoundingBox = entity.BoundaryBox{
			X:          rect.X,
			Y:          rect.Y,
			Width:      rect.Width,
			Height:     rect.Height,
			TagName:    element.Tag,
			ElementRef: element.Ref,
		}
	}

	return element, nil
}

func (m *Manager) ClickAtCoordinates(ctx context.Context, x, y float64) (err error) {
	const op = "ClickAtCoordinates"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op,
		attribute.Float64("x", x),
		attribute.Float64("y", y))
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(op)
	if err != nil {
		return err
	}

	if err := page.Mouse().Click(x, y); err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "click_coordinates_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	return nil
}

// TypeText types into whatever element currently has focus.
func (m *Manager) TypeText(ctx context.Context, text string) (err error) {
	const op = "TypeText"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(op)
	if err != nil {
		return err
	}

	if err := page.Keyboard().Type(text); err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "type_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	return nil
}

func (m *Manager) IsReady() bool {
	return m.ready
}

// notFound keeps the driver error, if any, next to ErrElementNotFound so that
// a timeout can be told apart from a broken page.
func notFound(selector string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}

	return fmt.Errorf("%w: %s: %w", ErrElementNotFound, selector, cause)
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}

	return ""
}

func getFloat(m map[string]interface{}, key string) float64 {
	v, _ := toFloat(m[key])

	return v
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
