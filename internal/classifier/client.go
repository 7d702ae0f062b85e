package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"smartlocate/internal/config"
	"smartlocate/internal/entity"
	"smartlocate/pkg/apperr"
	"smartlocate/pkg/logg"
	"smartlocate/pkg/tracing"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	classifierClientName = "ClassifierClient"
	classifierTracer     = "classifier.client"

	pathScreenshotExists = "/api/v1/screenshots/exists"
	pathUpload           = "/api/v1/screenshots"
	pathTestCaseBox      = "/api/v1/testcase/box"
	pathFrozen           = "/api/v1/selectors/frozen"
	pathClassify         = "/api/v1/classify"
	pathCheckIn          = "/api/v1/check_in"
	pathUpdateElement    = "/api/v1/testcase/element"

	maxErrorBody = 512
)

type Client struct {
	config     *config.Config
	logger     *zap.Logger
	tracer     trace.Tracer
	httpClient *http.Client
	baseURL    string
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewClient(params Params) *Client {
	return &Client{
		config:     params.Config,
		logger:     params.Logger.With(zap.String(logg.Layer, classifierClientName)),
		tracer:     otel.Tracer(classifierTracer),
		httpClient: &http.Client{Timeout: params.Config.ServiceConfig.RequestTimeout},
		baseURL:    strings.TrimRight(params.Config.ServiceConfig.ServerURL, "/"),
	}
}

type predictedElement struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (p *predictedElement) box() *entity.BoundaryBox {
	if p == nil {
		return nil
	}

	return &entity.BoundaryBox{
		X:          p.X,
		Y:          p.Y,
		Width:      p.Width,
		Height:     p.Height,
		ElementRef: entity.NoElementRef,
	}
}

type screenshotExistsRequest struct {
	ScreenshotUUID string `json:"screenshot_uuid"`
	Label          string `json:"label"`
}

type screenshotExistsResponse struct {
	Success          bool              `json:"success"`
	ScreenshotExists bool              `json:"screenshot_exists"`
	PredictedElement *predictedElement `json:"predicted_element"`
}

type uploadRequest struct {
	Screenshot   string `json:"base64_screenshot"`
	Label        string `json:"label"`
	TestCaseName string `json:"test_case_name"`
}

type uploadResponse struct {
	Success        bool   `json:"success"`
	ScreenshotUUID string `json:"screenshot_uuid"`
	Message        string `json:"message"`
}

type testCaseBoxRequest struct {
	Label          string `json:"label"`
	ScreenshotUUID string `json:"screenshot_uuid"`
	TestCaseName   string `json:"test_case_name"`
	UseClassifier  bool   `json:"use_classifier"`
	EventID        string `json:"event_id"`
}

type boxResponse struct {
	Success          bool              `json:"success"`
	Message          string            `json:"message"`
	PredictedElement *predictedElement `json:"predicted_element"`
}

type frozenRequest struct {
	Label string `json:"label"`
}

type frozenResponse struct {
	IsFrozen bool `json:"is_frozen"`
}

type classifyRequest struct {
	Screenshot   string `json:"screenshot"`
	Label        string `json:"label"`
	TestCaseName string `json:"test_case_name"`
}

type checkInRequest struct {
	TestCaseName string `json:"test_case_name"`
}

type updateElementRequest struct {
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
	ScreenshotUUID string  `json:"screenshot_uuid"`
	Label          string  `json:"label"`
	TestCaseName   string  `json:"test_case_name"`
}

func (c *Client) CheckKnown(ctx context.Context, contentHash, selector string) (known *entity.KnownScreenshot, err error) {
	const op = "CheckKnown"
	logger := c.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	ctx, step := tracing.StartSpan(ctx, c.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	var resp screenshotExistsResponse

	if err := c.post(ctx, op, pathScreenshotExists, screenshotExistsRequest{
		ScreenshotUUID: contentHash,
		Label:          selector,
	}, &resp); err != nil {
		return nil, err
	}

	known = &entity.KnownScreenshot{Known: resp.ScreenshotExists}
	if resp.ScreenshotExists {
		known.Box = resp.PredictedElement.box()
	}

	return known, nil
}

func (c *Client) Upload(ctx context.Context, screenshot []byte, selector, testCaseID string) (upload *entity.Upload, err error) {
	const op = "Upload"
	logger := c.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	ctx, step := tracing.StartSpan(ctx, c.tracer, logger, op,
		attribute.String("selector", selector),
		attribute.Int("screenshot_bytes", len(screenshot)))
	defer func() {
		step.End(err)
	}()

	var resp uploadResponse

	if err := c.post(ctx, op, pathUpload, uploadRequest{
		Screenshot:   base64.StdEncoding.EncodeToString(screenshot),
		Label:        selector,
		TestCaseName: testCaseID,
	}, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, apperr.Wrap(op, apperr.CodeServiceError, fmt.Errorf("upload rejected: %s", resp.Message), map[string]any{
			apperr.MetaStage:  apperr.StageUpload,
			apperr.MetaReason: "upload_rejected",
		})
	}

	return &entity.Upload{UploadID: resp.ScreenshotUUID}, nil
}

func (c *Client) RequestBox(ctx context.Context, req entity.ClassificationRequest) (box *entity.BoxResponse, err error) {
	const op = "RequestBox"
	logger := c.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, req.Selector))

	ctx, step := tracing.StartSpan(ctx, c.tracer, logger, op,
		attribute.String("selector", req.Selector),
		attribute.String("event_id", req.CorrelationToken))
	defer func() {
		step.End(err)
	}()

	var resp boxResponse

	if err := c.post(ctx, op, pathTestCaseBox, testCaseBoxRequest{
		Label:          req.Selector,
		ScreenshotUUID: req.Identity.ContentHash,
		TestCaseName:   req.TestCaseID,
		UseClassifier:  false,
		EventID:        req.CorrelationToken,
	}, &resp); err != nil {
		return nil, err
	}

	return resp.entity(), nil
}

func (c *Client) CheckFrozen(ctx context.Context, selector string) (frozen bool, err error) {
	const op = "CheckFrozen"
	logger := c.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	ctx, step := tracing.StartSpan(ctx, c.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	var resp frozenResponse

	if err := c.post(ctx, op, pathFrozen, frozenRequest{Label: selector}, &resp); err != nil {
		return false, err
	}

	return resp.IsFrozen, nil
}

func (c *Client) ClassifySync(ctx context.Context, screenshot []byte, selector, testCaseID string) (box *entity.BoxResponse, err error) {
	const op = "ClassifySync"
	logger := c.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	ctx, step := tracing.StartSpan(ctx, c.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	var resp boxResponse

	if err := c.post(ctx, op, pathClassify, classifyRequest{
		Screenshot:   base64.StdEncoding.EncodeToString(screenshot),
		Label:        selector,
		TestCaseName: testCaseID,
	}, &resp); err != nil {
		return nil, err
	}

	return resp.entity(), nil
}

func (c *Client) UpdateElement(ctx context.Context, box entity.BoundaryBox, contentHash, selector, testCaseID string) (err error) {
	const op = "UpdateElement"
	logger := c.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	ctx, step := tracing.StartSpan(ctx, c.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	return c.post(ctx, op, pathUpdateElement, updateElementRequest{
		X:              box.X,
		Y:              box.Y,
		Width:          box.Width,
		Height:         box.Height,
		ScreenshotUUID: contentHash,
		Label:          selector,
		TestCaseName:   testCaseID,
	}, nil)
}

func (c *Client) CheckIn(ctx context.Context, testCaseID string) (err error) {
	const op = "CheckIn"
	logger := c.logger.With(zap.String(logg.Operation, op), zap.String(logg.TestCase, testCaseID))

	ctx, step := tracing.StartSpan(ctx, c.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	return c.post(ctx, op, pathCheckIn, checkInRequest{TestCaseName: testCaseID}, nil)
}

func (r *boxResponse) entity() *entity.BoxResponse {
	return &entity.BoxResponse{
		Success: r.Success,
		Box:     r.PredictedElement.box(),
		Message: r.Message,
	}
}

// post sends body as JSON and decodes the response into out when out is not
// nil. Transport failures and non-2xx statuses are service errors.
func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "marshal_failed",
			apperr.MetaStage:  apperr.StageService,
		})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "request_create_failed",
			apperr.MetaStage:  apperr.StageService,
		})
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.ServiceConfig.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeServiceError, err, map[string]any{
			apperr.MetaReason: "http_request_failed",
			apperr.MetaStage:  apperr.StageService,
		})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeServiceError, err, map[string]any{
			apperr.MetaReason: "read_body_failed",
			apperr.MetaStage:  apperr.StageService,
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}

		return apperr.Wrap(op, apperr.CodeServiceError, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody)), map[string]any{
			apperr.MetaReason: "api_error",
			apperr.MetaStage:  apperr.StageService,
			apperr.MetaStatus: resp.StatusCode,
		})
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apperr.Wrap(op, apperr.CodeServiceError, err, map[string]any{
			apperr.MetaReason: "unmarshal_failed",
			apperr.MetaStage:  apperr.StageService,
		})
	}

	return nil
}
