package apperr

import (
	"errors"
	"fmt"
)

const (
	MetaReason   = "reason"
	MetaStage    = "stage"
	MetaField    = "field"
	MetaTestCase = "test_case"
	MetaSelector = "selector"
	MetaURL      = "url"
	MetaStatus   = "status_code"

	StageConfig      = "config"
	StageBrowser     = "browser"
	StageScreenshot  = "screenshot"
	StageService     = "service"
	StageMatching    = "matching"
	StageClassify    = "classify"
	StageUpload      = "upload"
	StageInteraction = "interaction"

	CodeInternal              = "internal"
	CodeInvalidArgument       = "invalid_argument"
	CodeNotFound              = "not_found"
	CodeNoMatchFound          = "no_match_found"
	CodeClassificationTimeout = "classification_timeout"
	CodeClassificationFailed  = "classification_failed"
	CodeUploadFailed          = "upload_failed"
	CodeServiceError          = "service_error"
	CodeConfigError           = "config_error"
	CodeCancelled             = "cancelled"
	CodeBrowserNotReady       = "browser_not_ready"
	CodeActionFailed          = "action_failed"
)

type Error struct {
	Op       string
	Code     string
	Err      error
	Metadata map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(op, code string, err error, metadata map[string]any) error {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &Error{
		Op:       op,
		Code:     code,
		Err:      err,
		Metadata: metadata,
	}
}

func WrapWithReason(op, code string, err error, reason string) error {
	return Wrap(op, code, err, map[string]any{
		MetaReason: reason,
	})
}

func WrapErrorWithReason(op, code, reason string) error {
	return Wrap(op, code, errors.New(reason), map[string]any{
		MetaReason: reason,
	})
}

func InvalidReqError(op, field string, err error) error {
	return Wrap(op, CodeInvalidArgument, err, map[string]any{
		MetaField:  field,
		MetaReason: "invalid_request",
	})
}

func NotFoundError(op string, err error) error {
	return Wrap(op, CodeNotFound, err, map[string]any{
		MetaReason: "not_found",
	})
}

// Code returns the code of the outermost *Error in the chain, or "" if none.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	return ""
}

// HasCode reports whether any *Error in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var appErr *Error
		if !errors.As(err, &appErr) {
			return false
		}

		if appErr.Code == code {
			return true
		}

		err = appErr.Err
	}

	return false
}
