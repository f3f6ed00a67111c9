// Package errors provides the structured application error type used across
// churnkit. Every failure surfaced to a caller carries a stable
// machine-readable code, a human message and optional details, so API
// consumers can distinguish "fix your input" from "retrain the model" from
// "server fault" without parsing prose.
package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Stable error codes. Validation codes map to 4xx responses, not-found codes
// to 404 and internal codes to 500.
const (
	CodeBadRequest          = "bad_request"
	CodeInvalidTargetLabels = "invalid_target_labels"
	CodeDatasetTooSmall     = "dataset_too_small"
	CodeTargetNotBinary     = "target_not_binary"
	CodeUnsupportedModel    = "unsupported_model"
	CodeMissingFields       = "missing_fields"
	CodeInvalidFieldValue   = "invalid_field_value"

	CodeModelNotFound        = "model_not_found"
	CodeModelArtifactMissing = "model_artifact_missing"
	CodeProcessedFileMissing = "processed_file_missing"

	CodeTrainingFailed     = "training_failed"
	CodePredictionFailed   = "prediction_failed"
	CodeModelSaveFailed    = "model_save_failed"
	CodeModelLoadFailed    = "model_load_failed"
	CodeMetadataIncomplete = "model_metadata_incomplete"
	CodeInternal           = "internal_error"
)

// AppError is a controlled application error that maps to a clean API
// response. The zero Details map is never mutated after construction.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	cause      error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// MarshalZerologObject writes the structured error fields to a log event.
func (e *AppError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("code", e.Code).Str("message", e.Message).Int("status", e.HTTPStatus)
	if len(e.Details) > 0 {
		ev.Interface("details", e.Details)
	}
	if e.cause != nil {
		ev.AnErr("cause", e.cause)
	}
}

// New creates an AppError with a stack trace attached.
func New(code, message string, status int) error {
	return errors.WithStack(&AppError{Code: code, Message: message, HTTPStatus: status})
}

// NewWithDetails creates an AppError carrying structured details.
func NewWithDetails(code, message string, status int, details map[string]any) error {
	return errors.WithStack(&AppError{Code: code, Message: message, HTTPStatus: status, Details: details})
}

// BadRequest builds a validation error (HTTP 400).
func BadRequest(code, message string, details map[string]any) error {
	return errors.WithStack(&AppError{Code: code, Message: message, HTTPStatus: http.StatusBadRequest, Details: details})
}

// Unprocessable builds a semantic input error (HTTP 422).
func Unprocessable(code, message string, details map[string]any) error {
	return errors.WithStack(&AppError{Code: code, Message: message, HTTPStatus: http.StatusUnprocessableEntity, Details: details})
}

// NotFound builds a resource-not-found error (HTTP 404). Callers use these
// to prompt "retrain" instead of "fix input".
func NotFound(code, message string, details map[string]any) error {
	return errors.WithStack(&AppError{Code: code, Message: message, HTTPStatus: http.StatusNotFound, Details: details})
}

// Internal wraps an unexpected lower-level failure. The underlying message
// is preserved for server-side diagnostics; the client sees code + message.
func Internal(code, message string, cause error) error {
	return errors.WithStack(&AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		cause:      cause,
	})
}

// AsAppError extracts an *AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var app *AppError
	if errors.As(err, &app) {
		return app, true
	}
	return nil, false
}

// IsCode reports whether the chain contains an AppError with the given code.
func IsCode(err error, code string) bool {
	app, ok := AsAppError(err)
	return ok && app.Code == code
}

// Wrap and friends re-export cockroachdb/errors so call sites only import
// one errors package.
func Wrap(err error, message string) error { return errors.Wrap(err, message) }

func Wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}

func Newf(format string, args ...any) error { return errors.Newf(format, args...) }

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func WithStack(err error) error { return errors.WithStack(err) }
