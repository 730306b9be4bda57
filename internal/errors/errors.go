// Package errors maps domain errors onto HTTP error responses and carries
// the typed errors the CLI and server raise themselves.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/fleetplan/pkg/deployplan"
	"github.com/3leaps/fleetplan/pkg/jobspec"
	"github.com/3leaps/fleetplan/pkg/manifest"
	"github.com/3leaps/fleetplan/pkg/planregistry"
)

// Error codes returned in HTTPErrorResponse.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInvalidDeployment  = "INVALID_DEPLOYMENT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorBody is the payload of an error response.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the JSON envelope for every error the server returns.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HTTPError is an error with an explicit status and code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewNotFound returns a 404 error.
func NewNotFound(message string) *HTTPError {
	return &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

// NewBadRequest returns a 400 error.
func NewBadRequest(message string) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message}
}

// NewMethodNotAllowed returns a 405 error.
func NewMethodNotAllowed(method string) *HTTPError {
	return &HTTPError{
		Status:  http.StatusMethodNotAllowed,
		Code:    CodeMethodNotAllowed,
		Message: fmt.Sprintf("method %s not allowed", method),
	}
}

// NewServiceUnavailable returns a 503 error with details.
func NewServiceUnavailable(message string, details map[string]any) *HTTPError {
	return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Details: details}
}

// NewExternalServiceError reports an unreachable dependency.
func NewExternalServiceError(message string) *HTTPError {
	return NewServiceUnavailable(message, nil)
}

// NewRateLimited returns a 429 error.
func NewRateLimited() *HTTPError {
	return &HTTPError{Status: http.StatusTooManyRequests, Code: CodeRateLimited, Message: "rate limit exceeded"}
}

// WrapInternal wraps err as a 500 error. A canceled ctx reports 503 instead.
func WrapInternal(ctx context.Context, err error, message string) *HTTPError {
	if ctx != nil && ctx.Err() != nil {
		return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Err: err}
	}
	return &HTTPError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
}

// Classify maps err onto an HTTPError.
func Classify(err error) *HTTPError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	switch {
	case errors.Is(err, planregistry.ErrPlanNotFound), errors.Is(err, manifest.ErrManifestNotFound):
		return &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, manifest.ErrValidationFailed), errors.Is(err, jobspec.ErrInvalidJobSpec),
		errors.Is(err, planregistry.ErrInvalidPlanID):
		return &HTTPError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: err.Error(), Err: err}
	case deployplan.IsConfigurationError(err):
		return &HTTPError{Status: http.StatusUnprocessableEntity, Code: CodeInvalidDeployment, Message: err.Error(), Err: err}
	}
	return &HTTPError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal server error", Err: err}
}

// RespondWithError writes err as an HTTPErrorResponse.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := Classify(err)
	body := HTTPErrorResponse{Error: ErrorBody{
		Code:    httpErr.Code,
		Message: httpErr.Message,
		Details: httpErr.Details,
	}}
	if r != nil {
		body.Error.RequestID = chimw.GetReqID(r.Context())
	}
	WriteJSON(w, httpErr.Status, body)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
