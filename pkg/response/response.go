package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

var encodeLogger atomic.Pointer[slog.Logger]

// SetLogger routes encoding failures to logger. A nil logger restores slog.Default.
func SetLogger(logger *slog.Logger) {
	if logger != nil {
		logger = logger.With("component", "response")
	}
	encodeLogger.Store(logger)
}

func errorLogger() *slog.Logger {
	if l := encodeLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorResponse carries business error details. RequiresOperatorAction marks
// errors that only out-of-band reconciliation can resolve.
type ErrorResponse struct {
	Success                bool      `json:"success"`
	Error                  string    `json:"error"`
	Code                   string    `json:"code,omitempty"`
	Category               string    `json:"category,omitempty"`
	Message                string    `json:"message,omitempty"`
	Reference              string    `json:"reference,omitempty"`
	RequiresOperatorAction bool      `json:"requires_operator_action,omitempty"`
	Timestamp              time.Time `json:"timestamp"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	response := Response{
		Success:   statusCode >= 200 && statusCode < 300,
		Data:      data,
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		errorLogger().Error("encoding JSON response failed", "error", err)
	}
}

// Success sends a successful JSON response
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Created sends a created JSON response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Error sends an error JSON response
func Error(w http.ResponseWriter, statusCode int, message string, err error) {
	response := ErrorResponse{
		Success:   false,
		Message:   message,
		Timestamp: time.Now(),
	}

	if err != nil {
		response.Error = err.Error()
	}

	var be *customError.BusinessError
	if errors.As(err, &be) {
		response.Code = be.Code
		response.Category = string(be.Category)
		response.Reference = be.Reference
		response.RequiresOperatorAction = be.RequiresOperator()
		response.Error = be.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		errorLogger().Error("encoding error response failed", "error", encodeErr)
	}
}

// StatusFor maps an error to the HTTP status its category implies.
func StatusFor(err error) int {
	var be *customError.BusinessError
	if !errors.As(err, &be) {
		return http.StatusInternalServerError
	}
	if be.Code == customError.ErrCodeUnauthorized {
		return http.StatusForbidden
	}
	switch be.Category {
	case customError.CategoryValidation:
		return http.StatusBadRequest
	case customError.CategoryNotFound:
		return http.StatusNotFound
	case customError.CategoryPrecondition, customError.CategoryVerification:
		return http.StatusUnprocessableEntity
	case customError.CategoryConflict, customError.CategoryReconciliation:
		return http.StatusConflict
	case customError.CategoryRailTransient, customError.CategoryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError sends err with the status its category implies.
func FromError(w http.ResponseWriter, message string, err error) {
	Error(w, StatusFor(err), message, err)
}

// BadRequest sends a 400 bad request response
func BadRequest(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusBadRequest, message, err)
}

// NotFound sends a 404 not found response
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message, nil)
}

// InternalServerError sends a 500 internal server error response
func InternalServerError(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusInternalServerError, message, err)
}

// Unauthorized sends a 401 unauthorized response
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, message, nil)
}

// Forbidden sends a 403 forbidden response
func Forbidden(w http.ResponseWriter, message string) {
	Error(w, http.StatusForbidden, message, nil)
}

// JSONMiddleware sets JSON content type for all responses
func JSONMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create a response recorder to capture the status code
			recorder := &responseRecorder{ResponseWriter: w, statusCode: 200}

			next.ServeHTTP(recorder, r)

			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.statusCode,
				"duration", time.Since(start),
			)
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *responseRecorder) WriteHeader(statusCode int) {
	rec.statusCode = statusCode
	rec.ResponseWriter.WriteHeader(statusCode)
}
