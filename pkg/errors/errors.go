// Package errors defines the pipeline error taxonomy and its mapping to
// HTTP status codes. Input-validation errors surface to callers verbatim;
// retrieval degradations are absorbed upstream and only total retrieval
// failure becomes user-visible.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyQuery rejects empty or whitespace-only queries before any
	// retrieval work happens.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrRetrievalUnavailable marks one retrieval source as down. The
	// pipeline degrades to the surviving source.
	ErrRetrievalUnavailable = errors.New("retrieval source unavailable")

	// ErrTotalRetrievalFailure means both the vector store and the lexical
	// index failed for one request.
	ErrTotalRetrievalFailure = errors.New("all retrieval sources unavailable")

	// ErrRerankModelUnavailable is internal: the cross-encoder could not
	// score a batch and the heuristic fallback took over. Never surfaced.
	ErrRerankModelUnavailable = errors.New("rerank model unavailable")

	// ErrNoCandidatesInBudget should be unreachable given the assembler's
	// invariant; treat an occurrence as an assertion failure.
	ErrNoCandidatesInBudget = errors.New("context budget admitted no candidates")

	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrTimeout      = errors.New("operation timed out")
)

// AppError carries a sentinel, a client-facing message, and an HTTP status.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps a sentinel in an AppError with the given status and message.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf is New with a formatted message.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status code the handler should write.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrEmptyQuery), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTotalRetrievalFailure), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage returns the text safe to show callers. Retrieval failures
// deliberately hide backend detail.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrEmptyQuery):
		return "query must not be empty"
	case errors.Is(err, ErrInvalidInput):
		var appErr *AppError
		if errors.As(err, &appErr) {
			return appErr.Message
		}
		return "invalid request"
	case errors.Is(err, ErrTotalRetrievalFailure):
		return "search is temporarily unavailable"
	default:
		return "internal error"
	}
}
