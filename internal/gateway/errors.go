package gateway

import (
	"errors"
	"fmt"

	"github.com/a-essam23/taskpulse/internal/router"
	"github.com/a-essam23/taskpulse/internal/storage"
	"github.com/a-essam23/taskpulse/pkg/state"
	"github.com/a-essam23/taskpulse/pkg/transport"
	"github.com/coder/websocket"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrMalformedMessage = router.ErrMalformedMessage
	ErrUnknownAction    = router.ErrUnknownAction
	ErrSelfShare        = fmt.Errorf("cannot share a task with yourself: %w", state.ErrForbidden)
	ErrStorage          = errors.New("storage failure")
)

const internalErrorMessage = "internal error"

// clientMessage is the text reported to the sender for a failed request. Storage and
// internal failures are never described in detail.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrStorage), errors.Is(err, router.ErrHandlerPanic):
		return internalErrorMessage
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrMalformedMessage),
		errors.Is(err, ErrUnknownAction),
		errors.Is(err, router.ErrRateLimited),
		errors.Is(err, state.ErrForbidden),
		errors.Is(err, state.ErrUnauthenticated),
		errors.Is(err, storage.ErrNotFound):
		return err.Error()
	default:
		return internalErrorMessage
	}
}

// isClientError reports whether err was caused by the request rather than the server.
func isClientError(err error) bool {
	return clientMessage(err) != internalErrorMessage
}

// CloseErrorFor picks the WebSocket close status for a session that could not be opened.
func CloseErrorFor(err error) *transport.CloseError {
	switch {
	case errors.Is(err, state.ErrUnauthenticated):
		return &transport.CloseError{Code: websocket.StatusPolicyViolation, Reason: "unauthenticated"}
	case errors.Is(err, state.ErrForbidden):
		return &transport.CloseError{Code: websocket.StatusPolicyViolation, Reason: "forbidden"}
	default:
		return &transport.CloseError{Code: websocket.StatusInternalError, Reason: internalErrorMessage}
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
