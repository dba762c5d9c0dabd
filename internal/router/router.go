// Package router turns inbound frames into calls on registered action handlers.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/a-essam23/taskpulse/internal/metrics"
	"github.com/a-essam23/taskpulse/pkg/state"
	"github.com/tidwall/gjson"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownAction    = errors.New("unknown action")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrHandlerPanic     = errors.New("handler panicked")
)

type ActionRouter struct {
	logger   *slog.Logger
	handlers map[string]HandlerFunc
	limiter  *RateLimiter
	metrics  *metrics.Metrics
}

func NewActionRouter(logger *slog.Logger, limiter *RateLimiter, m *metrics.Metrics) *ActionRouter {
	return &ActionRouter{
		logger:   logger.With(slog.String("component", "action_router")),
		handlers: make(map[string]HandlerFunc),
		limiter:  limiter,
		metrics:  m,
	}
}

// Handle registers h for action. Registration must finish before the first Dispatch.
func (r *ActionRouter) Handle(action string, h HandlerFunc) {
	r.handlers[action] = h
}

// Dispatch runs the handler named by msg's "action" field. It returns the action it read (empty
// if the frame had none) together with any failure, which the caller reports to the sender.
func (r *ActionRouter) Dispatch(ctx context.Context, conn *state.Connection, msg []byte) (action string, err error) {
	if !gjson.ValidBytes(msg) {
		return "", fmt.Errorf("%w: not valid JSON", ErrMalformedMessage)
	}
	result := gjson.GetBytes(msg, "action")
	if !result.Exists() || result.Type != gjson.String || result.String() == "" {
		return "", fmt.Errorf("%w: missing string field 'action'", ErrMalformedMessage)
	}
	action = result.String()

	handler, ok := r.handlers[action]
	if !ok {
		r.logger.Warn("Received unknown action", slog.String("action", action), slog.String("connID", conn.ID.String()))
		return action, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	ident := conn.Identity()
	if ident == nil {
		return action, state.ErrUnauthenticated
	}
	if !r.limiter.Allow(ident.UserID, action) {
		r.metrics.ActionHandled(action, ErrRateLimited)
		return action, fmt.Errorf("%w for action '%s'", ErrRateLimited, action)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Action handler panicked",
				slog.String("action", action),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
		r.metrics.ActionHandled(action, err)
	}()

	r.logger.Debug("Dispatching action", slog.String("action", action), slog.String("userID", ident.UserID))
	return action, handler(ctx, &Request{Action: action, Payload: msg, Conn: conn})
}
