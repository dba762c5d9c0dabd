// Package gateway holds the per-connection protocol handlers for the task and presence paths.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/a-essam23/taskpulse/pkg/state"
)

type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateActive
	StateRejected
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// protocol is what a gateway plugs into a Session.
type protocol interface {
	authorize(ident *state.Identity) error
	activate(ctx context.Context, conn *state.Connection) error
	message(ctx context.Context, conn *state.Connection, msg []byte)
	cleanup(ctx context.Context, conn *state.Connection)
}

// Gateway opens sessions for one WebSocket path.
type Gateway interface {
	Name() string
	NewSession(logger *slog.Logger) *Session
}

// Session walks one connection through Connecting, Authenticated, Active and Closed, or
// through Rejected when it may not proceed. Cleanup runs exactly once and only for sessions
// that became active.
type Session struct {
	proto  protocol
	logger *slog.Logger

	st        atomic.Int32
	conn      *state.Connection
	closeOnce sync.Once
}

func newSession(p protocol, logger *slog.Logger) *Session {
	return &Session{proto: p, logger: logger}
}

func (s *Session) State() SessionState {
	return SessionState(s.st.Load())
}

// Authenticate checks the identity resolved during the handshake. authErr is the verifier's
// failure, if any.
func (s *Session) Authenticate(ident *state.Identity, authErr error) error {
	if s.State() != StateConnecting {
		return fmt.Errorf("authenticate in state %s", s.State())
	}
	if authErr != nil {
		s.st.Store(int32(StateRejected))
		return fmt.Errorf("%w: %w", state.ErrUnauthenticated, authErr)
	}
	if ident == nil {
		s.st.Store(int32(StateRejected))
		return fmt.Errorf("%w: no credential presented", state.ErrUnauthenticated)
	}
	if err := s.proto.authorize(ident); err != nil {
		s.st.Store(int32(StateRejected))
		return err
	}
	s.st.Store(int32(StateAuthenticated))
	return nil
}

// Activate runs once conn is registered and carries its identity. A Close that lands while
// activation is in flight is honoured once activation finishes.
func (s *Session) Activate(ctx context.Context, conn *state.Connection) error {
	if s.State() != StateAuthenticated {
		return fmt.Errorf("activate in state %s", s.State())
	}
	s.conn = conn
	if err := s.proto.activate(ctx, conn); err != nil {
		s.st.CompareAndSwap(int32(StateAuthenticated), int32(StateRejected))
		return err
	}
	if !s.st.CompareAndSwap(int32(StateAuthenticated), int32(StateActive)) {
		s.proto.cleanup(context.WithoutCancel(ctx), conn)
		return fmt.Errorf("session closed during activation")
	}
	return nil
}

// HandleMessage is the transport's message callback. Frames outside the active state are dropped.
func (s *Session) HandleMessage(ctx context.Context, msg []byte) {
	if s.State() != StateActive {
		s.logger.Debug("Dropping message for inactive session", slog.String("state", s.State().String()))
		return
	}
	s.proto.message(ctx, s.conn, msg)
}

// Close ends the session. Only the first call has any effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		prev := SessionState(s.st.Swap(int32(StateClosed)))
		if prev != StateActive {
			return
		}
		// the connection context is already cancelled here
		s.proto.cleanup(context.Background(), s.conn)
	})
}
