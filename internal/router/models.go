package router

import (
	"context"

	"github.com/a-essam23/taskpulse/pkg/state"
)

// Request is one inbound client frame after its action tag has been read.
type Request struct {
	Action  string
	Payload []byte
	Conn    *state.Connection
}

// Identity is shorthand for the sender's resolved identity. Dispatch only runs for
// authenticated connections, so it is never nil inside a handler.
func (r *Request) Identity() *state.Identity {
	return r.Conn.Identity()
}

// HandlerFunc processes a single action. A returned error is reported to the sender only.
type HandlerFunc func(ctx context.Context, req *Request) error
