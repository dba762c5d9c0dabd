package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/a-essam23/taskpulse/internal/broadcast"
	"github.com/a-essam23/taskpulse/internal/gateway"
	"github.com/a-essam23/taskpulse/internal/presence"
	"github.com/a-essam23/taskpulse/internal/router"
	"github.com/a-essam23/taskpulse/internal/storage"
	"github.com/a-essam23/taskpulse/pkg/logging"
	"github.com/a-essam23/taskpulse/pkg/state"
	"github.com/a-essam23/taskpulse/pkg/state/statemanager"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

type sink struct {
	id     uuid.UUID
	mu     sync.Mutex
	frames [][]byte
}

func (s *sink) ID() uuid.UUID { return s.id }
func (s *sink) Close(error)   {}
func (s *sink) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, b)
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fixture struct {
	registry *statemanager.InMemoryManager
	store    *storage.MemoryStore
	tasks    *gateway.TaskGateway
	presence *gateway.PresenceGateway
}

var (
	regular = &state.Identity{UserID: "1", Email: "a@x.com", Role: state.RoleRegular}
	admin   = &state.Identity{UserID: "3", Email: "admin@x.com", Role: state.RoleAdmin}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithPolicy(t, nil)
}

func newFixtureWithPolicy(t *testing.T, policy state.TopicPolicy) *fixture {
	t.Helper()
	log := logging.Discard()
	store := storage.NewMemoryStore()
	for _, ident := range []*state.Identity{regular, admin} {
		if err := store.PutUser(storage.User{ID: ident.UserID, Email: ident.Email, IsStaff: ident.IsAdmin()}); err != nil {
			t.Fatal(err)
		}
	}
	registry := statemanager.NewInMemoryManager(log, policy)
	publisher := broadcast.New(log, registry, nil)
	tracker := presence.NewTracker(log, store, publisher, nil)
	return &fixture{
		registry: registry,
		store:    store,
		tasks:    gateway.NewTaskGateway(log, registry, publisher, tracker, store, store, router.NewActionRouter(log, nil, nil)),
		presence: gateway.NewPresenceGateway(log, registry, tracker),
	}
}

func (f *fixture) connect(t *testing.T, ident *state.Identity) (*state.Connection, *sink) {
	t.Helper()
	s := &sink{id: uuid.New()}
	conn, err := f.registry.RegisterConnection(s, "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.registry.AssociateUser(conn.ID, ident); err != nil {
		t.Fatal(err)
	}
	return conn, s
}

func TestSessionRejectsBeforeActivation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		gw      gateway.Gateway
		ident   *state.Identity
		authErr error
		want    error
	}{
		{name: "verifier failure", gw: f.tasks, authErr: fmt.Errorf("bad token: %w", state.ErrUnauthenticated), want: state.ErrUnauthenticated},
		{name: "no identity", gw: f.tasks, want: state.ErrUnauthenticated},
		{name: "regular user on presence", gw: f.presence, ident: regular, want: state.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.gw.NewSession(logging.Discard())
			err := s.Authenticate(tt.ident, tt.authErr)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if s.State() != gateway.StateRejected {
				t.Errorf("expected rejected, got %s", s.State())
			}
			if err := s.Activate(context.Background(), nil); err == nil {
				t.Error("a rejected session must not activate")
			}
			s.Close()
			if s.State() != gateway.StateClosed {
				t.Errorf("expected closed, got %s", s.State())
			}
		})
	}
}

func TestTaskSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn, _ := f.connect(t, regular)
	s := f.tasks.NewSession(logging.Discard())
	if s.State() != gateway.StateConnecting {
		t.Fatalf("new session should be connecting, got %s", s.State())
	}
	if err := s.Authenticate(regular, nil); err != nil || s.State() != gateway.StateAuthenticated {
		t.Fatalf("authenticate: state=%s err=%v", s.State(), err)
	}
	if err := s.Activate(ctx, conn); err != nil || s.State() != gateway.StateActive {
		t.Fatalf("activate: state=%s err=%v", s.State(), err)
	}
	if len(f.registry.MembersOf(state.TopicTasks)) != 1 {
		t.Error("active task session should be in the tasks topic")
	}
	if u, _ := f.store.GetUser(ctx, regular.UserID); !u.IsOnline {
		t.Error("user should be online while the session is active")
	}

	s.Close()
	s.Close()
	if s.State() != gateway.StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}
	if len(f.registry.MembersOf(state.TopicTasks)) != 0 {
		t.Error("closed session should have left the tasks topic")
	}
	if u, _ := f.store.GetUser(ctx, regular.UserID); u.IsOnline {
		t.Error("user should be offline once the only session closed")
	}
}

func TestPresenceSessionSnapshotAndClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	taskConn, _ := f.connect(t, regular)
	ts := f.tasks.NewSession(logging.Discard())
	if err := ts.Authenticate(regular, nil); err != nil {
		t.Fatal(err)
	}
	if err := ts.Activate(ctx, taskConn); err != nil {
		t.Fatal(err)
	}

	adminConn, adminSink := f.connect(t, admin)
	ps := f.presence.NewSession(logging.Discard())
	if err := ps.Authenticate(admin, nil); err != nil {
		t.Fatal(err)
	}
	if err := ps.Activate(ctx, adminConn); err != nil {
		t.Fatal(err)
	}
	if adminSink.count() != 1 {
		t.Fatalf("admin should get exactly the snapshot on join, got %d frames", adminSink.count())
	}

	ps.HandleMessage(ctx, []byte(`{"action":"create_task","title":"ignored"}`))
	if adminSink.count() != 1 {
		t.Error("presence feed must ignore inbound frames")
	}

	ps.Close()
	if len(f.registry.MembersOf(state.TopicAdminOnline)) != 0 {
		t.Error("closed admin session should have left the presence topic")
	}
	if u, _ := f.store.GetUser(ctx, regular.UserID); !u.IsOnline {
		t.Error("admin disconnect must not change task presence")
	}
}

func TestMessagesBeforeActivationAreDropped(t *testing.T) {
	f := newFixture(t)
	conn, sink := f.connect(t, regular)
	s := f.tasks.NewSession(logging.Discard())
	if err := s.Authenticate(regular, nil); err != nil {
		t.Fatal(err)
	}

	s.HandleMessage(context.Background(), []byte(`{"action":"nope"}`))
	if sink.count() != 0 {
		t.Error("authenticated but inactive session must not answer")
	}
	if err := s.Activate(context.Background(), conn); err != nil {
		t.Fatal(err)
	}
	s.HandleMessage(context.Background(), []byte(`{"action":"nope"}`))
	if sink.count() != 1 {
		t.Error("active session should answer with an error frame")
	}
}

func TestCloseErrorFor(t *testing.T) {
	tests := []struct {
		err    error
		code   websocket.StatusCode
		reason string
	}{
		{err: fmt.Errorf("expired: %w", state.ErrUnauthenticated), code: websocket.StatusPolicyViolation, reason: "unauthenticated"},
		{err: fmt.Errorf("admins only: %w", state.ErrForbidden), code: websocket.StatusPolicyViolation, reason: "forbidden"},
		{err: errors.New("registry exploded"), code: websocket.StatusInternalError, reason: "internal error"},
	}
	for _, tt := range tests {
		ce := gateway.CloseErrorFor(tt.err)
		if ce.Code != tt.code || ce.Reason != tt.reason {
			t.Errorf("CloseErrorFor(%v) = %v %q, want %v %q", tt.err, ce.Code, ce.Reason, tt.code, tt.reason)
		}
	}
}

func TestSelfShareIsForbidden(t *testing.T) {
	if !errors.Is(gateway.ErrSelfShare, state.ErrForbidden) {
		t.Error("self-share must classify as forbidden")
	}
}

func TestGatesFollowTopicPolicy(t *testing.T) {
	policy := state.DefaultTopicPolicy()
	policy[state.TopicTasks] = state.PermObservePresence
	policy[state.TopicAdminOnline] = state.PermCollaborate
	f := newFixtureWithPolicy(t, policy)

	if err := f.tasks.NewSession(logging.Discard()).Authenticate(regular, nil); !errors.Is(err, state.ErrForbidden) {
		t.Errorf("re-gated task topic should reject a regular user, got %v", err)
	}

	conn, sink := f.connect(t, regular)
	ps := f.presence.NewSession(logging.Discard())
	if err := ps.Authenticate(regular, nil); err != nil {
		t.Fatalf("re-gated presence feed should admit a regular user: %v", err)
	}
	if err := ps.Activate(context.Background(), conn); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if sink.count() != 1 {
		t.Errorf("expected the presence snapshot, got %d frames", sink.count())
	}
	if len(f.registry.MembersOf(state.TopicAdminNotifications)) != 0 {
		t.Error("reports stay gated to roles that may receive them")
	}
	ps.Close()
}
