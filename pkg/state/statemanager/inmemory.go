package statemanager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/a-essam23/taskpulse/pkg/state"
	"github.com/google/uuid"
)

type topic struct {
	mu      sync.Mutex
	members map[uuid.UUID]*state.Connection
}

type InMemoryManager struct {
	conns map[uuid.UUID]*state.Connection
	users map[string]map[uuid.UUID]*state.Connection
	// connMu guards conns and users.
	connMu sync.RWMutex

	// topicMu guards the topics map itself. Membership changes hold it for reading plus the
	// topic's own lock, so different topics never contend. Creating or dropping a topic takes it
	// for writing.
	topics  map[string]*topic
	topicMu sync.RWMutex

	policy state.TopicPolicy
	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger, policy state.TopicPolicy) *InMemoryManager {
	if policy == nil {
		policy = state.DefaultTopicPolicy()
	}
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[string]map[uuid.UUID]*state.Connection),
		topics: make(map[string]*topic),
		policy: policy,
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Registry.
var _ state.Registry = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(t state.Transport, ipAddr string) (*state.Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	connID := t.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	newConn := state.NewConnection(t, ipAddr)
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.connMu.Lock()
	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		m.connMu.Unlock()
		return nil
	}
	delete(m.conns, connID)
	if ident := conn.Identity(); ident != nil {
		if userConns, ok := m.users[ident.UserID]; ok {
			delete(userConns, connID)
			if len(userConns) == 0 {
				delete(m.users, ident.UserID)
			}
		}
	}
	m.connMu.Unlock()

	// Sweep every topic rather than trusting conn.Topics(): an Admit racing with this call
	// inserts under the topic lock, so the sweep either sees it or Admit sees the connection gone.
	for _, name := range m.topicNames() {
		m.removeMember(conn, name)
	}
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// --- User Management ---

func (m *InMemoryManager) AssociateUser(connID uuid.UUID, ident *state.Identity) error {
	if ident == nil || ident.UserID == "" {
		return state.ErrUnauthenticated
	}
	m.connMu.Lock()
	defer m.connMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return fmt.Errorf("cannot associate user: %w", state.ErrUnknownConnection)
	}
	if prev := conn.Identity(); prev != nil && prev.UserID != ident.UserID {
		return errors.New("connection is already associated with another user")
	}
	conn.SetIdentity(ident)

	userConns, exists := m.users[ident.UserID]
	if !exists {
		userConns = make(map[uuid.UUID]*state.Connection)
		m.users[ident.UserID] = userConns
	}
	userConns[connID] = conn

	m.logger.Debug("Associated connection with user", slog.String("connID", connID.String()), slog.String("userID", ident.UserID))
	return nil
}

func (m *InMemoryManager) UserConnectionCount(userID string) int {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return len(m.users[userID])
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*state.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	var oldest *state.Connection
	for _, conn := range m.users[userID] {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	return oldest, oldest != nil
}

// --- Topic Membership ---

func (m *InMemoryManager) Admit(connID uuid.UUID, name string) error {
	conn, ok := m.GetConnection(connID)
	if !ok {
		return fmt.Errorf("cannot admit to topic '%s': %w", name, state.ErrUnknownConnection)
	}
	if err := m.policy.Check(conn.Identity(), name); err != nil {
		return err
	}

	for {
		m.topicMu.RLock()
		t, exists := m.topics[name]
		if exists {
			t.mu.Lock()
			// re-check under the topic lock that the connection was not deregistered meanwhile,
			// otherwise a dead connection would linger in the member set.
			if _, live := m.GetConnection(connID); !live {
				t.mu.Unlock()
				m.topicMu.RUnlock()
				return fmt.Errorf("cannot admit to topic '%s': %w", name, state.ErrUnknownConnection)
			}
			t.members[connID] = conn
			conn.AddTopic(name)
			t.mu.Unlock()
			m.topicMu.RUnlock()
			m.logger.Debug("Connection joined topic", slog.String("connID", connID.String()), slog.String("topic", name))
			return nil
		}
		m.topicMu.RUnlock()

		m.topicMu.Lock()
		if _, exists := m.topics[name]; !exists {
			m.topics[name] = &topic{members: make(map[uuid.UUID]*state.Connection)}
		}
		m.topicMu.Unlock()
	}
}

func (m *InMemoryManager) Allowed(ident *state.Identity, name string) error {
	return m.policy.Check(ident, name)
}

func (m *InMemoryManager) Remove(connID uuid.UUID, name string) error {
	conn, ok := m.GetConnection(connID)
	if !ok {
		// deregistration already dropped every membership
		return nil
	}
	m.removeMember(conn, name)
	return nil
}

func (m *InMemoryManager) removeMember(conn *state.Connection, name string) {
	conn.DropTopic(name)

	m.topicMu.RLock()
	t, ok := m.topics[name]
	if !ok {
		m.topicMu.RUnlock()
		return
	}
	t.mu.Lock()
	delete(t.members, conn.ID)
	empty := len(t.members) == 0
	t.mu.Unlock()
	m.topicMu.RUnlock()

	if !empty {
		return
	}
	// For memory hygiene, drop the topic if it's still empty under the write lock.
	m.topicMu.Lock()
	defer m.topicMu.Unlock()
	if t, ok := m.topics[name]; ok {
		t.mu.Lock()
		if len(t.members) == 0 {
			delete(m.topics, name)
			m.logger.Debug("Removed empty topic", slog.String("topic", name))
		}
		t.mu.Unlock()
	}
}

func (m *InMemoryManager) MembersOf(name string) []*state.Connection {
	m.topicMu.RLock()
	defer m.topicMu.RUnlock()

	t, ok := m.topics[name]
	if !ok {
		return []*state.Connection{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	members := make([]*state.Connection, 0, len(t.members))
	for _, c := range t.members {
		members = append(members, c)
	}
	return members
}

func (m *InMemoryManager) topicNames() []string {
	m.topicMu.RLock()
	defer m.topicMu.RUnlock()
	names := make([]string, 0, len(m.topics))
	for name := range m.topics {
		names = append(names, name)
	}
	return names
}
