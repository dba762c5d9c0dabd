package state

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TopicTasks              = "tasks"
	TopicAdminOnline        = "admin_online"
	TopicAdminNotifications = "admin_notifications"
)

// Transport is the send side of a live connection. *transport.Connection satisfies it.
type Transport interface {
	ID() uuid.UUID
	Send(message []byte) error
	Close(err error)
}

// Identity is a verified user as seen by the realtime core.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Transport
	CreatedAt time.Time

	mu       sync.Mutex
	identity *Identity // nil until associated
	topics   map[string]struct{}
}

func NewConnection(t Transport, ipAddr string) *Connection {
	return &Connection{
		ID:        t.ID(),
		IPAddress: ipAddr,
		Transport: t,
		CreatedAt: time.Now(),
		topics:    make(map[string]struct{}),
	}
}

func (c *Connection) Identity() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// SetIdentity, AddTopic and DropTopic are for Registry implementations only.
func (c *Connection) SetIdentity(ident *Identity) {
	c.mu.Lock()
	c.identity = ident
	c.mu.Unlock()
}

// Topics returns a sorted copy of the topic names this connection belongs to.
func (c *Connection) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.topics))
	for name := range c.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Connection) AddTopic(name string) {
	c.mu.Lock()
	c.topics[name] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) DropTopic(name string) {
	c.mu.Lock()
	delete(c.topics, name)
	c.mu.Unlock()
}
