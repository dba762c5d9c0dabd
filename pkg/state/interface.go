package state

import (
	"fmt"

	"github.com/google/uuid"
)

// Registry tracks live connections and the topics they are members of.
type Registry interface {
	// --- Connection Lifecycle ---
	RegisterConnection(t Transport, ipAddr string) (*Connection, error)
	// removes the connection and all of its topic memberships. Idempotent.
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	AllConnections() []*Connection

	// --- User Management ---
	// links a verified identity to a registered connection.
	AssociateUser(connID uuid.UUID, ident *Identity) error
	UserConnectionCount(userID string) int
	FindOldestUserConnection(userID string) (*Connection, bool)

	// --- Topic Membership ---
	// adds the connection to a topic. Fails with ErrUnauthenticated when no identity is
	// associated and ErrForbidden when the identity's role lacks the topic's permission.
	Admit(connID uuid.UUID, topic string) error
	// Allowed runs the same identity and policy checks as Admit without joining.
	Allowed(ident *Identity, topic string) error
	// Idempotent: removing a non-member is a no-op.
	Remove(connID uuid.UUID, topic string) error
	// returns a snapshot of the topic's members; an unknown topic yields an empty slice.
	MembersOf(topic string) []*Connection
}

// TopicPolicy maps a topic name to the permission needed to join it.
// Topics not listed only require an authenticated identity.
type TopicPolicy map[string]Permission

func DefaultTopicPolicy() TopicPolicy {
	return TopicPolicy{
		TopicTasks:              PermCollaborate,
		TopicAdminOnline:        PermObservePresence,
		TopicAdminNotifications: PermReceiveReports,
	}
}

// Check fails with ErrUnauthenticated for a missing identity and ErrForbidden when the role
// lacks the permission gating topic.
func (p TopicPolicy) Check(ident *Identity, topic string) error {
	if ident == nil {
		return ErrUnauthenticated
	}
	if required, gated := p[topic]; gated && !ident.Role.Permissions().Has(required) {
		return fmt.Errorf("topic '%s': %w", topic, ErrForbidden)
	}
	return nil
}
