package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/taskpulse/internal/presence"
	"github.com/a-essam23/taskpulse/pkg/state"
)

// PresenceGateway serves the admin feed. It is receive-only: admins get a presence snapshot
// on join, a full list after every presence change and, when their role allows it, the task
// reports users request.
type PresenceGateway struct {
	logger   *slog.Logger
	registry state.Registry
	tracker  *presence.Tracker
}

var _ Gateway = (*PresenceGateway)(nil)

func NewPresenceGateway(logger *slog.Logger, registry state.Registry, tracker *presence.Tracker) *PresenceGateway {
	return &PresenceGateway{
		logger:   logger.With(slog.String("component", "presence_gateway")),
		registry: registry,
		tracker:  tracker,
	}
}

func (g *PresenceGateway) Name() string { return "online_users" }

func (g *PresenceGateway) NewSession(logger *slog.Logger) *Session {
	return newSession(g, logger)
}

func (g *PresenceGateway) authorize(ident *state.Identity) error {
	if err := g.registry.Allowed(ident, state.TopicAdminOnline); err != nil {
		return fmt.Errorf("presence feed: %w", err)
	}
	return nil
}

func (g *PresenceGateway) activate(ctx context.Context, conn *state.Connection) error {
	err := g.tracker.Observe(ctx, conn, func() error {
		return g.registry.Admit(conn.ID, state.TopicAdminOnline)
	})
	if err != nil {
		return err
	}
	switch err := g.registry.Admit(conn.ID, state.TopicAdminNotifications); {
	case errors.Is(err, state.ErrForbidden):
		g.logger.Debug("Role does not receive task reports", slog.String("connID", conn.ID.String()))
	case err != nil:
		_ = g.registry.Remove(conn.ID, state.TopicAdminOnline)
		return err
	}
	return nil
}

func (g *PresenceGateway) message(_ context.Context, conn *state.Connection, _ []byte) {
	g.logger.Debug("Ignoring inbound frame on presence feed", slog.String("connID", conn.ID.String()))
}

func (g *PresenceGateway) cleanup(_ context.Context, conn *state.Connection) {
	for _, topic := range []string{state.TopicAdminOnline, state.TopicAdminNotifications} {
		if err := g.registry.Remove(conn.ID, topic); err != nil {
			g.logger.Error("Failed to leave admin topic", slog.String("connID", conn.ID.String()), slog.String("topic", topic), slog.Any("error", err))
		}
	}
}
