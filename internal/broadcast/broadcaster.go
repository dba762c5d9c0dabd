// Package broadcast fans events out to the members of a topic.
package broadcast

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/a-essam23/taskpulse/internal/event"
	"github.com/a-essam23/taskpulse/internal/metrics"
	"github.com/a-essam23/taskpulse/pkg/state"
)

// Publisher is what gateways need from the broadcaster.
type Publisher interface {
	// Publish delivers e to every current member of topic and returns how many accepted it.
	Publish(topic string, e event.Event) (int, error)
	// SendTo delivers e to a single connection, bypassing topics.
	SendTo(conn *state.Connection, e event.Event) error
}

type Broadcaster struct {
	registry state.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// one lock per topic keeps enqueue order identical across members.
	locks sync.Map // topic -> *sync.Mutex
}

var _ Publisher = (*Broadcaster)(nil)

func New(logger *slog.Logger, registry state.Registry, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		metrics:  m,
		logger:   logger.With(slog.String("component", "broadcaster")),
	}
}

func (b *Broadcaster) topicLock(topic string) *sync.Mutex {
	mu, _ := b.locks.LoadOrStore(topic, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (b *Broadcaster) Publish(topic string, e event.Event) (int, error) {
	msg, err := event.Encode(e)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s event: %w", e.Action(), err)
	}

	mu := b.topicLock(topic)
	mu.Lock()
	members := b.registry.MembersOf(topic)
	delivered := 0
	var failed []*state.Connection
	for _, conn := range members {
		if err := conn.Transport.Send(msg); err != nil {
			b.logger.Warn("Dropping member after failed delivery",
				slog.String("topic", topic),
				slog.String("connID", conn.ID.String()),
				slog.Any("error", err),
			)
			b.metrics.DeliveryFailed(topic)
			failed = append(failed, conn)
			continue
		}
		delivered++
	}
	mu.Unlock()

	// Closing runs the connection's cleanup, which removes it from the registry. It must not
	// happen under the topic lock since cleanup may publish to this topic again.
	for _, conn := range failed {
		go conn.Transport.Close(fmt.Errorf("delivery to topic '%s' failed", topic))
	}

	b.metrics.EventPublished(topic, e.Action())
	b.logger.Debug("Published event",
		slog.String("topic", topic),
		slog.String("action", e.Action()),
		slog.Int("delivered", delivered),
		slog.Int("members", len(members)),
	)
	return delivered, nil
}

func (b *Broadcaster) SendTo(conn *state.Connection, e event.Event) error {
	msg, err := event.Encode(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.Action(), err)
	}
	if err := conn.Transport.Send(msg); err != nil {
		return fmt.Errorf("direct send to %s: %w", conn.ID, err)
	}
	return nil
}
