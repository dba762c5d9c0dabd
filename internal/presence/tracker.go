// Package presence keeps the persistent online flags in step with open task connections.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/a-essam23/taskpulse/internal/broadcast"
	"github.com/a-essam23/taskpulse/internal/event"
	"github.com/a-essam23/taskpulse/internal/metrics"
	"github.com/a-essam23/taskpulse/internal/storage"
	"github.com/a-essam23/taskpulse/pkg/state"
)

const defaultWriteTimeout = 5 * time.Second

// Tracker reference-counts task connections per user. A user is flagged online when their
// first connection arrives and offline when their last one leaves.
//
// Transitions for one user are serialized by a per-user lock held across the count change
// and the store write, so the store sees them in the order the connections came and went.
// The write is a bounded blocking step (WriteTimeout) and only ever blocks the same user.
type Tracker struct {
	store     storage.PresenceStore
	publisher broadcast.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	WriteTimeout time.Duration

	keys *keyedMutex

	mu     sync.Mutex
	counts map[string]int
	emails map[string]string
	// stale holds users, with their email, whose stored flag may disagree with their count.
	stale map[string]string

	// publishMu orders snapshot reads with their publication, and with observer admission.
	publishMu sync.Mutex
}

func NewTracker(logger *slog.Logger, store storage.PresenceStore, publisher broadcast.Publisher, m *metrics.Metrics) *Tracker {
	return &Tracker{
		store:        store,
		publisher:    publisher,
		metrics:      m,
		logger:       logger.With(slog.String("component", "presence")),
		WriteTimeout: defaultWriteTimeout,
		keys:         newKeyedMutex(),
		counts:       make(map[string]int),
		emails:       make(map[string]string),
		stale:        make(map[string]string),
	}
}

// Reset flags everybody offline. Only valid before any connection is accepted.
func (t *Tracker) Reset(ctx context.Context) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	if err := t.store.ResetOnline(ctx); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	return nil
}

// bound detaches from the caller's cancellation (a closing connection's context is already
// done) and applies the write timeout.
func (t *Tracker) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), t.WriteTimeout)
}

// Connect records a new task connection for ident. It reports whether the user just came
// online. A store failure is returned but the connection still counts, and the write is
// retried on the user's next transition or the next snapshot.
func (t *Tracker) Connect(ctx context.Context, ident *state.Identity) (bool, error) {
	unlock := t.keys.Lock(ident.UserID)
	defer unlock()

	t.mu.Lock()
	t.counts[ident.UserID]++
	first := t.counts[ident.UserID] == 1
	t.emails[ident.UserID] = ident.Email
	_, retry := t.stale[ident.UserID]
	online := len(t.counts)
	t.mu.Unlock()
	t.metrics.SetOnlineUsers(online)

	if !first && !retry {
		return false, nil
	}
	return first, t.write(ctx, ident.UserID, ident.Email, true)
}

// Disconnect records that one of ident's task connections closed. It reports whether the user
// just went offline. Calling it more times than Connect is a no-op.
func (t *Tracker) Disconnect(ctx context.Context, ident *state.Identity) (bool, error) {
	unlock := t.keys.Lock(ident.UserID)
	defer unlock()

	t.mu.Lock()
	n, ok := t.counts[ident.UserID]
	if !ok {
		t.mu.Unlock()
		return false, nil
	}
	last := n <= 1
	if last {
		delete(t.counts, ident.UserID)
		delete(t.emails, ident.UserID)
	} else {
		t.counts[ident.UserID] = n - 1
	}
	_, retry := t.stale[ident.UserID]
	online := len(t.counts)
	t.mu.Unlock()
	t.metrics.SetOnlineUsers(online)

	if !last && !retry {
		return false, nil
	}
	return last, t.write(ctx, ident.UserID, ident.Email, !last)
}

// write stores the flag. On failure the user is marked stale until a later write succeeds.
// Callers hold the user's key lock.
func (t *Tracker) write(ctx context.Context, userID, email string, online bool) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	err := t.store.SetOnline(ctx, userID, online)

	t.mu.Lock()
	if err != nil {
		t.stale[userID] = email
	} else {
		delete(t.stale, userID)
	}
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("set user %s online=%t: %w", userID, online, err)
	}
	return nil
}

// retryStale rewrites the flag of every stale user from their current count.
func (t *Tracker) retryStale(ctx context.Context) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.stale))
	for id := range t.stale {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		unlock := t.keys.Lock(id)
		t.mu.Lock()
		email, ok := t.stale[id]
		online := t.counts[id] > 0
		t.mu.Unlock()
		if ok {
			if err := t.write(ctx, id, email, online); err != nil {
				t.logger.Warn("Presence write retry failed", slog.String("userID", id), slog.Any("error", err))
			}
		}
		unlock()
	}
}

// Snapshot returns the emails of online users, sorted. The store is authoritative except for
// users whose last write failed, whose entry follows the in-memory count. If the store cannot
// be read the counts are used instead.
func (t *Tracker) Snapshot(ctx context.Context) []string {
	t.retryStale(ctx)

	sctx, cancel := t.bound(ctx)
	defer cancel()
	users, err := t.store.ListOnline(sctx)
	if err != nil {
		t.logger.Error("Failed to read presence store, serving in-memory snapshot", slog.Any("error", err))
		return t.cached()
	}
	return t.overlay(users)
}

func (t *Tracker) overlay(users []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.stale) == 0 {
		return users
	}

	set := make(map[string]struct{}, len(users))
	for _, email := range users {
		set[email] = struct{}{}
	}
	for id, email := range t.stale {
		if t.counts[id] > 0 {
			set[email] = struct{}{}
		} else {
			delete(set, email)
		}
	}
	merged := make([]string, 0, len(set))
	for email := range set {
		merged = append(merged, email)
	}
	sort.Strings(merged)
	return merged
}

func (t *Tracker) cached() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := make([]string, 0, len(t.emails))
	for _, email := range t.emails {
		users = append(users, email)
	}
	sort.Strings(users)
	return users
}

// Announce publishes the current snapshot to the admin topic.
func (t *Tracker) Announce(ctx context.Context) {
	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	users := t.Snapshot(ctx)
	if _, err := t.publisher.Publish(state.TopicAdminOnline, event.OnlineUsers{Users: users, At: time.Now()}); err != nil {
		t.logger.Error("Failed to publish presence update", slog.Any("error", err))
	}
}

// Observe admits an admin connection via admit and then sends it the current snapshot
// directly. Holding publishMu across both means no delta can slip in between, so the observer
// never sees an older list after a newer one.
func (t *Tracker) Observe(ctx context.Context, conn *state.Connection, admit func() error) error {
	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	if err := admit(); err != nil {
		return err
	}
	users := t.Snapshot(ctx)
	return t.publisher.SendTo(conn, event.OnlineUsers{Users: users, At: time.Now()})
}
