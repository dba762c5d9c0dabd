package router

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ParseRate reads a limit written as "<count>/<unit>", unit one of s, m or h.
// An empty string means unlimited and yields a zero limit.
func ParseRate(spec string) (int, time.Duration, error) {
	if strings.TrimSpace(spec) == "" {
		return 0, 0, nil
	}
	parts := strings.Split(spec, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate limit format: %s", spec)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("invalid rate limit count: %s", parts[0])
	}

	var window time.Duration
	switch strings.ToLower(strings.TrimSpace(parts[1])) {
	case "s":
		window = time.Second
	case "m":
		window = time.Minute
	case "h":
		window = time.Hour
	default:
		return 0, 0, fmt.Errorf("invalid rate limit duration unit: %s", parts[1])
	}
	return limit, window, nil
}

type window struct {
	requests int
	timer    *time.Timer
}

// RateLimiter is a fixed-window counter per (user, action). A window opens on the first
// request and is forgotten when it expires.
type RateLimiter struct {
	limit  int
	period time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	windows map[string]*window
}

// NewRateLimiter builds a limiter from a "<count>/<unit>" spec. It returns nil, which allows
// everything, when spec is empty.
func NewRateLimiter(logger *slog.Logger, spec string) (*RateLimiter, error) {
	limit, period, err := ParseRate(spec)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		return nil, nil
	}
	return &RateLimiter{
		limit:   limit,
		period:  period,
		logger:  logger,
		windows: make(map[string]*window),
	}, nil
}

// Allow counts one request and reports whether it fits in the current window.
func (l *RateLimiter) Allow(userID, action string) bool {
	if l == nil {
		return true
	}
	key := userID + "\x00" + action

	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.windows[key]
	if !found {
		w = &window{requests: 1}
		w.timer = time.AfterFunc(l.period, func() {
			l.logger.Debug("Auto-cleaning expired rate limit window", slog.String("userID", userID), slog.String("action", action))
			l.mu.Lock()
			if l.windows[key] == w {
				delete(l.windows, key)
			}
			l.mu.Unlock()
		})
		l.windows[key] = w
		return true
	}
	if w.requests < l.limit {
		w.requests++
		return true
	}
	return false
}

// Stop cancels every pending window timer.
func (l *RateLimiter) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		w.timer.Stop()
		delete(l.windows, key)
	}
}
