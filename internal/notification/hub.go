package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultBuffer is the per-subscriber event buffer.
	DefaultBuffer = 16
	// DefaultHeartbeat spaces ping events on idle streams.
	DefaultHeartbeat = 30 * time.Second
)

// Subscription is the single live stream registered for an account.
type Subscription struct {
	accountID string
	events    chan Event
	done      chan struct{}
	once      sync.Once
}

// AccountID returns the subscribed account.
func (s *Subscription) AccountID() string { return s.accountID }

// Events yields delivered events. The channel is never closed; watch Done.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed when the subscription is replaced or removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// offer delivers without blocking and reports whether the event was queued.
func (s *Subscription) offer(event Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

// Hub is the process-wide registry of at most one subscription per account.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	logger *slog.Logger
}

// NewHub creates an empty registry.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]*Subscription), buffer: buffer, logger: logger}
}

// Subscribe registers a new stream for the account, replacing any older one.
func (h *Hub) Subscribe(accountID string) *Subscription {
	sub := &Subscription{
		accountID: accountID,
		events:    make(chan Event, h.buffer),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	old := h.subs[accountID]
	h.subs[accountID] = sub
	h.mu.Unlock()

	if old != nil {
		old.close()
	}
	return sub
}

// Unsubscribe removes sub if it is still the registered stream.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if h.subs[sub.accountID] == sub {
		delete(h.subs, sub.accountID)
	}
	h.mu.Unlock()
	sub.close()
}

// Publish delivers to the account's subscriber, if any. It never blocks; an
// event is dropped when the subscriber's buffer is full.
func (h *Hub) Publish(_ context.Context, accountID string, event Event) error {
	h.mu.RLock()
	sub := h.subs[accountID]
	h.mu.RUnlock()

	if sub == nil {
		return nil
	}
	if !sub.offer(event) {
		h.logger.Debug("event dropped", "kind", event.Type, "account_id", accountID)
	}
	return nil
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every live subscription so open streams can return.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// RunHeartbeat pings every subscriber on each tick until ctx is cancelled.
func (h *Hub) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcast(NewEvent(KindPing, nil))
		}
	}
}

func (h *Hub) broadcast(event Event) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.offer(event)
	}
}
