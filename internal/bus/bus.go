// Package bus is the broadcast channel between the Interceptor and the Bridge.
//
// Delivery is best-effort: a subscriber whose queue is full misses the
// message. Nothing is ordered across messages; receivers correlate by id.
package bus

import (
	"log/slog"
	"sync"

	"github.com/mbd888/walletguard/internal/metrics"
	"github.com/mbd888/walletguard/internal/protocol"
)

// DefaultQueueSize is the per-subscriber buffer.
const DefaultQueueSize = 256

// Bus fans messages out to every interested subscription.
type Bus struct {
	mu        sync.RWMutex
	subs      map[*Subscription]struct{}
	queueSize int
	closed    bool
	logger    *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize overrides the per-subscriber buffer.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New creates a bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subs:      make(map[*Subscription]struct{}),
		queueSize: DefaultQueueSize,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription receives messages of the kinds it registered for.
// An empty kind list means every kind.
type Subscription struct {
	name  string
	kinds map[protocol.Kind]bool
	ch    chan protocol.Message
	bus   *Bus
	once  sync.Once
}

// C returns the receive channel. It is closed by Close.
func (s *Subscription) C() <-chan protocol.Message { return s.ch }

// Name returns the subscriber name used in logs.
func (s *Subscription) Name() string { return s.name }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if _, ok := s.bus.subs[s]; ok {
			delete(s.bus.subs, s)
			close(s.ch)
		}
		s.bus.mu.Unlock()
	})
}

func (s *Subscription) wants(k protocol.Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Subscribe registers a new subscriber for the given kinds.
// Subscribing to a closed bus returns an already-closed subscription.
func (b *Bus) Subscribe(name string, kinds ...protocol.Kind) *Subscription {
	s := &Subscription{
		name:  name,
		kinds: make(map[protocol.Kind]bool, len(kinds)),
		ch:    make(chan protocol.Message, b.queueSize),
		bus:   b,
	}
	for _, k := range kinds {
		s.kinds[k] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish broadcasts msg without blocking. It never fails.
func (b *Bus) Publish(msg protocol.Message) {
	if msg == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if !s.wants(msg.Kind()) {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			metrics.BusDroppedTotal.WithLabelValues(string(msg.Kind())).Inc()
			b.logger.Warn("bus queue full, dropping message",
				"subscriber", s.name,
				"kind", msg.Kind(),
				"correlation_id", msg.Correlation())
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches every subscriber and turns Publish into a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}
