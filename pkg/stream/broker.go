package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/goplan/internal/logging"
	"github.com/aretw0/goplan/pkg/domain"
)

const defaultBuffer = 64

// Broker fans lifecycle events out to per-conversation subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the event.
// Sequence counters live only for the duration of a call; the last assigned
// number is carried across calls by the checkpoint (see Begin).
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]map[*subscription]struct{}
	seq         map[string]uint64
	buffer      int
	dropped     atomic.Uint64
	logger      *slog.Logger
}

type subscription struct {
	ch     chan domain.Event
	closed bool
}

// Option configures the Broker.
type Option func(*Broker)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger used to report dropped events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = l
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subscribers: make(map[string]map[*subscription]struct{}),
		seq:         make(map[string]uint64),
		buffer:      defaultBuffer,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe attaches to the events of a conversation.
// The channel is closed when the current (or next) call for the conversation ends,
// or when cancel is invoked, whichever happens first.
func (b *Broker) Subscribe(conversationID string) (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{ch: make(chan domain.Event, b.buffer)}
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[*subscription]struct{})
	}
	b.subscribers[conversationID][sub] = struct{}{}

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.detach(conversationID, sub)
	}
}

// Begin seeds the sequence counter of a call with the last number the
// conversation already emitted (zero for a new conversation).
func (b *Broker) Begin(conversationID string, lastSeq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[conversationID] = lastSeq
}

// Seq reports the last number assigned in the current call.
func (b *Broker) Seq(conversationID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq[conversationID]
}

// Publish stamps the event with the next sequence number and delivers it.
func (b *Broker) Publish(e domain.Event) domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq[e.ConversationID]++
	e.Seq = b.seq[e.ConversationID]
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	for sub := range b.subscribers[e.ConversationID] {
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, dropping event",
				"conversation_id", e.ConversationID, "seq", e.Seq, "type", e.Type)
		}
	}
	return e
}

// End closes every subscription of the conversation and drops its counter.
// Called when a start/resume call returns.
func (b *Broker) End(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers[conversationID] {
		b.detach(conversationID, sub)
	}
	delete(b.seq, conversationID)
}

// Counters reports how many conversations currently hold a sequence counter.
func (b *Broker) Counters() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seq)
}

// Subscribers reports the number of live subscriptions for a conversation.
func (b *Broker) Subscribers(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[conversationID])
}

// Dropped reports how many deliveries were skipped because a buffer was full.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broker) detach(conversationID string, sub *subscription) {
	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}
}
