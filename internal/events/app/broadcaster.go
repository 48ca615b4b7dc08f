package app

import (
	"sync"

	"agentex/internal/events/domain"
	"agentex/internal/logging"
)

// subscriberBuffer is how many events a slow subscriber may lag before
// deliveries to it are dropped. Subscribers recover missed events by
// listing from their cursor.
const subscriberBuffer = 64

// Broadcaster fans appended events out to live subscribers, keyed by task.
// Delivery is best-effort: the durable log is the source of truth and a
// dropped delivery only delays a subscriber until its next list.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[chan domain.Event]struct{}
	logger logging.Logger
}

// NewBroadcaster builds an empty broadcaster.
func NewBroadcaster(logger logging.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]map[chan domain.Event]struct{}),
		logger: logging.OrNop(logger),
	}
}

// Subscribe registers a listener for the task's events. The returned cancel
// function unregisters the listener and closes the channel.
func (b *Broadcaster) Subscribe(taskID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[chan domain.Event]struct{})
	}
	b.subs[taskID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[taskID], ch)
			if len(b.subs[taskID]) == 0 {
				delete(b.subs, taskID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every live subscriber of its task. Full
// subscriber buffers are skipped, never blocked on.
func (b *Broadcaster) Publish(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[event.TaskID] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping event %s for a slow subscriber on task %s", event.ID, event.TaskID)
		}
	}
}

// SubscriberCount reports how many listeners the task currently has.
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[taskID])
}
