// ABOUTME: In-memory fan-out of freshly ingested readings to live subscribers
// ABOUTME: Subscribers register per sensor system; slow subscribers miss events instead of blocking ingestion

package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Event is one stored reading as delivered to stream subscribers.
type Event struct {
	ID             string    `json:"id"`
	SensorSystemID string    `json:"sensor_system_id"`
	Timestamp      time.Time `json:"timestamp"`
	Temperature    float64   `json:"temperature"`
	Humidity       float64   `json:"humidity"`
	Pressure       float64   `json:"pressure"`
	Violations     []string  `json:"violations,omitempty"`
}

// Broadcaster provides in-memory pub/sub of reading events keyed by sensor system ID.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // sensorSystemID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events of one sensor system. The returned channel
// is closed when ctx is cancelled, on Unsubscribe, or when the broadcaster closes.
func (b *Broadcaster) Subscribe(ctx context.Context, sensorSystemID string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[sensorSystemID]; !ok {
		b.subscribers[sensorSystemID] = make(map[string]chan *Event)
	}
	b.subscribers[sensorSystemID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sensor_system_id", sensorSystemID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sensorSystemID, subID)
	}()

	return ch, subID
}

// Publish delivers events to every subscriber of sensorSystemID.
// Non-blocking: a subscriber whose buffer is full misses the event.
func (b *Broadcaster) Publish(sensorSystemID string, events ...*Event) {
	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subscribers[sensorSystemID]
	for subID, ch := range subs {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
				b.logger.Debug("dropped event for slow subscriber",
					"sensor_system_id", sensorSystemID,
					"sub_id", subID,
					"reading_id", ev.ID)
			}
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sensorSystemID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sensorSystemID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, sensorSystemID)
	}

	b.logger.Debug("subscriber removed", "sensor_system_id", sensorSystemID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscribers for a sensor system.
func (b *Broadcaster) SubscriberCount(sensorSystemID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sensorSystemID])
}

// Close closes all subscriber channels. Later subscriptions get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
