package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/fieldsvc/dispatchd/internal/logger"
)

var (
	ErrQueueClosed    = errors.New("queue is closed")
	ErrQueueFull      = errors.New("queue is full")
	ErrAlreadyStarted = errors.New("event bus is already started")
	ErrNotStarted     = errors.New("event bus is not started")
)

// EventBus is an asynchronous fanout queue for schedule events.
type EventBus struct {
	mu      sync.RWMutex
	logger  *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	eventCh chan Event

	subscribers  map[int64]chan Event
	subscriberID int64
}

// New creates a new EventBus with the specified queue capacity.
func New(capacity int, logger *logger.Logger) *EventBus {
	return &EventBus{
		logger:      logger,
		eventCh:     make(chan Event, capacity),
		subscribers: make(map[int64]chan Event),
	}
}

// Start starts the fanout goroutine.
func (eb *EventBus) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.started {
		return ErrAlreadyStarted
	}

	eb.ctx, eb.cancel = context.WithCancel(ctx)
	eb.started = true

	go eb.distribute()

	eb.logger.Info("event bus started", logger.Field{Key: "capacity", Value: cap(eb.eventCh)})
	return nil
}

// Stop gracefully stops the event bus and closes all channels.
func (eb *EventBus) Stop() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if !eb.started {
		return ErrNotStarted
	}

	eb.logger.Info("stopping event bus")

	if eb.cancel != nil {
		eb.cancel()
	}

	for id, ch := range eb.subscribers {
		close(ch)
		delete(eb.subscribers, id)
	}

	close(eb.eventCh)
	eb.started = false

	eb.logger.Info("event bus stopped")
	return nil
}

// IsStarted reports whether the bus is running.
func (eb *EventBus) IsStarted() bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.started
}

// Publish enqueues an event. Publishing never blocks; when the queue is
// full the event is dropped with ErrQueueFull.
func (eb *EventBus) Publish(event Event) error {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if !eb.started {
		return ErrNotStarted
	}

	select {
	case eb.eventCh <- event:
		eb.logger.DebugCtx(eb.ctx, "event published",
			logger.Field{Key: "type", Value: string(event.Type)},
			logger.Field{Key: "schedule_id", Value: event.ScheduleID})
		return nil
	default:
		eb.logger.WarnCtx(eb.ctx, "event queue full",
			logger.Field{Key: "capacity", Value: cap(eb.eventCh)})
		return ErrQueueFull
	}
}

// Subscribe registers a new subscriber and returns its delivery channel.
// Returns nil when the bus is not started.
func (eb *EventBus) Subscribe(ctx context.Context) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if !eb.started {
		return nil
	}

	ch := make(chan Event, 10)
	eb.subscriberID++
	id := eb.subscriberID
	eb.subscribers[id] = ch

	eb.logger.DebugCtx(ctx, "subscriber added",
		logger.Field{Key: "subscriber_id", Value: id})

	return ch
}

// distribute delivers events to all subscribers.
func (eb *EventBus) distribute() {
	for {
		select {
		case <-eb.ctx.Done():
			return
		case event, ok := <-eb.eventCh:
			if !ok {
				return
			}
			eb.mu.RLock()
			for _, ch := range eb.subscribers {
				select {
				case ch <- event:
				default:
					// Subscriber channel is full, skip
					eb.logger.WarnCtx(eb.ctx, "subscriber channel full, skipping event")
				}
			}
			eb.mu.RUnlock()
		}
	}
}
