package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/delivery-auth/internal/events"
)

// EventProcessor consumes one event.
type EventProcessor interface {
	Handle(ctx context.Context, event events.Event) error
}

// NotificationWorker moves session event handling off the request path.
// Events are dropped, with a warning, when the queue is full.
type NotificationWorker struct {
	processor EventProcessor
	logger    *zap.Logger
	queue     chan events.Event
	wg        sync.WaitGroup
	once      sync.Once
}

// NewNotificationWorker builds a worker with the given queue capacity.
func NewNotificationWorker(processor EventProcessor, logger *zap.Logger, capacity int) *NotificationWorker {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{
		processor: processor,
		logger:    logger,
		queue:     make(chan events.Event, capacity),
	}
}

// Subscribe registers the worker for every session event type.
func (w *NotificationWorker) Subscribe(dispatcher events.Dispatcher) {
	for _, eventType := range events.SessionEventTypes {
		dispatcher.Subscribe(eventType, w.Enqueue)
	}
}

// Enqueue is an events.EventHandler; it never blocks.
func (w *NotificationWorker) Enqueue(_ context.Context, event events.Event) error {
	select {
	case w.queue <- event:
	default:
		w.logger.Warn("notification queue full; dropping event",
			zap.String("event_type", string(event.Type)),
			zap.Int64("user_id", event.UserID))
	}
	return nil
}

// Start consumes the queue until ctx is cancelled or Stop is called.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.queue:
				if !ok {
					return
				}
				if err := w.processor.Handle(ctx, event); err != nil {
					w.logger.Warn("notification handler failed",
						zap.String("event_type", string(event.Type)),
						zap.Error(err))
				}
			}
		}
	}()
}

// Stop drains what is already queued and waits for the consumer to exit.
// Enqueue must not be called after Stop.
func (w *NotificationWorker) Stop() {
	w.once.Do(func() { close(w.queue) })
	w.wg.Wait()
}
