package telegram

import (
	"context"
	"time"

	"github.com/feedhawk/signalscout/internal/logger"
	"github.com/feedhawk/signalscout/internal/models"
	"github.com/feedhawk/signalscout/internal/storage"
)

// Sender delivers one formatted signal message.
type Sender interface {
	SendSignal(ctx context.Context, sig *models.Signal) error
}

// Queue decouples signal acceptance from delivery. Accepted signals are
// buffered and sent by a single goroutine; a delivered acknowledgement
// flips the stored status, while exhausted retries leave the signal pending
// without reverting its acceptance.
type Queue struct {
	sender Sender
	store  *storage.Storage
	tasks  chan *models.Signal
	done   chan struct{}
	now    func() time.Time
}

// NewQueue creates a delivery queue with the given buffer size.
func NewQueue(sender Sender, store *storage.Storage, buffer int) *Queue {
	if buffer < 1 {
		buffer = 16
	}
	return &Queue{
		sender: sender,
		store:  store,
		tasks:  make(chan *models.Signal, buffer),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches the delivery goroutine.
func (q *Queue) Start(ctx context.Context) {
	go q.run(ctx)
}

// Stop closes the queue and waits until buffered signals are drained.
func (q *Queue) Stop() {
	close(q.tasks)
	<-q.done
}

// Enqueue hands an accepted signal to the delivery goroutine. When the
// buffer is full the signal is left pending in storage and picked up by a
// later /signals inspection rather than blocking validation.
func (q *Queue) Enqueue(sig *models.Signal) {
	select {
	case q.tasks <- sig:
	default:
		logger.Warn("Delivery queue full, signal %s stays pending", sig.ID)
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for sig := range q.tasks {
		if err := q.sender.SendSignal(ctx, sig); err != nil {
			logger.Error("Delivery failed for signal %s: %v", sig.ID, err)
			continue
		}
		if err := q.store.MarkDelivered(sig.ID, q.now()); err != nil {
			logger.Error("Failed to mark signal %s delivered: %v", sig.ID, err)
			continue
		}
		logger.Info("Delivered signal %s (%s %s)", sig.ID, sig.Direction, sig.Symbol)
	}
}
