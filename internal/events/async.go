package events

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ent0n29/versevoice/internal/observability"
	"github.com/ent0n29/versevoice/internal/reliability"
)

const publishTimeout = 2 * time.Second

var publishRetry = reliability.Policy{
	Attempts:  3,
	Base:      50 * time.Millisecond,
	Cap:       400 * time.Millisecond,
	Retryable: retryablePublishError,
}

// retryablePublishError rejects failures a retry cannot fix.
func retryablePublishError(err error) bool {
	switch {
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrBadSubject),
		errors.Is(err, nats.ErrMaxPayload),
		errors.Is(err, ErrClosed):
		return false
	default:
		return true
	}
}

// Async hands events to a background publisher so callers never block on
// the broker. Events are dropped when the queue is full.
type Async struct {
	next    Publisher
	metrics *observability.Metrics
	logger  *log.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewAsync(next Publisher, size int, metrics *observability.Metrics, logger *log.Logger) *Async {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = log.Default()
	}
	a := &Async{
		next:    next,
		metrics: metrics,
		logger:  logger,
		queue:   make(chan Event, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Publish(_ context.Context, evt Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- evt:
		return nil
	default:
		a.metrics.ObservePublishError(string(evt.Kind))
		return ErrQueueFull
	}
}

// Close publishes what is queued, then closes the underlying publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
	return a.next.Close()
}

func (a *Async) run() {
	defer close(a.done)
	for evt := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := reliability.Retry(ctx, publishRetry, func(ctx context.Context) error {
			return a.next.Publish(ctx, evt)
		})
		cancel()
		if err != nil {
			a.metrics.ObservePublishError(string(evt.Kind))
			a.logger.Printf("publish %s for session %s failed: %v", evt.Kind, evt.SessionID, err)
		}
	}
}
