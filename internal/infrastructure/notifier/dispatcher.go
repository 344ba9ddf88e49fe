// Package notifier delivers best-effort notifications off the caller's path.
package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultQueueSize   = 256
	defaultSendTimeout = 30 * time.Second
	defaultSubject     = "GoWith 搭子匹配通知"
)

type Notification struct {
	Recipient string
	Subject   string
	Body      string
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher queues notifications and hands them to a Sender from a single
// background worker. Notify never blocks: when the queue is full the
// notification is dropped and logged.
type Dispatcher struct {
	sender      Sender
	queue       chan Notification
	logger      *zap.Logger
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, queueSize int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		sender:      sender,
		queue:       make(chan Notification, queueSize),
		logger:      logger.Named("notifier"),
		sendTimeout: defaultSendTimeout,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify enqueues a message for recipient and reports whether it was accepted.
func (d *Dispatcher) Notify(ctx context.Context, recipient, message string) bool {
	if recipient == "" {
		d.logger.Warn("notification without recipient dropped")
		notificationsTotal.WithLabelValues("dropped").Inc()
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		notificationsTotal.WithLabelValues("dropped").Inc()
		return false
	}

	select {
	case d.queue <- Notification{Recipient: recipient, Subject: defaultSubject, Body: message}:
		notificationsTotal.WithLabelValues("queued").Inc()
		return true
	default:
		d.logger.Warn("notification queue full, dropping", zap.String("recipient", recipient))
		notificationsTotal.WithLabelValues("dropped").Inc()
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, n); err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("recipient", n.Recipient),
			zap.Error(err),
		)
		notificationsTotal.WithLabelValues("failed").Inc()
		return
	}
	notificationsTotal.WithLabelValues("sent").Inc()
}

// Close stops accepting notifications and waits for the queue to drain or
// for ctx to end, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("notification queue not drained"), ctx.Err())
	}
}
