package dialog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/i474232898/weather-bot/internal/metrics"
)

var (
	ErrInboxClosed = errors.New("dialog: inbox closed")
	ErrInboxFull   = errors.New("dialog: user queue full")
)

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Inbox queues events per user and runs one worker goroutine per user with
// pending work: same-user events run in arrival order, different users in
// parallel. Idle workers exit and are restarted on the next event.
type Inbox struct {
	handler Handler
	buffer  int
	idle    time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[int64]chan Event
	closed  bool
	wg      sync.WaitGroup
}

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

// WithBuffer sets how many events may wait per user.
func WithBuffer(n int) InboxOption {
	return func(b *Inbox) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithIdleTimeout sets how long a worker waits for work before exiting.
func WithIdleTimeout(d time.Duration) InboxOption {
	return func(b *Inbox) {
		if d > 0 {
			b.idle = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) InboxOption {
	return func(b *Inbox) { b.metrics = m }
}

func NewInbox(h Handler, logger *slog.Logger, opts ...InboxOption) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Inbox{
		handler: h,
		buffer:  16,
		idle:    time.Minute,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[int64]chan Event),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue hands ev to its user's worker without blocking.
func (b *Inbox) Enqueue(ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrInboxClosed
	}

	jobs, ok := b.workers[ev.UserID]
	if !ok {
		jobs = make(chan Event, b.buffer)
		b.workers[ev.UserID] = jobs
		b.wg.Add(1)
		go b.run(ev.UserID, jobs)
	}

	// Sends happen under mu so a worker deciding to exit sees a stable queue.
	select {
	case jobs <- ev:
		return nil
	default:
		b.metrics.RecordInboxDropped()
		b.logger.Warn("dialog: user queue full, dropping event", "user_id", ev.UserID, "event_id", ev.ID)
		return ErrInboxFull
	}
}

func (b *Inbox) run(userID int64, jobs chan Event) {
	defer b.wg.Done()

	timer := time.NewTimer(b.idle)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-jobs:
			if !ok {
				return
			}
			b.handle(ev)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(b.idle)
		case <-timer.C:
			b.mu.Lock()
			if len(jobs) == 0 && !b.closed {
				delete(b.workers, userID)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			timer.Reset(b.idle)
		}
	}
}

func (b *Inbox) handle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("dialog: handler panicked", "user_id", ev.UserID, "event_id", ev.ID, "panic", r)
		}
	}()
	b.handler.Handle(b.ctx, ev)
}

// Close stops accepting events and waits for queued ones to finish. If ctx
// expires first, in-flight handlers are cancelled and ctx.Err is returned.
func (b *Inbox) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for id, jobs := range b.workers {
			close(jobs)
			delete(b.workers, id)
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}
