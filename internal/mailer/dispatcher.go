package mailer

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/numerus/internal/common"
)

// Dispatcher delivers email from an unbounded in-memory FIFO on a
// background goroutine. A failed send is logged and re-enqueued at the
// back of the queue; the rate limiter keeps retry storms from hammering
// the relay.
type Dispatcher struct {
	sender  Sender
	logger  arbor.ILogger
	limiter *rate.Limiter

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*Email
	stopped bool
}

func NewDispatcher(sender Sender, logger arbor.ILogger, perMinute int) *Dispatcher {
	if perMinute <= 0 {
		perMinute = 60
	}
	d := &Dispatcher{
		sender:  sender,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Enqueue adds an email for background delivery. Safe from any
// goroutine; never blocks.
func (d *Dispatcher) Enqueue(email *Email) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		d.logger.Warn().Str("email", email.Summary()).Msg("Dispatcher stopped, dropping email")
		return
	}
	d.pending = append(d.pending, email)
	d.cond.Signal()
}

// Start launches the delivery loop. It runs until the context is
// cancelled; emails still queued at shutdown are lost, matching the
// durability contract (queued mail is best-effort, task state is not).
func (d *Dispatcher) Start(ctx context.Context) {
	common.SafeGoWithContext(ctx, d.logger, "mail-dispatcher", d.run)

	// Wake the loop when the context ends so it can observe cancellation.
	go func() {
		<-ctx.Done()
		d.mu.Lock()
		d.stopped = true
		d.cond.Broadcast()
		d.mu.Unlock()
	}()
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		email, ok := d.next()
		if !ok {
			return
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return
		}

		if err := d.sender.Send(email); err != nil {
			d.logger.Warn().Err(err).Str("email", email.Summary()).Msg("Email send failed, requeueing")
			d.Enqueue(email)
			continue
		}
		d.logger.Info().Str("email", email.Summary()).Msg("Email sent")
	}
}

// next blocks until an email is available or the dispatcher stops.
func (d *Dispatcher) next() (*Email, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.pending) == 0 && !d.stopped {
		d.cond.Wait()
	}
	if d.stopped {
		return nil, false
	}
	email := d.pending[0]
	d.pending = d.pending[1:]
	return email, true
}

// QueueLength reports the number of emails awaiting delivery.
func (d *Dispatcher) QueueLength() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
