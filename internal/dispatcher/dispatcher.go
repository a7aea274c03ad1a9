// Package dispatcher throttles outbound venue requests.
//
// A Dispatcher admits at most Limit task starts per rolling Window and, when
// MaxInFlight is set, at most that many concurrently running tasks. Callers
// that cannot start immediately queue and are admitted strictly in
// submission order. Task errors are returned to their caller and never affect
// other tasks.
package dispatcher

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fundingarb/config"
	"fundingarb/internal/metrics"
	"fundingarb/logger"
)

// Options configures a Dispatcher.
type Options struct {
	Name        string
	Mode        string
	Limit       int
	Window      time.Duration
	MaxInFlight int
}

// FromConfig builds Options for a venue.
func FromConfig(name string, cfg config.DispatcherConfig) Options {
	return Options{
		Name:        name,
		Mode:        cfg.Mode,
		Limit:       cfg.Limit,
		Window:      cfg.Window,
		MaxInFlight: cfg.MaxInFlight,
	}
}

// Stats is a point-in-time view of a Dispatcher.
type Stats struct {
	Queued    int
	InFlight  int
	Started   int64
	Cancelled int64
}

type waiter struct {
	ready   chan struct{}
	granted bool
	elem    *list.Element
}

type Dispatcher struct {
	opts Options
	log  *logger.Log

	mu       sync.Mutex
	queue    *list.List
	starts   []time.Time
	limiter  *rate.Limiter
	inFlight int
	timer    *time.Timer
	wakeAt   time.Time
	stats    Stats
}

// New validates opts and returns an idle Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("dispatcher %s: limit must be greater than 0", opts.Name)
	}
	if opts.Window <= 0 {
		return nil, fmt.Errorf("dispatcher %s: window must be greater than 0", opts.Name)
	}
	if opts.MaxInFlight < 0 {
		return nil, fmt.Errorf("dispatcher %s: max in flight must not be negative", opts.Name)
	}

	d := &Dispatcher{
		opts:  opts,
		log:   logger.GetLogger(),
		queue: list.New(),
	}

	switch opts.Mode {
	case config.DispatchWindow, "":
		d.opts.Mode = config.DispatchWindow
	case config.DispatchBucket:
		perSecond := float64(opts.Limit) / opts.Window.Seconds()
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	default:
		return nil, fmt.Errorf("dispatcher %s: unknown mode %q", opts.Name, opts.Mode)
	}

	d.log.WithComponent("dispatcher").WithFields(logger.Fields{
		"venue":         opts.Name,
		"mode":          d.opts.Mode,
		"limit":         opts.Limit,
		"window":        opts.Window.String(),
		"max_in_flight": opts.MaxInFlight,
	}).Debug("dispatcher initialized")
	return d, nil
}

// Name is the venue the dispatcher guards.
func (d *Dispatcher) Name() string {
	return d.opts.Name
}

// Acquire blocks until the caller may start a task. The returned release
// must be called once the task has finished. If ctx ends while the caller
// is still queued it leaves the queue and ctx.Err() is returned.
func (d *Dispatcher) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := &waiter{ready: make(chan struct{})}

	d.mu.Lock()
	w.elem = d.queue.PushBack(w)
	d.pump()
	d.mu.Unlock()

	select {
	case <-w.ready:
		return d.releaser(), nil
	case <-ctx.Done():
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if w.granted {
		// admitted while ctx was ending; hand the slot back
		d.inFlight--
		d.pump()
		return nil, ctx.Err()
	}
	d.queue.Remove(w.elem)
	d.stats.Cancelled++
	d.pump()
	return nil, ctx.Err()
}

func (d *Dispatcher) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.inFlight--
			d.pump()
			d.mu.Unlock()
		})
	}
}

// Do runs task once admitted and returns its error unchanged.
func (d *Dispatcher) Do(ctx context.Context, task func(context.Context) error) error {
	release, err := d.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return task(ctx)
}

// Submit is Do for tasks that produce a value.
func Submit[T any](ctx context.Context, d *Dispatcher, task func(context.Context) (T, error)) (T, error) {
	var out T
	err := d.Do(ctx, func(ctx context.Context) error {
		v, err := task(ctx)
		out = v
		return err
	})
	return out, err
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Queued = d.queue.Len()
	s.InFlight = d.inFlight
	return s
}

// Queued is the number of callers waiting for admission.
func (d *Dispatcher) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// pump admits queued callers from the head while capacity allows. Must be
// called with d.mu held.
func (d *Dispatcher) pump() {
	defer func() {
		metrics.ObserveDispatcher(d.opts.Name, d.queue.Len(), d.inFlight)
	}()

	for d.queue.Len() > 0 {
		if d.opts.MaxInFlight > 0 && d.inFlight >= d.opts.MaxInFlight {
			return
		}

		now := time.Now()
		if wait := d.admitDelay(now); wait > 0 {
			d.wakeAfter(now, wait)
			return
		}

		head := d.queue.Front()
		w := head.Value.(*waiter)
		d.queue.Remove(head)
		d.inFlight++
		d.stats.Started++
		w.granted = true
		close(w.ready)
	}
}

// admitDelay returns how long the head of the queue must still wait for the
// rate budget. A zero return consumes one unit of budget. The sliding log
// caps starts per Window in both modes; bucket mode also spaces admissions
// by Window/Limit.
func (d *Dispatcher) admitDelay(now time.Time) time.Duration {
	cutoff := now.Add(-d.opts.Window)
	keep := 0
	for keep < len(d.starts) && !d.starts[keep].After(cutoff) {
		keep++
	}
	d.starts = d.starts[keep:]

	if len(d.starts) >= d.opts.Limit {
		return d.starts[0].Sub(cutoff)
	}

	if d.limiter != nil {
		r := d.limiter.ReserveN(now, 1)
		if !r.OK() {
			return d.opts.Window
		}
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			return delay
		}
	}

	d.starts = append(d.starts, now)
	return 0
}

func (d *Dispatcher) wakeAfter(now time.Time, wait time.Duration) {
	at := now.Add(wait)
	if d.timer != nil && !d.wakeAt.After(at) {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.wakeAt = at
	d.timer = time.AfterFunc(wait, func() {
		d.mu.Lock()
		d.timer = nil
		d.pump()
		d.mu.Unlock()
	})
}
