package astifilter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
)

// Dispatcher runs blocking device calls on a pool of workers so that they never block a
// chain's dispatch context
type Dispatcher struct {
	cs *dispatcherCumulativeStats
	o  DispatcherOptions
	ws []*dispatcherWorker
}

type dispatcherCumulativeStats struct {
	dispatched uint64
	timeouts   uint64
}

type DispatcherCumulativeStats struct {
	Dispatched     uint64
	Timeouts       uint64
	WorkedDuration time.Duration
}

type DispatcherOptions struct {
	// Default is 1s
	Timeout time.Duration
	// Default is 1
	Workers int
}

type dispatcherWorker struct {
	ch      *astikit.Chan
	pending int64
}

func NewDispatcher(o DispatcherOptions) *Dispatcher {
	// Default options
	if o.Timeout <= 0 {
		o.Timeout = time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}

	// Create dispatcher
	d := &Dispatcher{
		cs: &dispatcherCumulativeStats{},
		o:  o,
	}

	// Create workers
	for idx := 0; idx < o.Workers; idx++ {
		d.ws = append(d.ws, &dispatcherWorker{ch: astikit.NewChan(astikit.ChanOptions{ProcessAll: true})})
	}
	return d
}

// Start blocks until the context is done
func (d *Dispatcher) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.ws {
		wg.Add(1)
		go func(w *dispatcherWorker) {
			// Make sure to stop the chan properly
			defer wg.Done()
			defer w.ch.Stop()

			// Start chan
			w.ch.Start(ctx)
		}(w)
	}
	wg.Wait()
}

// Dispatch executes fn on the least busy worker and calls done with its result. When fn takes
// longer than the timeout, done is called with ErrDeviceTimeout and fn's result is ignored.
// A zero timeout means the dispatcher's default.
func (d *Dispatcher) Dispatch(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error, done func(err error)) {
	// Get timeout
	if timeout <= 0 {
		timeout = d.o.Timeout
	}

	// Pick worker
	w := d.ws[0]
	for _, v := range d.ws[1:] {
		if atomic.LoadInt64(&v.pending) < atomic.LoadInt64(&w.pending) {
			w = v
		}
	}

	// Update stats
	atomic.AddInt64(&w.pending, 1)
	atomic.AddUint64(&d.cs.dispatched, 1)

	// Add to chan
	w.ch.Add(func() {
		// Update stats
		defer atomic.AddInt64(&w.pending, -1)

		// Execute
		err := d.execute(ctx, timeout, fn)

		// Callback
		if done != nil {
			done(err)
		}
	})
}

func (d *Dispatcher) execute(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	// Create context
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Execute in the background
	errC := make(chan error, 1)
	go func() { errC <- fn(ctx) }()

	// Wait
	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			atomic.AddUint64(&d.cs.timeouts, 1)
			return fmt.Errorf("%w: no answer after %s", ErrDeviceTimeout, timeout)
		}
		return ctx.Err()
	}
}

func (d *Dispatcher) CumulativeStats() DispatcherCumulativeStats {
	s := DispatcherCumulativeStats{
		Dispatched: atomic.LoadUint64(&d.cs.dispatched),
		Timeouts:   atomic.LoadUint64(&d.cs.timeouts),
	}
	for _, w := range d.ws {
		s.WorkedDuration += w.ch.CumulativeStats().WorkedDuration
	}
	return s
}

func (d *Dispatcher) DeltaStats() []astikit.DeltaStat {
	var ss []astikit.DeltaStat
	for _, w := range d.ws {
		ss = append(ss, w.ch.DeltaStats()...)
	}
	return ss
}
