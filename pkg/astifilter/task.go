package astifilter

import (
	"context"
	"fmt"
	"sync"

	"github.com/asticode/go-astikit"
)

// task handles the lifecycle shared by pipelines and chain loops
type task struct {
	c       *astikit.Closer
	cancel  context.CancelFunc
	ctx     context.Context
	e       *astikit.EventManager
	m       sync.Mutex // Locks s
	onStart onTaskStart
	onStop  onTaskStop
	s       Status
	t       *astikit.Task
}

type onTaskStart func(ctx context.Context, cancel context.CancelFunc, tc astikit.TaskCreator)

type onTaskStop func()

func newTask(c *astikit.Closer, onStart onTaskStart, onStop onTaskStop) *task {
	// Create task
	t := &task{
		c:       c,
		e:       astikit.NewEventManager(),
		onStart: onStart,
		onStop:  onStop,
		s:       StatusCreated,
	}

	// Make sure context is cancelled
	t.c.Add(func() {
		if t.cancel != nil {
			t.cancel()
		}
	})

	// Emit closed event when task closes
	t.c.OnClosed(func(err error) { t.e.Emit(eventNameTaskClosed, nil) })
	return t
}

func (t *task) status() Status {
	t.m.Lock()
	defer t.m.Unlock()
	return t.s
}

func (t *task) setStatus(s Status, n astikit.EventName) {
	t.m.Lock()
	t.s = s
	t.m.Unlock()
	t.e.Emit(n, nil)
}

func (t *task) start(ctx context.Context, tc astikit.TaskCreator) error {
	// Lock
	t.m.Lock()

	// Invalid status
	if t.s != StatusCreated {
		t.m.Unlock()
		return fmt.Errorf("astifilter: invalid status %s", t.s)
	}

	// Check context
	if ctx.Err() != nil {
		t.m.Unlock()
		return ctx.Err()
	}

	// Create task and context
	t.t = tc()
	t.ctx, t.cancel = context.WithCancel(ctx)

	// Unlock
	t.m.Unlock()

	//!\\ Mutex should be unlocked at this point

	// Starting
	t.setStatus(StatusStarting, eventNameTaskStarting)

	// Callback
	t.onStart(t.ctx, t.cancel, t.t.NewSubTask)

	// Running
	t.setStatus(StatusRunning, eventNameTaskRunning)

	// We can't use t.Do() since status must be updated once the task is done waiting
	go t.wait()
	return nil
}

func (t *task) wait() {
	// Wait for context
	<-t.ctx.Done()

	// Make sure task is properly stopped
	t.m.Lock()
	if t.s == StatusRunning {
		t.stopUnsafe()
	} else {
		t.m.Unlock()
	}

	// Wait for sub tasks
	t.t.Wait()

	// Close
	t.c.Close()

	// Done
	t.setStatus(StatusDone, eventNameTaskDone)
	t.t.Done()
}

func (t *task) stop() error {
	// Lock
	t.m.Lock()

	// Invalid status
	if s := t.s; s != StatusRunning {
		t.m.Unlock()
		if s == StatusStopping || s == StatusDone {
			return nil
		}
		return fmt.Errorf("astifilter: invalid status %s", s)
	}

	// Stop
	t.stopUnsafe()
	return nil
}

// Mutex should be locked
func (t *task) stopUnsafe() {
	// Update status
	t.s = StatusStopping

	// Unlock
	t.m.Unlock()

	//!\\ Mutex should be unlocked at this point

	// Emit
	t.e.Emit(eventNameTaskStopping, nil)

	// Cancel context
	if t.cancel != nil {
		t.cancel()
	}

	// Callback
	if t.onStop != nil {
		t.onStop()
	}
}
