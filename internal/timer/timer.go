// Package timer implements the repeating tasks used by the watcher and the
// hot-reload coordinator.
package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/livearc/livearc/internal/log"
)

// Func is a timer callback. A returned error is logged; it never stops the loop.
type Func func(ctx context.Context) error

// Every runs fn once per interval until ctx is cancelled. The first invocation
// happens immediately. Panics and errors are logged and the loop continues;
// cancellation between invocations is the only way out.
func Every(ctx context.Context, interval time.Duration, fn Func) {
	for {
		invoke(ctx, fn)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func invoke(ctx context.Context, fn Func) {
	defer func() {
		if rec := recover(); rec != nil {
			l := log.WithComponent("timer")
			l.Error().
				Str("panic", fmt.Sprint(rec)).
				Msg("timer callback panicked")
		}
	}()
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		l := log.WithComponent("timer")
		l.Warn().Err(err).Msg("timer callback failed")
	}
}

// Timer is the dedicated-goroutine variant: Start spawns a worker goroutine
// that invokes fn once per interval until Stop is called. Stop does not
// interrupt an in-flight invocation; it prevents the next one and Wait blocks
// until the worker has exited.
type Timer struct {
	fn       Func
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(fn Func, interval time.Duration) *Timer {
	return &Timer{
		fn:       fn,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (t *Timer) Start() {
	go func() {
		defer close(t.done)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-t.stop
			cancel()
		}()
		for {
			invoke(ctx, t.fn)
			select {
			case <-t.stop:
				return
			case <-time.After(t.interval):
			}
		}
	}()
}

func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Wait blocks until the worker goroutine has exited.
func (t *Timer) Wait() {
	<-t.done
}
