package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/livearc/livearc/internal/log"
	"github.com/livearc/livearc/internal/metrics"
)

// Pool names. Recording lifecycle work runs on Pool1, uploads on Pool2.
const (
	Pool1 = "pool1"
	Pool2 = "pool2"
)

// Handler processes one event and may return follow-up events, which the
// dispatcher republishes in order. Handlers must not retain ev.Info past the
// call unless they own it.
type Handler func(ctx context.Context, ev Event) []Event

type registration struct {
	pool string // empty: run inline on the dispatcher goroutine
	fn   Handler
}

// Bus is the process-wide event bus: a single unbounded ingress queue drained
// serially by a dispatcher goroutine, which routes each handler either inline
// or onto a named fixed-size worker pool. Handler errors and panics are
// isolated; they never reach the dispatcher or a pool worker's top level.
type Bus struct {
	mu       sync.Mutex
	queue    []Event
	closed   bool
	wake     chan struct{}
	handlers map[Kind][]registration
	pools    map[string]*pool

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{} // dispatcher exited
	inflight sync.WaitGroup

	logger zerolog.Logger
}

// PoolSizes configures the fixed worker pools created at bus construction.
type PoolSizes struct {
	Pool1 int
	Pool2 int
}

func (p PoolSizes) withDefaults() PoolSizes {
	if p.Pool1 <= 0 {
		p.Pool1 = 5
	}
	if p.Pool2 <= 0 {
		p.Pool2 = 3
	}
	return p
}

// NewBus creates a bus with the given pool sizes. Start must be called before
// published events are dispatched.
func NewBus(sizes PoolSizes) *Bus {
	sizes = sizes.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		wake:     make(chan struct{}, 1),
		handlers: make(map[Kind][]registration),
		pools: map[string]*pool{
			Pool1: newPool(Pool1, sizes.Pool1),
			Pool2: newPool(Pool2, sizes.Pool2),
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: log.WithComponent("bus"),
	}
}

// Subscribe registers a handler for a kind. poolName selects the worker pool;
// an empty poolName runs the handler inline on the dispatcher. Handlers are
// invoked in registration order. Subscribe must not be called after Start.
func (b *Bus) Subscribe(kind Kind, poolName string, fn Handler) {
	if poolName != "" {
		if _, ok := b.pools[poolName]; !ok {
			panic(fmt.Sprintf("event: unknown pool %q", poolName))
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], registration{pool: poolName, fn: fn})
}

// Publish enqueues an event. It never blocks; the ingress queue is unbounded.
// Events published after Shutdown are dropped.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Debug().Str("kind", string(ev.Kind)).Msg("event dropped, bus closed")
		return
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	metrics.BusEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Start launches the dispatcher goroutine.
func (b *Bus) Start() {
	go b.dispatch()
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		ev, ok := b.pop()
		if !ok {
			select {
			case <-b.wake:
				continue
			case <-b.ctx.Done():
				return
			}
		}
		b.route(ev)
	}
}

func (b *Bus) pop() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return Event{}, false
	}
	ev := b.queue[0]
	b.queue = b.queue[1:]
	return ev, true
}

func (b *Bus) route(ev Event) {
	b.mu.Lock()
	regs := append([]registration(nil), b.handlers[ev.Kind]...)
	b.mu.Unlock()

	for _, reg := range regs {
		reg := reg
		if reg.pool == "" {
			b.run(reg.fn, ev)
			continue
		}
		b.inflight.Add(1)
		// Submission blocks while the pool is saturated; the resulting
		// backpressure stalls the dispatcher, not the publishers.
		submitted := b.pools[reg.pool].submit(b.ctx, func() {
			defer b.inflight.Done()
			b.run(reg.fn, ev)
		})
		if !submitted {
			b.inflight.Done()
			return
		}
	}
}

// run invokes one handler with panic/error isolation and republishes its
// follow-up events in yielded order.
func (b *Bus) run(fn Handler, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.HandlerErrorsTotal.WithLabelValues(string(ev.Kind)).Inc()
			b.logger.Error().
				Str("event_id", ev.ID).
				Str("kind", string(ev.Kind)).
				Str("panic", fmt.Sprint(rec)).
				Msg("handler panicked")
		}
	}()
	for _, next := range fn(b.ctx, ev) {
		b.Publish(next)
	}
}

// Shutdown stops accepting events, waits for in-flight handlers up to the
// context deadline, then closes the worker pools. Handlers still running when
// the deadline expires see a cancelled context.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(waited)
	}()

	var err error
	select {
	case <-waited:
	case <-ctx.Done():
		err = fmt.Errorf("bus shutdown: %w", ctx.Err())
	}

	b.cancel()
	<-b.done
	for _, p := range b.pools {
		p.close()
	}
	return err
}
