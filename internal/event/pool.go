package event

import (
	"context"
	"sync"
)

// pool is a fixed-size worker pool. Tasks are handed over on an unbuffered
// channel so a saturated pool backpressures the submitter.
type pool struct {
	name  string
	tasks chan func()
	wg    sync.WaitGroup

	closeOnce sync.Once
}

func newPool(name string, size int) *pool {
	p := &pool{
		name:  name,
		tasks: make(chan func()),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// submit blocks until a worker accepts the task or ctx is done. It reports
// whether the task was handed over.
func (p *pool) submit(ctx context.Context, task func()) bool {
	select {
	case p.tasks <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

// close stops accepting tasks and waits for the workers to finish.
func (p *pool) close() {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
}
