// Package worker runs long-running manager operations on a bounded
// goroutine pool.
//
// Create, terminate and capture can take minutes. Callers that do not want to
// block submit them here and receive the outcome through a completion
// callback. Panics inside a job are recovered, logged and reported to the
// callback as an error.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// DefaultPoolSize is used when Options.Size is not positive.
const DefaultPoolSize = 8

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker pool is closed")

// Job is a unit of work. It receives the context given to Submit.
type Job func(ctx context.Context) error

// Options configures a Pool.
type Options struct {
	Size int

	// Nonblocking makes Submit fail with ants.ErrPoolOverload instead of
	// waiting for a free worker.
	Nonblocking bool

	Log logrus.FieldLogger
}

// Pool is a bounded pool of workers.
type Pool struct {
	pool *ants.Pool
	log  logrus.FieldLogger
	wg   sync.WaitGroup
}

// NewPool creates a pool with opts.Size workers.
func NewPool(opts Options) (*Pool, error) {
	if opts.Size <= 0 {
		opts.Size = DefaultPoolSize
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	p := &Pool{log: opts.Log}

	pool, err := ants.NewPool(opts.Size,
		ants.WithNonblocking(opts.Nonblocking),
		ants.WithPanicHandler(func(r interface{}) {
			// Jobs recover their own panics; this catches anything that
			// escapes the wrapper.
			p.log.WithField("panic", r).Error("worker panic recovered")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// Submit queues fn under name. done, if not nil, is called exactly once
// with the job's result after fn returns. If ctx is already cancelled when
// a worker picks the job up, fn is skipped and done receives ctx.Err().
func (p *Pool) Submit(ctx context.Context, name string, fn Job, done func(error)) error {
	log := p.log.WithField("job", name)

	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		err := p.run(ctx, log, fn)
		if err != nil {
			log.WithError(err).Warn("job failed")
		} else {
			log.Debug("job finished")
		}
		if done != nil {
			done(err)
		}
	})
	if err != nil {
		p.wg.Done()
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return fmt.Errorf("failed to submit %s: %w", name, err)
	}
	log.Debug("job queued")
	return nil
}

func (p *Pool) run(ctx context.Context, log logrus.FieldLogger, fn Job) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("job panicked: %v", r)
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every submitted job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Running returns the number of busy workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Cap returns the pool size.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Shutdown waits for queued jobs and releases the workers.
func (p *Pool) Shutdown() {
	p.wg.Wait()
	p.pool.Release()
}
