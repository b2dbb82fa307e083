package queue

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"volpatch/pkg/volume"
)

type cursorState int

const (
	cursorIdle cursorState = iota
	cursorActive
	cursorExhausted
	cursorRestarting
)

func (s cursorState) String() string {
	switch s {
	case cursorIdle:
		return "idle"
	case cursorActive:
		return "active"
	case cursorExhausted:
		return "exhausted"
	case cursorRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

type loadResult struct {
	index   int
	subject *volume.Subject
	err     error
}

// loadPass is one walk over the dataset run by a pool of loader goroutines.
type loadPass struct {
	results <-chan loadResult
	cancel  context.CancelFunc
	done    chan struct{}
}

// subjectCursor hands out subjects one pass after another. When a pass runs
// out, the next call starts a fresh one (reshuffled if asked to); passes are
// never resumed.
//
// Only the queue's consumer goroutine calls next, so the cursor itself is not
// synchronised. With workers > 0 subjects are loaded ahead of time by a
// bounded pool and arrive in completion order, not pass order.
type subjectCursor struct {
	ctx     context.Context
	dataset volume.Dataset
	workers int
	shuffle bool
	rng     *rand.Rand
	logger  *slog.Logger
	onPass  func()

	state  cursorState
	passes int

	order []int
	pos   int
	pass  *loadPass
}

func (c *subjectCursor) next() (*volume.Subject, error) {
	for {
		switch c.state {
		case cursorIdle, cursorExhausted:
			c.state = cursorRestarting

		case cursorRestarting:
			if err := c.ctx.Err(); err != nil {
				return nil, ErrClosed
			}
			if c.dataset.Len() == 0 {
				return nil, errors.Wrap(ErrEmpty, "dataset has no subjects")
			}
			c.startPass()
			c.state = cursorActive

		case cursorActive:
			subject, ok, err := c.take()
			if err != nil {
				return nil, err
			}
			if ok {
				return subject, nil
			}
			c.logger.Debug("queue: subject pass exhausted", "pass", c.passes)
			c.state = cursorExhausted
		}
	}
}

func (c *subjectCursor) startPass() {
	n := c.dataset.Len()
	if c.shuffle {
		c.order = c.rng.Perm(n)
	} else {
		c.order = make([]int, n)
		for i := range c.order {
			c.order[i] = i
		}
	}
	c.pos = 0
	c.passes++
	if c.onPass != nil {
		c.onPass()
	}
	c.logger.Debug("queue: starting subject pass", "pass", c.passes, "subjects", n, "workers", c.workers)

	if c.workers > 0 {
		c.pass = c.startLoaders(c.order)
	}
}

// take returns the next subject of the current pass, or ok=false once the
// pass has delivered everything.
func (c *subjectCursor) take() (*volume.Subject, bool, error) {
	if c.workers == 0 {
		if c.pos >= len(c.order) {
			return nil, false, nil
		}
		idx := c.order[c.pos]
		c.pos++
		subject, err := c.dataset.Subject(idx)
		if err != nil {
			return nil, false, errors.Wrapf(err, "loading subject %d", idx)
		}
		return subject, true, nil
	}

	res, ok := <-c.pass.results
	if !ok {
		<-c.pass.done
		c.pass.cancel()
		c.pass = nil
		if err := c.ctx.Err(); err != nil {
			return nil, false, ErrClosed
		}
		return nil, false, nil
	}
	if res.err != nil {
		return nil, false, errors.Wrapf(res.err, "loading subject %d", res.index)
	}
	return res.subject, true, nil
}

func (c *subjectCursor) startLoaders(order []int) *loadPass {
	ctx, cancel := context.WithCancel(c.ctx)
	results := make(chan loadResult, c.workers)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(results)

		eg, ctx := errgroup.WithContext(ctx)
		eg.SetLimit(c.workers)
		for _, idx := range order {
			if ctx.Err() != nil {
				break
			}
			eg.Go(func() error {
				subject, err := c.dataset.Subject(idx)
				select {
				case results <- loadResult{index: idx, subject: subject, err: err}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}
		_ = eg.Wait()
	}()

	return &loadPass{results: results, cancel: cancel, done: done}
}

// close stops the loader pool of the current pass, if any, and waits for it.
func (c *subjectCursor) close() {
	if c.pass == nil {
		return
	}
	c.pass.cancel()
	for range c.pass.results {
	}
	<-c.pass.done
	c.pass = nil
}
