package request

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/synckit/internal/client/progress"
	"github.com/dmitrijs2005/synckit/internal/common"
)

// Func is one unit of asynchronous work.
type Func[T any] func(ctx context.Context, p *progress.Progress) (T, error)

// Callback receives a result. It is invoked once per step.
type Callback[T any] func(result T, err error)

// Handle tracks a running operation.
type Handle[T any] struct {
	cancel   context.CancelFunc
	done     chan struct{}
	progress *progress.Progress
	parts    []*Handle[T]

	mu     sync.Mutex
	result T
	err    error
}

func newHandle[T any](cancel context.CancelFunc, p *progress.Progress) *Handle[T] {
	return &Handle[T]{cancel: cancel, done: make(chan struct{}), progress: p}
}

// Cancel stops the operation. It is a no-op once the operation finished.
func (h *Handle[T]) Cancel() { h.cancel() }

// Done is closed when the operation finished and its callbacks were
// handed to the executor.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Wait blocks until the operation finished and returns its last result.
func (h *Handle[T]) Wait() (T, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Progress returns the completed units (0..100) of the step running now.
func (h *Handle[T]) Progress() int {
	h.mu.Lock()
	p := h.progress
	h.mu.Unlock()
	return p.Done()
}

// Parts returns the independent steps of a multi-step operation. Cancelling
// one part leaves the others running.
func (h *Handle[T]) Parts() []*Handle[T] { return h.parts }

func (h *Handle[T]) finish(result T, err error) {
	h.mu.Lock()
	h.result, h.err = result, err
	h.mu.Unlock()
	close(h.done)
}

// Start runs steps one after another, each under its own child context of
// ctx, and hands every step's result to callback on exec. A failed step does
// not stop the next one. The handle's result is that of the last step.
func Start[T any](ctx context.Context, exec Executor, onProgress progress.Func, callback Callback[T], steps ...Func[T]) *Handle[T] {
	if exec == nil {
		exec = Inline{}
	}
	ctx, cancel := context.WithCancel(ctx)

	report := onProgress
	if onProgress != nil {
		report = func(done, total int) {
			exec.Execute(func() { onProgress(done, total) })
		}
	}

	h := newHandle[T](cancel, nil)
	partCtx := make([]context.Context, len(steps))
	for i := range steps {
		c, partCancel := context.WithCancel(ctx)
		partCtx[i] = c
		h.parts = append(h.parts, newHandle[T](partCancel, progress.New(report)))
	}
	if len(steps) == 1 {
		h.progress = h.parts[0].progress
	}

	go func() {
		defer cancel()

		var (
			result T
			err    error
		)
		if len(steps) == 0 {
			err = common.NewError(common.KindInvalidOperation, "nothing to run")
			if callback != nil {
				exec.Execute(func() { callback(result, err) })
			}
		}
		for i, step := range steps {
			part := h.parts[i]
			h.mu.Lock()
			h.progress = part.progress
			h.mu.Unlock()

			result, err = run(partCtx[i], step, part.progress)
			part.cancel()
			part.finish(result, err)

			if callback != nil {
				r, e := result, err
				exec.Execute(func() { callback(r, e) })
			}
		}
		h.finish(result, err)
	}()
	return h
}

func run[T any](ctx context.Context, step Func[T], p *progress.Progress) (result T, err error) {
	if step == nil {
		return result, common.NewError(common.KindInvalidOperation, "operation not available")
	}
	if err := ctx.Err(); err != nil {
		return result, common.FromContext(err)
	}
	result, err = step(ctx, p)
	if err != nil {
		return result, common.FromContext(err)
	}
	return result, nil
}
