package queue

import "context"

// Future is the eventual outcome of an enqueued operation.
type Future struct {
	done chan struct{}
	val  any
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(val any, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Done is closed once the operation has finished or was rejected.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the outcome is known or ctx ends. Giving up on ctx does
// not withdraw the operation from the lane.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do enqueues op on q and waits for its typed result.
func Do[T any](ctx context.Context, q *Queue, op func(context.Context) (T, error)) (T, error) {
	fut := q.Enqueue(func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	var zero T
	v, err := fut.Wait(ctx)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return t, nil
}
