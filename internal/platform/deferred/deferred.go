package deferred

import (
	"context"
	"errors"
	"sync"
)

// ErrPending is returned by Peek while the value is unsettled.
var ErrPending = errors.New("deferred value not settled")

// Value is a write-once result that consumers may read before or after it settles.
// It is safe for concurrent use.
type Value[T any] struct {
	once sync.Once
	done chan struct{}
	v    T
	err  error
}

func New[T any]() *Value[T] {
	return &Value[T]{done: make(chan struct{})}
}

// Resolved returns a Value already settled with v.
func Resolved[T any](v T) *Value[T] {
	d := New[T]()
	d.Resolve(v)
	return d
}

// Resolve settles the value. It reports false if the value was already settled.
func (d *Value[T]) Resolve(v T) bool {
	return d.settle(v, nil)
}

// Reject settles the value with err. It reports false if the value was already settled.
func (d *Value[T]) Reject(err error) bool {
	var zero T
	return d.settle(zero, err)
}

func (d *Value[T]) settle(v T, err error) bool {
	settled := false
	d.once.Do(func() {
		d.v = v
		d.err = err
		settled = true
		close(d.done)
	})
	return settled
}

// Done is closed once the value settles.
func (d *Value[T]) Done() <-chan struct{} { return d.done }

// Wait blocks until the value settles or ctx is done.
func (d *Value[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.v, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the settled result without blocking.
func (d *Value[T]) Peek() (T, error) {
	select {
	case <-d.done:
		return d.v, d.err
	default:
		var zero T
		return zero, ErrPending
	}
}
