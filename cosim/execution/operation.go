package execution

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/inference-sim/cosim/cosim"
)

// Operation is a handle to one in-flight, slave-directed command. It
// completes on a worker goroutine. Waiting is the only synchronization it
// offers; an issued operation cannot be cancelled.
//
// The result must be retired exactly once with Result.
type Operation[T any] struct {
	done    chan struct{}
	value   T
	err     error
	retired atomic.Bool
}

// startOperation runs fn on a new goroutine and returns its handle.
func startOperation[T any](fn func() (T, error)) *Operation[T] {
	op := &Operation[T]{done: make(chan struct{})}
	go func() {
		defer close(op.done)
		op.value, op.err = fn()
	}()
	return op
}

// failedOperation returns an already-completed operation carrying err.
func failedOperation[T any](err error) *Operation[T] {
	op := &Operation[T]{done: make(chan struct{}), err: err}
	close(op.done)
	return op
}

// Done is closed when the operation has completed.
func (op *Operation[T]) Done() <-chan struct{} { return op.done }

// Wait blocks until the operation has completed.
func (op *Operation[T]) Wait() { <-op.done }

// WaitTimeout blocks until the operation has completed or d has elapsed,
// and reports whether it completed.
func (op *Operation[T]) WaitTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-op.done:
		return true
	case <-timer.C:
		return false
	}
}

// Result waits for completion and returns the outcome, retiring the handle.
// A second call fails with cosim.ErrInvalidState.
func (op *Operation[T]) Result() (T, error) {
	if !op.retired.CompareAndSwap(false, true) {
		var zero T
		return zero, fmt.Errorf("operation result already retrieved: %w", cosim.ErrInvalidState)
	}
	<-op.done
	return op.value, op.err
}

type waiter interface{ Wait() }
