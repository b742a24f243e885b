// Package job adapts closures to shardqueue jobs.
package job

import (
	"context"
	"errors"
	"fmt"
)

// ErrNilJobFunc is returned when a job has no function.
var ErrNilJobFunc = errors.New("nil job func")

// Func is a named closure runnable by the shard executor. Errors are wrapped
// with the name so queue logs say which operation failed.
type Func struct {
	name string
	fn   func(context.Context) error
}

// Run implements shardqueue.Job.
func (f Func) Run(ctx context.Context) error {
	if f.fn == nil {
		return fmt.Errorf("job %q: %w", f.name, ErrNilJobFunc)
	}
	if err := f.fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", f.name, err)
	}
	return nil
}

// Name returns the job name.
func (f Func) Name() string { return f.name }

// New creates a job from a closure.
func New(name string, fn func(context.Context) error) Func {
	return Func{name: name, fn: fn}
}
