package bowtie

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Result is the single emission of an Observable: a value or an error.
type Result struct {
	Value any
	Err   error
}

// Observable is a deferred call. Nothing runs until the first Subscribe or
// Get; the work then runs once and every subscriber receives the same
// Result. The work runs under the first subscriber's context.
type Observable struct {
	once    sync.Once
	started atomic.Bool
	run     func(ctx context.Context) (any, error)
	done    chan struct{}
	result  Result
}

// NewObservable wraps run without starting it.
func NewObservable(run func(ctx context.Context) (any, error)) *Observable {
	return &Observable{run: run, done: make(chan struct{})}
}

func (o *Observable) start(ctx context.Context) {
	o.once.Do(func() {
		o.started.Store(true)
		go func() {
			defer close(o.done)
			v, err := o.run(ctx)
			o.result = Result{Value: v, Err: err}
		}()
	})
}

// Started reports whether the work has been triggered.
func (o *Observable) Started() bool {
	return o.started.Load()
}

// Subscribe starts the work if needed and returns a channel that yields one
// Result and is then closed. If ctx ends first the channel yields ctx's
// error instead.
func (o *Observable) Subscribe(ctx context.Context) <-chan Result {
	o.start(ctx)

	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		select {
		case <-o.done:
			ch <- o.result
		case <-ctx.Done():
			ch <- Result{Err: ctx.Err()}
		}
	}()
	return ch
}

// Get starts the work if needed and blocks until it completes or ctx ends.
func (o *Observable) Get(ctx context.Context) (any, error) {
	o.start(ctx)

	select {
	case <-o.done:
		return o.result.Value, o.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await is Get with the value asserted to T. A nil value yields T's zero.
func Await[T any](ctx context.Context, o *Observable) (T, error) {
	var zero T
	v, err := o.Get(ctx)
	if err != nil {
		return zero, err
	}
	return as[T](v)
}

func as[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, newError(ErrorTypeIllegalState, fmt.Sprintf("result is %T, not %s", v, reflect.TypeFor[T]()), nil)
	}
	return t, nil
}
