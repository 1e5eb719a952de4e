package provider

import (
	"context"
	"fmt"

	"github.com/vonshlovens/catalogsync/internal/model"
)

// Emitter publishes progress for a running producer.
type Emitter[T any] struct {
	ctx context.Context
	ch  chan<- Event[T]
}

// Progress sends a progress event. It returns false once the consumer has
// gone away, in which case the producer should stop.
func (e *Emitter[T]) Progress(message string, p *model.Progress) bool {
	return e.send(Progress[T](message, p))
}

// Fraction sends a determinate progress event.
func (e *Emitter[T]) Fraction(message string, current, total int) bool {
	return e.Progress(message, &model.Progress{Current: current, Total: total})
}

func (e *Emitter[T]) send(ev Event[T]) bool {
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// Run starts fn on its own goroutine and returns the stream it feeds. The
// terminal event is derived from fn's return: an error becomes Failure with
// the error text and a nil error becomes Success. A panic in fn is reported
// as Failure. The channel is closed after the terminal event, or as soon as
// ctx is cancelled.
func Run[T any](ctx context.Context, fn func(ctx context.Context, emit *Emitter[T]) (T, error)) <-chan Event[T] {
	ch := make(chan Event[T], 1)
	go func() {
		defer close(ch)
		emit := &Emitter[T]{ctx: ctx, ch: ch}

		var (
			result T
			err    error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("provider panicked: %v", r)
				}
			}()
			result, err = fn(ctx, emit)
		}()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			emit.send(Failure[T](err.Error()))
			return
		}
		emit.send(Success(result))
	}()
	return ch
}

// Collect drains a stream, forwarding progress events to onProgress, and
// returns the terminal event. ok is false when the stream closed without one.
func Collect[T any](ctx context.Context, events <-chan Event[T], onProgress func(Event[T])) (terminal Event[T], ok bool) {
	for {
		select {
		case <-ctx.Done():
			return Failure[T](ctx.Err().Error()), true
		case ev, open := <-events:
			if !open {
				return Event[T]{}, false
			}
			if ev.Terminal() {
				return ev, true
			}
			if onProgress != nil {
				onProgress(ev)
			}
		}
	}
}
