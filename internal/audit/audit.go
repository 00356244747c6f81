package audit

import "context"

// Sink delivers one event. A returned error is reported through the
// dispatcher's error hook and counted as a failed delivery.
type Sink[T any] interface {
	Emit(ctx context.Context, event T) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc[T any] func(ctx context.Context, event T) error

func (f SinkFunc[T]) Emit(ctx context.Context, event T) error {
	return f(ctx, event)
}

// Discard drops every event.
type Discard[T any] struct{}

func (Discard[T]) Emit(context.Context, T) error { return nil }
