package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// SinkTimeout bounds a single delivery. Zero means no bound.
	SinkTimeout time.Duration
}

// Dispatcher asynchronously forwards events to a sink from one worker
// goroutine. A nil *Dispatcher is valid and discards everything.
type Dispatcher[T any] struct {
	cfg       Config
	sink      Sink[T]
	onError   func(T, error)
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher. It returns nil when cfg.Enabled is false.
// onError may be nil.
func NewDispatcher[T any](cfg Config, sink Sink[T], onError func(T, error)) *Dispatcher[T] {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = Discard[T]{}
	}

	d := &Dispatcher[T]{
		cfg:     cfg,
		sink:    sink,
		onError: onError,
		ch:      make(chan T, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher[T]) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher[T]) deliver(event T) {
	ctx := context.Background()
	if d.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		defer cancel()
	}
	if err := d.sink.Emit(ctx, event); err != nil {
		d.failed.Add(1)
		if d.onError != nil {
			d.onError(event, err)
		}
	}
}

// Emit enqueues event. With DropIfFull it never blocks; otherwise it waits
// for buffer space, ctx cancellation or Close.
func (d *Dispatcher[T]) Emit(ctx context.Context, event T) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting events, drains the buffer and waits for the worker.
func (d *Dispatcher[T]) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped counts events that never reached the sink because the buffer was full.
func (d *Dispatcher[T]) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts deliveries the sink rejected.
func (d *Dispatcher[T]) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
