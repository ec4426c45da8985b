package listener

import (
	"context"
	"log/slog"
	"sync"
)

type Job interface {
	Start(ctx context.Context)
	Stop()
}

// Listener runs handler for every value received on a channel in a single
// background goroutine, until stopped or the channel is closed.
type Listener[T any] struct {
	handler     func(input T) error
	stopHandler func()

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
	once   sync.Once
}

func New[T any](
	in <-chan T,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	if len(stopHandler) == 0 {
		stopHandler = []func(){func() {}}
	}

	return &Listener[T]{
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: stopHandler[0],
	}
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			select {
			case inp, ok := <-l.in:
				if !ok {
					return
				}
				if err := l.handler(inp); err != nil {
					slog.Error("listener handler failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop, waits for it and runs the stop handler once.
func (l *Listener[T]) Stop() {
	l.once.Do(func() {
		l.cancel()
		l.wg.Wait()
		l.stopHandler()
	})
}
