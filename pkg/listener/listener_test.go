package listener

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListener_HandlesUntilStopped(t *testing.T) {
	in := make(chan int)
	var sum atomic.Int64
	var stopped atomic.Bool

	l := New(in, func(v int) error {
		sum.Add(int64(v))
		if v < 0 {
			return errors.New("negative")
		}
		return nil
	}, func() { stopped.Store(true) })
	l.Start(context.Background())

	for _, v := range []int{1, 2, -1, 3} {
		in <- v
	}
	require.Eventually(t, func() bool { return sum.Load() == 5 }, time.Second, time.Millisecond)

	l.Stop()
	l.Stop()
	assert.True(t, stopped.Load())
}

func TestListener_ClosedChannelEndsLoop(t *testing.T) {
	in := make(chan struct{})
	l := New(in, func(struct{}) error { return nil })
	l.Start(context.Background())
	close(in)

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
