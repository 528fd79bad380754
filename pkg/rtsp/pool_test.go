package rtsp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	ok := pool.Submit(func() { wg.Done() })
	require.True(t, ok)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submitted task never ran")
	}
}

func TestWorkerPoolDropsTasksWhenSaturated(t *testing.T) {
	pool := NewWorkerPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	block := make(chan struct{})
	require.True(t, pool.Submit(func() { <-block }))

	// Queue capacity is workerCount*4; fill it, then overflow by one.
	accepted := 0
	for i := 0; i < 4; i++ {
		if pool.Submit(func() {}) {
			accepted++
		}
	}
	rejected := pool.Submit(func() {})

	close(block)

	require.False(t, rejected)
	require.GreaterOrEqual(t, pool.DroppedTasks(), int64(1))
}

func TestWorkerPoolStopWaitsForWorkers(t *testing.T) {
	pool := NewWorkerPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	started := make(chan struct{})
	finish := make(chan struct{})
	pool.Submit(func() {
		close(started)
		<-finish
	})

	<-started
	close(finish)
	pool.Stop()
}
