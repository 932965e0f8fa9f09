package logqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/psantana5/runtrail/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitNeverOverlaps(t *testing.T) {
	q := New()

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Submit(context.Background(), func() error {
				n := running.Add(1)
				for {
					m := maxRunning.Load()
					if n <= m || maxRunning.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxRunning.Load())
	assert.Equal(t, 0, q.Depth())
}

func TestSubmitFIFO(t *testing.T) {
	q := New()
	release := make(chan struct{})

	// Hold the worker so every following task is queued behind it.
	blockerDone := make(chan error, 1)
	go func() {
		blockerDone <- q.Submit(context.Background(), func() error {
			<-release
			return nil
		})
	}()
	require.Eventually(t, func() bool { return q.Depth() == 1 }, time.Second, time.Millisecond)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Submit(context.Background(), func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Wait until task i is enqueued before submitting i+1.
		require.Eventually(t, func() bool { return q.Depth() == i+2 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()
	require.NoError(t, <-blockerDone)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestFailureDoesNotJamQueue(t *testing.T) {
	m := report.NewMetrics()
	q := New(WithMetrics(m))
	boom := errors.New("disk full")

	err := q.Submit(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)

	err = q.Submit(context.Background(), func() error { panic("sink exploded") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink exploded")

	ran := false
	err = q.Submit(context.Background(), func() error {
		ran = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.QueueFailures))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.QueueDepth))
}

func TestSubmitAbandonedTaskStillRuns(t *testing.T) {
	q := New()
	release := make(chan struct{})
	go func() {
		_ = q.Submit(context.Background(), func() error {
			<-release
			return nil
		})
	}()
	require.Eventually(t, func() bool { return q.Depth() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Submit(ctx, func() error {
			close(ran)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return q.Depth() == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("abandoned task never ran")
	}
}

func TestSubmitNilTask(t *testing.T) {
	assert.ErrorIs(t, New().Submit(context.Background(), nil), ErrNilTask)
}

func TestDefaultIsShared(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestDepthCountsQueuedAndRollsBackCancelled(t *testing.T) {
	m := report.NewMetrics()
	q := New(WithMetrics(m))
	q.jobs = make(chan *job) // no buffer: a send only succeeds when the worker is free

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = q.Submit(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	assert.Equal(t, 1, q.Depth())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Submit(ctx, func() error {
		t.Error("a task that was never enqueued must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, q.Depth())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.QueueDepth))

	close(release)
	assert.Eventually(t, func() bool { return q.Depth() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.QueueDepth))
}

func TestDepthNeverNegative(t *testing.T) {
	q := New()

	stop := make(chan struct{})
	var negative atomic.Bool
	var sampler sync.WaitGroup
	sampler.Add(1)
	go func() {
		defer sampler.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if q.Depth() < 0 {
					negative.Store(true)
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Submit(context.Background(), func() error { return nil })
		}()
	}
	wg.Wait()
	close(stop)
	sampler.Wait()

	assert.False(t, negative.Load())
	assert.Equal(t, 0, q.Depth())
}
