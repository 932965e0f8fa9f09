package shutdown

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psantana5/runtrail/pkg/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewLoggerTo(io.Discard, logging.ERROR, true)
}

func TestShutdownRunsInReverseOrder(t *testing.T) {
	m := New(time.Second, quietLogger())

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		m.Register(func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	if failed := m.Shutdown(); failed != 0 {
		t.Fatalf("Shutdown() failed = %d, want 0", failed)
	}
	want := []int{2, 1, 0}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	select {
	case <-m.Done():
	default:
		t.Error("Done() should be closed after Shutdown")
	}
}

func TestShutdownCountsFailures(t *testing.T) {
	m := New(time.Second, quietLogger())
	ran := 0
	m.Register(func(ctx context.Context) error { ran++; return nil })
	m.Register(func(ctx context.Context) error { ran++; return errors.New("boom") })

	if failed := m.Shutdown(); failed != 1 {
		t.Errorf("Shutdown() failed = %d, want 1", failed)
	}
	if ran != 2 {
		t.Errorf("ran = %d, want every step to run", ran)
	}
}

func TestWaitReturnsOnTrigger(t *testing.T) {
	m := New(time.Second, quietLogger())
	var stopped atomic.Bool
	m.Register(func(ctx context.Context) error { stopped.Store(true); return nil })

	errCh := make(chan error, 1)
	go func() { errCh <- m.Wait(context.Background()) }()

	m.Trigger()
	m.Trigger()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after Trigger")
	}
	if !stopped.Load() {
		t.Error("shutdown functions were not run")
	}
}

func TestWaitReturnsOnContext(t *testing.T) {
	m := New(time.Second, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestWaitForIdle(t *testing.T) {
	var calls atomic.Int32
	fn := WaitForIdle(func() bool { return calls.Add(1) >= 3 }, time.Millisecond, "queue")
	if err := fn(context.Background()); err != nil {
		t.Fatalf("WaitForIdle() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	never := WaitForIdle(func() bool { return false }, time.Millisecond, "queue")
	if err := never(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForIdle() error = %v, want deadline exceeded", err)
	}
}
