package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/runtrail/pkg/logging"
)

// Manager runs registered cleanup functions once a stop is requested.
type Manager struct {
	shutdownFuncs []func(context.Context) error
	mu            sync.Mutex
	timeout       time.Duration
	logger        *logging.Logger
	doneChan      chan struct{}
	once          sync.Once
}

// New creates a shutdown manager. Cleanup gets at most timeout in total.
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	return &Manager{
		timeout:  timeout,
		logger:   logger,
		doneChan: make(chan struct{}),
	}
}

// Register adds a shutdown function.
// Functions are called in reverse order (LIFO).
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, fn)
}

// Done is closed when shutdown is initiated.
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Trigger initiates shutdown without a signal.
func (m *Manager) Trigger() {
	m.once.Do(func() {
		close(m.doneChan)
	})
}

// Shutdown executes all registered shutdown functions and returns the
// number that failed.
func (m *Manager) Shutdown() int {
	m.Trigger()

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	failed := 0
	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		if err := m.shutdownFuncs[i](ctx); err != nil {
			failed++
			m.logger.Error("shutdown step failed", map[string]interface{}{"step": i, "error": err.Error()})
		}
	}
	m.shutdownFuncs = nil

	m.logger.Info("graceful shutdown complete", map[string]interface{}{"failed_steps": failed})
	return failed
}

// Wait blocks until SIGINT/SIGTERM, Trigger, or ctx cancellation, then
// runs Shutdown. It returns ctx.Err() only when ctx ended the wait.
func (m *Manager) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("received signal, shutting down", map[string]interface{}{"signal": sig.String()})
	case <-m.doneChan:
	case <-ctx.Done():
		m.Shutdown()
		return ctx.Err()
	}

	m.Shutdown()
	return nil
}

// StopHTTPServer creates a shutdown function for an http.Server.
func StopHTTPServer(server interface{ Shutdown(context.Context) error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop %s server: %w", name, err)
		}
		return nil
	}
}

// WaitForIdle creates a shutdown function that polls until idle reports true.
func WaitForIdle(idle func() bool, pollInterval time.Duration, what string) func(context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			if idle() {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("timeout waiting for %s: %w", what, ctx.Err())
			case <-ticker.C:
			}
		}
	}
}
