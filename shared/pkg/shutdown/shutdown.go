package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/sdd-inspector/pkg/logging"
)

// Manager handles graceful shutdown
type Manager struct {
	shutdownFuncs []namedFunc
	mu            sync.Mutex
	timeout       time.Duration
	doneChan      chan struct{}
	once          sync.Once
	logger        *logging.Logger
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a new shutdown manager
func New(timeout time.Duration) *Manager {
	return &Manager{
		timeout:  timeout,
		doneChan: make(chan struct{}),
		logger:   logging.NewLogger(logging.INFO, false),
	}
}

// SetLogger replaces the default stdout logger
func (m *Manager) SetLogger(l *logging.Logger) {
	m.logger = l
}

// Register adds a shutdown function.
// Functions are called in reverse order (LIFO).
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// Wait blocks until a shutdown signal is received or Trigger is called
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("Received signal, initiating graceful shutdown", map[string]interface{}{"signal": sig.String()})
		m.Trigger()
	case <-m.doneChan:
	}
}

// Trigger starts shutdown without a signal
func (m *Manager) Trigger() {
	m.once.Do(func() {
		close(m.doneChan)
	})
}

// Done returns a channel that is closed when shutdown is initiated
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Context returns a context cancelled when shutdown is initiated
func (m *Manager) Context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-m.doneChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Shutdown executes all registered shutdown functions and returns the first error
func (m *Manager) Shutdown() error {
	m.Trigger()

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var firstErr error
	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		f := m.shutdownFuncs[i]
		if err := f.fn(ctx); err != nil {
			m.logger.Error("Shutdown step failed", map[string]interface{}{"step": f.name, "error": err.Error()})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.shutdownFuncs = nil

	m.logger.Info("Graceful shutdown complete")
	return firstErr
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop %s server: %w", name, err)
		}
		return nil
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", name, err)
		}
		return nil
	}
}

// WaitForIdle creates a shutdown function that polls until idle reports true
func WaitForIdle(idle func() bool, pollInterval time.Duration, resourceName string) func(context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			if idle() {
				return nil
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("timeout waiting for %s: %w", resourceName, ctx.Err())
			case <-ticker.C:
			}
		}
	}
}
