package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/kubeaudit/internal/logging"
)

// DefaultShutdownTimeout is the per-component grace period on Stop
const DefaultShutdownTimeout = 15 * time.Second

// Manager starts components in registration order and stops them in
// reverse. A component must be registered after everything it depends on.
type Manager struct {
	mu              sync.Mutex
	components      []Component
	started         []Component
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// NewManager creates a manager with DefaultShutdownTimeout
func NewManager() *Manager {
	return &Manager{
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logging.GetLogger("lifecycle.manager"),
	}
}

// Register appends components to the start order
func (m *Manager) Register(components ...Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range components {
		if c == nil {
			return fmt.Errorf("cannot register nil component")
		}
		if c.Name() == "" {
			return fmt.Errorf("component must have a non-empty name")
		}
		for _, existing := range m.components {
			if existing == c {
				return fmt.Errorf("component %s is already registered", c.Name())
			}
		}
		m.components = append(m.components, c)
		m.logger.Debug("Registered component %s", c.Name())
	}
	return nil
}

// Start starts every component in order. When one fails, the components
// started so far are stopped in reverse order and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = m.started[:0]
	for _, c := range m.components {
		m.logger.Info("Starting %s", c.Name())
		startTime := time.Now()

		if err := c.Start(ctx); err != nil {
			m.logger.Error("Failed to start %s: %v", c.Name(), err)
			m.stopStarted(context.Background())
			return fmt.Errorf("initialization failed for %s: %w", c.Name(), err)
		}
		m.started = append(m.started, c)
		m.logger.Debug("%s started (took %dms)", c.Name(), time.Since(startTime).Milliseconds())
	}

	m.logger.Info("All components started")
	return nil
}

// Stop stops the started components in reverse order, each with its own
// grace period derived from ctx. Stop errors are logged and joined.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Stopping all components")
	err := m.stopStarted(ctx)
	m.logger.Info("All components stopped")
	return err
}

func (m *Manager) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		m.logger.Debug("Stopping %s", c.Name())

		componentCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		err := c.Stop(componentCtx)
		cancel()

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			m.logger.Warn("Component %s exceeded grace period (%s)", c.Name(), m.shutdownTimeout)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		case err != nil:
			m.logger.Error("Error stopping %s: %v", c.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	m.started = m.started[:0]
	return errors.Join(errs...)
}

// Running lists the names of started components in start order
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.started))
	for _, c := range m.started {
		names = append(names, c.Name())
	}
	return names
}

// SetShutdownTimeout sets the per-component grace period
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = timeout
}
