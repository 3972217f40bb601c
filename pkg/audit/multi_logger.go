package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// MultiLogger logs to multiple audit loggers simultaneously
type MultiLogger struct {
	loggers []Logger
	async   bool

	wg        sync.WaitGroup
	mu        sync.Mutex
	asyncErrs *multierror.Error
}

// NewMultiLogger creates a synchronous multi-logger that writes to every destination
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// SetAsync makes Log return immediately; errors are collected for Errors and Close.
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log writes event to every logger. In sync mode every logger is attempted and the
// failures are returned together.
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if m.async {
		m.logAsync(ctx, event)
		return nil
	}

	var result *multierror.Error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m *MultiLogger) logAsync(ctx context.Context, event *AuditEvent) {
	// The request context may be cancelled before the write happens.
	ctx = context.WithoutCancel(ctx)
	for _, l := range m.loggers {
		m.wg.Add(1)
		go func(l Logger) {
			defer m.wg.Done()
			if err := l.Log(ctx, event); err != nil {
				m.mu.Lock()
				m.asyncErrs = multierror.Append(m.asyncErrs, err)
				m.mu.Unlock()
			}
		}(l)
	}
}

// Wait waits for all async logging operations to complete
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// Errors returns and clears the errors collected from async writes.
func (m *MultiLogger) Errors() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.asyncErrs.ErrorOrNil()
	m.asyncErrs = nil
	return err
}

// Close waits for pending writes, then closes every logger.
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var result *multierror.Error
	if err := m.Errors(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close logger: %w", err))
		}
	}
	return result.ErrorOrNil()
}
