package output

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"repoferry/internal/platform"
	"repoferry/internal/transfer"
)

// Sink defines a destination for migration results.
type Sink interface {
	Write(v any) error
	Close() error
}

// Manager coordinates writing results to multiple sinks. It implements
// transfer.Observer so the orchestrator can stream progress through it.
type Manager struct {
	sinks  []Sink
	logger *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

func (m *Manager) AddSink(s Sink) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	if s == nil {
		return fmt.Errorf("sink must not be nil")
	}
	m.sinks = append(m.sinks, s)
	return nil
}

func (m *Manager) Write(v any) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(v); err != nil {
			errs = append(errs, fmt.Errorf("write %T: %w", s, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors writing to sinks: %w", errors.Join(errs...))
	}
	return nil
}

func (m *Manager) Close() error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %T: %w", s, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing sinks: %w", errors.Join(errs...))
	}
	return nil
}

// MappingStarted implements transfer.Observer.
func (m *Manager) MappingStarted(mapping platform.RepositoryMapping) {
	event := Event{
		Type:   "mapping.started",
		Source: mapping.Ref().String(),
		Target: mapping.TargetName,
	}
	if err := m.Write(event); err != nil {
		m.logger.Warn("failed to write mapping.started event", zap.Error(err))
	}
}

// MappingFinished implements transfer.Observer.
func (m *Manager) MappingFinished(result transfer.Result) {
	if err := m.Write(result); err != nil {
		m.logger.Warn("failed to write transfer result", zap.Error(err))
	}
}
