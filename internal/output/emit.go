package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"repoferry/internal/synccheck"
	"repoferry/internal/transfer"
)

// EmitSink writes additional structured outputs.
//
// Formats:
//   - json: aggregates result and sync-report events into one JSON array on Close
//   - ndjson: streams Event values (one JSON object per line)
//
// The control panel uses an ndjson EmitSink over an in-memory buffer to
// serve run progress from its status endpoint.
type EmitSink struct {
	writer io.Writer
	format string // "json" | "ndjson"
	mu     sync.Mutex
	events []Event
}

func NewEmitSink(w io.Writer, format string) (*EmitSink, error) {
	if w == nil {
		return nil, fmt.Errorf("emit sink writer must not be nil")
	}
	if format != "json" && format != "ndjson" {
		return nil, fmt.Errorf("unsupported emit format: %s", format)
	}
	return &EmitSink{writer: w, format: format}, nil
}

func (s *EmitSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		// Aggregate transfer results and sync reports; lifecycle events are
		// implied by the array itself.
		switch t := v.(type) {
		case transfer.Result:
			s.events = append(s.events, eventFromResult(t))
		case synccheck.RepoReport:
			s.events = append(s.events, eventFromSync(t))
		}
		return nil
	case "ndjson":
		encoder := json.NewEncoder(s.writer)
		switch t := v.(type) {
		case Event:
			if err := encoder.Encode(t); err != nil {
				return err
			}
			return flushIfPossible(s.writer)
		case transfer.Result:
			if err := encoder.Encode(eventFromResult(t)); err != nil {
				return err
			}
			return flushIfPossible(s.writer)
		case synccheck.RepoReport:
			if err := encoder.Encode(eventFromSync(t)); err != nil {
				return err
			}
			return flushIfPossible(s.writer)
		default:
			return nil
		}
	default:
		return fmt.Errorf("unsupported emit format: %s", s.format)
	}
}

func (s *EmitSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "json" {
		encoder := json.NewEncoder(s.writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(s.events); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	}
	return nil
}
