package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"repoferry/internal/synccheck"
)

func TestNewEmitSinkValidation(t *testing.T) {
	if _, err := NewEmitSink(nil, "json"); err == nil {
		t.Fatal("Expected an error for a nil writer")
	}
	if _, err := NewEmitSink(&bytes.Buffer{}, "text"); err == nil {
		t.Fatal("Expected an error for an unsupported format")
	}
}

func TestEmitSinkNDJSON(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewEmitSink(&buf, "ndjson")
	if err != nil {
		t.Fatalf("NewEmitSink failed: %v", err)
	}

	if err := sink.Write(Event{Type: "run.started", Mappings: 1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Write(completedResult()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Write(synccheck.RepoReport{TargetName: "billing"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	// Streaming output must be readable line by line as a run progresses.
	var event Event
	if err := json.Unmarshal([]byte(lines[2]), &event); err != nil {
		t.Fatalf("Last line is not JSON: %v", err)
	}
	if event.Type != "sync.report" {
		t.Fatalf("Expected sync.report, got %q", event.Type)
	}
}

func TestEmitSinkJSONAggregate(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewEmitSink(&buf, "json")
	if err != nil {
		t.Fatalf("NewEmitSink failed: %v", err)
	}
	_ = sink.Write(completedResult())
	_ = sink.Write(synccheck.RepoReport{TargetName: "billing"})
	_ = sink.Write(Event{Type: "run.finished", ExitCode: 0})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var events []Event
	if err := json.Unmarshal(buf.Bytes(), &events); err != nil {
		t.Fatalf("Aggregate is not a JSON array: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected the result and the sync report, got %+v", events)
	}
	if events[0].Type != "transfer.result" || events[1].Type != "sync.report" {
		t.Fatalf("Unexpected aggregate: %+v", events)
	}
}
