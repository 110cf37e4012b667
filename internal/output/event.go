package output

import (
	"repoferry/internal/synccheck"
	"repoferry/internal/transfer"
)

// Event is a lifecycle record for NDJSON streaming output.
//
// In NDJSON mode, sinks emit Events (one JSON object per line), including:
// - run.started
// - mapping.started
// - transfer.result
// - sync.report
// - run.finished
//
// JSON mode remains an aggregate of transfer.Result values.
type Event struct {
	Type   string `json:"type"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
	*transfer.Result
	Sync     *synccheck.RepoReport `json:"sync,omitempty"`
	Mappings int                   `json:"mappings,omitempty"`
	ExitCode int                   `json:"exit_code,omitempty"`
}

func eventFromResult(r transfer.Result) Event {
	return Event{Type: "transfer.result", Source: r.SourcePath, Target: r.TargetName, Result: &r}
}

func eventFromSync(r synccheck.RepoReport) Event {
	return Event{Type: "sync.report", Source: r.SourcePath, Target: r.TargetName, Sync: &r}
}
