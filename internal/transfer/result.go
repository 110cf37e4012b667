package transfer

import (
	"time"

	"repoferry/internal/platform"
)

// State is the per-mapping position in the transfer pipeline.
type State string

const (
	StatePending         State = "pending"
	StateCloning         State = "cloning"
	StateTargetResolving State = "target_resolving"
	StatePushing         State = "pushing"
	StateClassifying     State = "classifying"
	StateAuthorizing     State = "authorizing"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateSkippedDryRun   State = "skipped_dry_run"
)

// Terminal reports whether the state is an end state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateSkippedDryRun
}

// Result records the outcome of one mapping's transfer.
type Result struct {
	SourcePath string        `json:"source_path"`
	SourceID   int64         `json:"source_id,omitempty"`
	TargetName string        `json:"target_name"`
	TargetURL  string        `json:"target_url,omitempty"`
	State      State         `json:"state"`
	Reused     bool          `json:"reused_existing,omitempty"`
	Topic      string        `json:"topic,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  platform.Kind `json:"error_kind,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// Planned lists the mutations a dry run would have performed.
	Planned []string `json:"planned_actions,omitempty"`
}

// Summary aggregates a run's results.
type Summary struct {
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Results   []Result  `json:"results"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// AnyFailed reports whether any mapping ended in failure.
func (s Summary) AnyFailed() bool { return s.Failed > 0 }

func (s *Summary) add(result Result) {
	switch result.State {
	case StateCompleted:
		s.Completed++
	case StateFailed:
		s.Failed++
	case StateSkippedDryRun:
		s.Skipped++
	}
	s.Results = append(s.Results, result)
}
