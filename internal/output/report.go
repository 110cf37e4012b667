package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"repoferry/internal/synccheck"
	"repoferry/internal/transfer"
)

// ReportSink renders a Markdown summary of the run on Close: a result
// table, per-repository warnings, and any sync findings.
type ReportSink struct {
	path     string
	file     *os.File
	mu       sync.Mutex
	results  []transfer.Result
	syncs    []synccheck.RepoReport
	exitCode int
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	return &ReportSink{path: path, file: f}, nil
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t := v.(type) {
	case transfer.Result:
		s.results = append(s.results, t)
	case synccheck.RepoReport:
		s.syncs = append(s.syncs, t)
	case Event:
		if t.Type == "run.finished" {
			s.exitCode = t.ExitCode
		}
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString("# Migration Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	if len(s.results) > 0 {
		results := append([]transfer.Result{}, s.results...)
		sort.Slice(results, func(i, j int) bool { return results[i].TargetName < results[j].TargetName })

		var completed, failed, skipped int
		for _, r := range results {
			switch r.State {
			case transfer.StateCompleted:
				completed++
			case transfer.StateFailed:
				failed++
			case transfer.StateSkippedDryRun:
				skipped++
			}
		}
		fmt.Fprintf(&b, "## Transfers\n\n%d completed, %d failed, %d skipped\n\n", completed, failed, skipped)
		b.WriteString("| Source | Target | State | Notes |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, r := range results {
			note := r.Error
			if note == "" && r.Reused {
				note = "reused existing repository"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				r.SourcePath, r.TargetName, r.State, escapePipes(note))
		}
		b.WriteString("\n")

		for _, r := range results {
			if len(r.Warnings) == 0 {
				continue
			}
			fmt.Fprintf(&b, "### Warnings: %s\n\n", r.TargetName)
			for _, w := range r.Warnings {
				fmt.Fprintf(&b, "- %s\n", w)
			}
			b.WriteString("\n")
		}
	}

	if len(s.syncs) > 0 {
		syncs := append([]synccheck.RepoReport{}, s.syncs...)
		sort.Slice(syncs, func(i, j int) bool { return syncs[i].TargetName < syncs[j].TargetName })

		b.WriteString("## Sync Status\n\n")
		b.WriteString("| Source | Target | Verdict | Branches (s/d/m/e) | Tags (s/d/m/e) |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, r := range syncs {
			verdict := "synced"
			switch {
			case r.Error != "":
				verdict = "error: " + escapePipes(r.Error)
			case !r.Synced():
				verdict = "out of sync"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d/%d/%d/%d | %d/%d/%d/%d |\n",
				r.SourcePath, r.TargetName, verdict,
				r.Branches.Synced, r.Branches.Diverged, r.Branches.Missing, r.Branches.Extra,
				r.Tags.Synced, r.Tags.Diverged, r.Tags.Missing, r.Tags.Extra)
		}
		b.WriteString("\n")

		for _, r := range syncs {
			var lines []string
			for _, ref := range append(append([]synccheck.RefComparison{}, r.Branches.Refs...), r.Tags.Refs...) {
				if ref.State == synccheck.StateSynced {
					continue
				}
				line := fmt.Sprintf("- `%s`: %s", ref.Name, ref.State)
				if ref.AheadBy > 0 || ref.BehindBy > 0 {
					line += fmt.Sprintf(" (source ahead %d, behind %d)", ref.AheadBy, ref.BehindBy)
				}
				lines = append(lines, line)
				for _, commit := range ref.Commits {
					lines = append(lines, fmt.Sprintf("  - `%.8s` %s", commit.ID, escapePipes(commit.Title)))
				}
			}
			if len(lines) == 0 {
				continue
			}
			fmt.Fprintf(&b, "### Divergences: %s\n\n", r.TargetName)
			for _, line := range lines {
				b.WriteString(line)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "Exit code: %d\n", s.exitCode)

	_, writeErr := s.file.WriteString(b.String())
	if closeErr := s.file.Close(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}
	return writeErr
}

func escapePipes(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}
