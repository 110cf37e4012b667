package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"repoferry/internal/platform"
	"repoferry/internal/synccheck"
	"repoferry/internal/transfer"
)

func TestReportSinkRendersMarkdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	sink, err := NewReportSink(path)
	if err != nil {
		t.Fatalf("NewReportSink failed: %v", err)
	}

	_ = sink.Write(completedResult())
	_ = sink.Write(transfer.Result{
		SourcePath: "platform/ledger",
		TargetName: "ledger",
		State:      transfer.StateFailed,
		Error:      "push | rejected",
		Warnings:   []string{"topic attach failed"},
	})
	_ = sink.Write(synccheck.RepoReport{
		SourcePath: "platform/billing",
		TargetName: "billing",
		Branches: synccheck.KindReport{
			Diverged: 1,
			Refs: []synccheck.RefComparison{{
				Name: "main", State: synccheck.StateDiverged, AheadBy: 2, BehindBy: 1,
				Commits: []platform.CommitSummary{{ID: "abcdef1234567890", Title: "fix rounding"}},
			}},
		},
	})
	_ = sink.Write(Event{Type: "run.finished", ExitCode: 1})

	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	report := string(data)

	for _, want := range []string{
		"# Migration Report",
		"1 completed, 1 failed, 0 skipped",
		"| platform/billing | billing | completed |",
		"push \\| rejected",
		"### Warnings: ledger",
		"- topic attach failed",
		"## Sync Status",
		"out of sync",
		"### Divergences: billing",
		"`main`: diverged (source ahead 2, behind 1)",
		"`abcdef12` fix rounding",
		"Exit code: 1",
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("Report missing %q:\n%s", want, report)
		}
	}

	// Rows are sorted by target name.
	if strings.Index(report, "| platform/billing |") > strings.Index(report, "| platform/ledger |") {
		t.Fatal("Expected transfer rows sorted by target name")
	}
}

func TestReportSinkRequiresPath(t *testing.T) {
	if _, err := NewReportSink(""); err == nil {
		t.Fatal("Expected an error for an empty path")
	}
}
