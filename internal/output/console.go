package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"

	"repoferry/internal/synccheck"
	"repoferry/internal/transfer"
)

var (
	stateColors = map[transfer.State]*color.Color{
		transfer.StateCompleted:     color.New(color.FgGreen),
		transfer.StateFailed:        color.New(color.FgRed),
		transfer.StateSkippedDryRun: color.New(color.FgYellow),
	}
	syncedColor   = color.New(color.FgGreen)
	divergedColor = color.New(color.FgRed)
	warnColor     = color.New(color.FgYellow)
)

type ConsoleSink struct {
	writer io.Writer
	format string // "text", "json", "ndjson"
	mu     sync.Mutex
	events []Event // For JSON array output
}

func NewConsoleSink(w io.Writer, format string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}
	return &ConsoleSink{writer: w, format: format}
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(v)
}

func (s *ConsoleSink) writeLocked(v any) error {
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
	case "text":
		switch t := v.(type) {
		case transfer.Result:
			if err := s.printResult(t); err != nil {
				return err
			}
			return flushIfPossible(s.writer)
		case synccheck.RepoReport:
			if err := s.printSync(t); err != nil {
				return err
			}
			return flushIfPossible(s.writer)
		default:
			// Ignore lifecycle events in text mode.
			return nil
		}
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) printResult(r transfer.Result) error {
	c, ok := stateColors[r.State]
	if !ok {
		c = color.New()
	}
	if _, err := c.Fprintf(s.writer, "[%s]", r.State); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, " %s -> %s", r.SourcePath, r.TargetName); err != nil {
		return err
	}
	if r.Reused {
		if _, err := fmt.Fprint(s.writer, " (reused existing)"); err != nil {
			return err
		}
	}
	if r.Error != "" {
		if _, err := fmt.Fprintf(s.writer, " - %s", r.Error); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(s.writer); err != nil {
		return err
	}
	for _, action := range r.Planned {
		if _, err := fmt.Fprintf(s.writer, "    plan: %s\n", action); err != nil {
			return err
		}
	}
	for _, warning := range r.Warnings {
		if _, err := warnColor.Fprintf(s.writer, "    warning: %s\n", warning); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConsoleSink) printSync(r synccheck.RepoReport) error {
	if r.Error != "" {
		if _, err := divergedColor.Fprintf(s.writer, "[error]"); err != nil {
			return err
		}
		_, err := fmt.Fprintf(s.writer, " %s -> %s - %s\n", r.SourcePath, r.TargetName, r.Error)
		return err
	}
	c := syncedColor
	verdict := "synced"
	if !r.Synced() {
		c = divergedColor
		verdict = "out of sync"
	}
	if _, err := c.Fprintf(s.writer, "[%s]", verdict); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, " %s -> %s (branches: %d synced, %d diverged, %d missing, %d extra; tags: %d synced, %d diverged, %d missing, %d extra)\n",
		r.SourcePath, r.TargetName,
		r.Branches.Synced, r.Branches.Diverged, r.Branches.Missing, r.Branches.Extra,
		r.Tags.Synced, r.Tags.Diverged, r.Tags.Missing, r.Tags.Extra); err != nil {
		return err
	}
	for _, ref := range append(append([]synccheck.RefComparison{}, r.Branches.Refs...), r.Tags.Refs...) {
		if ref.State == synccheck.StateSynced {
			continue
		}
		if _, err := fmt.Fprintf(s.writer, "    %s: %s", ref.Name, ref.State); err != nil {
			return err
		}
		if ref.AheadBy > 0 || ref.BehindBy > 0 {
			if _, err := fmt.Fprintf(s.writer, " (source ahead %d, behind %d)", ref.AheadBy, ref.BehindBy); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(s.writer); err != nil {
			return err
		}
		for _, commit := range ref.Commits {
			if _, err := fmt.Fprintf(s.writer, "        %.8s %s\n", commit.ID, commit.Title); err != nil {
				return err
			}
		}
	}
	for _, warning := range r.Warnings {
		if _, err := warnColor.Fprintf(s.writer, "    warning: %s\n", warning); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConsoleSink) Close() error {
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
	if s.format != "text" && s.format != "ndjson" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return nil
}
