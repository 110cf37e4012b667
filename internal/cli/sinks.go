package cli

import (
	"os"

	"repoferry/internal/output"
)

// buildManager assembles the output sinks a command asked for.
func buildManager(a *app, consoleFormat string, noConsole bool, out, outFormat, report, emit string) (*output.Manager, error) {
	manager := output.NewManager(a.logger)

	if !noConsole {
		if err := manager.AddSink(output.NewConsoleSink(os.Stdout, consoleFormat)); err != nil {
			return nil, err
		}
	}
	if out != "" {
		sink, err := output.NewFileSink(out, outFormat)
		if err != nil {
			return nil, err
		}
		if err := manager.AddSink(sink); err != nil {
			return nil, err
		}
	}
	if report != "" {
		sink, err := output.NewReportSink(report)
		if err != nil {
			return nil, err
		}
		if err := manager.AddSink(sink); err != nil {
			return nil, err
		}
	}
	if emit != "" {
		sink, err := output.NewEmitSink(os.Stdout, emit)
		if err != nil {
			return nil, err
		}
		if err := manager.AddSink(sink); err != nil {
			return nil, err
		}
	}
	return manager, nil
}
