// Package gitcmd wraps the local git binary for the history transfer: a
// mirror clone from the source followed by a push of the selected refs to
// the target. Credentials embedded in remote URLs are redacted from every
// surfaced error and log line.
package gitcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"repoferry/internal/platform"
)

const defaultTimeout = 30 * time.Minute

var credentialPattern = regexp.MustCompile(`://[^/@\s]+@`)

// Redact masks userinfo embedded in URLs, e.g. https://token@host/...
func Redact(s string) string {
	return credentialPattern.ReplaceAllString(s, "://***@")
}

// PushMode selects which refs are pushed to the target.
type PushMode struct {
	Branches bool
	Tags     bool
}

// Runner executes git subcommands with a generous timeout. Each invocation
// gets its own working directory; Runner keeps no state between calls.
type Runner struct {
	logger  *zap.Logger
	timeout time.Duration

	// run is a test seam over command execution.
	run func(ctx context.Context, dir string, args ...string) ([]byte, error)
}

func NewRunner(logger *zap.Logger, timeout time.Duration) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := &Runner{logger: logger, timeout: timeout}
	r.run = r.execute
	return r
}

// MirrorClone clones sourceURL as a bare mirror into dir, bringing over
// every ref and keeping remote refs exactly as upstream has them.
func (r *Runner) MirrorClone(ctx context.Context, sourceURL, dir string) error {
	r.logger.Info("cloning source repository",
		zap.String("url", Redact(sourceURL)),
		zap.String("dir", dir))
	_, err := r.git(ctx, "", "clone", "--mirror", sourceURL, dir)
	return err
}

// Push sends the mirrored refs to targetURL. With both branches and tags
// selected a mirror push transfers everything in one call; otherwise the
// selected ref kinds are pushed individually.
func (r *Runner) Push(ctx context.Context, dir, targetURL string, mode PushMode) error {
	r.logger.Info("pushing to target repository",
		zap.String("url", Redact(targetURL)),
		zap.Bool("branches", mode.Branches),
		zap.Bool("tags", mode.Tags))

	switch {
	case mode.Branches && mode.Tags:
		_, err := r.git(ctx, dir, "push", "--mirror", targetURL)
		return err
	case mode.Branches:
		_, err := r.git(ctx, dir, "push", targetURL, "refs/heads/*:refs/heads/*")
		return err
	case mode.Tags:
		_, err := r.git(ctx, dir, "push", targetURL, "refs/tags/*:refs/tags/*")
		return err
	default:
		return platform.NewError(platform.KindConfiguration, "git push",
			"nothing to push: both branches and tags are disabled")
	}
}

// git runs one git invocation and classifies failures as local tool errors.
func (r *Runner) git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	start := time.Now()
	output, err := r.run(ctx, dir, args...)
	elapsed := time.Since(start)

	op := "git " + args[0]
	if err != nil {
		message := Redact(strings.TrimSpace(string(output)))
		if errors.Is(err, context.DeadlineExceeded) {
			message = fmt.Sprintf("timed out after %s", r.timeout)
		}
		if message == "" {
			message = Redact(err.Error())
		}
		r.logger.Error("git command failed",
			zap.String("op", op),
			zap.Duration("elapsed", elapsed),
			zap.String("output", message))
		return output, &platform.Error{Kind: platform.KindLocalTool, Op: op, Message: message, Err: err}
	}

	r.logger.Debug("git command finished",
		zap.String("op", op),
		zap.Duration("elapsed", elapsed))
	return output, nil
}

func (r *Runner) execute(ctx context.Context, dir string, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		err = context.DeadlineExceeded
	}
	return output.Bytes(), err
}
