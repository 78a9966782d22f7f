// Package scanner runs the external content scanner against a staged file
// and classifies the result by exit status.
//
// The scanner contract is: exit 0 clean, exit 2 malicious, anything else
// (including failure to start) is a scan failure with diagnostics on stderr.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"quarantine-drop/internal/errs"
)

const (
	exitClean     = 0
	exitMalicious = 2

	maxDetail = 1024

	// defaultWaitDelay bounds how long Wait keeps reading output after the
	// scanner exits or is killed.
	defaultWaitDelay = 2 * time.Second
)

// Verdict is the classification of one scan.
type Verdict int

const (
	Clean Verdict = iota
	Malicious
	Failed
)

func (v Verdict) String() string {
	switch v {
	case Clean:
		return "clean"
	case Malicious:
		return "malicious"
	default:
		return "failed"
	}
}

// Outcome is produced exactly once per staged file. Err is set only when
// Verdict is Failed.
type Outcome struct {
	Verdict  Verdict
	Err      *errs.ScanError
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Options configures an Invoker.
type Options struct {
	Command string
	// Args precede the file path on the command line.
	Args        []string
	Timeout     time.Duration
	Concurrency int64
	Logger      *zap.Logger
}

// Invoker launches the scanner as an argument vector; the path is never
// interpolated into a shell.
type Invoker struct {
	command string
	args    []string
	timeout time.Duration
	sem     *semaphore.Weighted
	logger  *zap.Logger

	waitDelay time.Duration
}

func NewInvoker(opts Options) *Invoker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Invoker{
		command: opts.Command,
		args:    append([]string(nil), opts.Args...),
		timeout: opts.Timeout,
		sem:     semaphore.NewWeighted(opts.Concurrency),
		logger:  opts.Logger.Named("scanner"),

		waitDelay: defaultWaitDelay,
	}
}

// Scan blocks until the scanner exits, the timeout elapses, or ctx is done.
// The timeout covers only the scanner run, not the wait for a free slot.
// It never retries.
func (inv *Invoker) Scan(ctx context.Context, path string) Outcome {
	start := time.Now()

	if err := inv.sem.Acquire(ctx, 1); err != nil {
		return inv.failed(start, ctxKind(err), -1, "", "", err)
	}
	defer inv.sem.Release(1)

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, inv.command, append(append([]string(nil), inv.args...), path)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = inv.waitDelay
	isolate(cmd)

	if err := cmd.Start(); err != nil {
		return inv.failed(start, errs.ScanLaunchFailed, -1, "", "", err)
	}
	err := cmd.Wait()
	// Nothing the scanner started may outlive the scan.
	_ = killGroup(cmd)

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return inv.failed(start, ctxKind(ctx.Err()), code, stdout.String(), stderr.String(), ctx.Err())
	case err == nil, errors.As(err, &exitErr):
	case errors.Is(err, exec.ErrWaitDelay):
		// The scanner exited but left a descendant holding its output.
		inv.logger.Warn("scanner left output open after exit", zap.String("path", path))
	default:
		return inv.failed(start, errs.ScanLaunchFailed, code, stdout.String(), stderr.String(), err)
	}

	out := Outcome{
		ExitCode: code,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	switch code {
	case exitClean:
		out.Verdict = Clean
	case exitMalicious:
		out.Verdict = Malicious
	default:
		return inv.failed(start, errs.ScanNonZeroExit, code, out.Stdout, out.Stderr, nil)
	}

	inv.logger.Debug("scan complete",
		zap.String("path", path),
		zap.Stringer("verdict", out.Verdict),
		zap.Duration("duration", out.Duration),
	)
	return out
}

func (inv *Invoker) failed(start time.Time, kind errs.ScanErrorKind, code int, stdout, stderr string, cause error) Outcome {
	detail := truncate(strings.TrimSpace(stderr), maxDetail)
	if detail == "" && kind == errs.ScanNonZeroExit {
		detail = fmt.Sprintf("%s exited without diagnostics", inv.command)
	}
	se := &errs.ScanError{Kind: kind, ExitCode: code, Detail: detail, Err: cause}
	inv.logger.Warn("scan failed", zap.Error(se), zap.String("command", inv.command))
	return Outcome{
		Verdict:  Failed,
		Err:      se,
		ExitCode: code,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}
}

func ctxKind(err error) errs.ScanErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.ScanTimeout
	}
	return errs.ScanLaunchFailed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
