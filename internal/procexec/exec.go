// Package procexec funnels every subprocess invocation the build
// pipeline makes through one place, unifying the synchronous-invoke
// pattern of internal/pkg/cmdrun.RunCmdSync (Pdeathsig-bound child,
// combined stdout/stderr capture) with an idle watchdog and
// line-by-line structured logging that neither teacher helper has on
// its own.
package procexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	log "github.com/sirupsen/logrus"

	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// DefaultIdleTimeout is the watchdog threshold from spec §5: a
// subprocess producing no output for this long is presumed stalled.
const DefaultIdleTimeout = 15 * time.Minute

// tailLines is how many trailing lines of combined output are kept for
// error reporting, per spec §7 ("last 40 lines of captured subprocess
// output").
const tailLines = 40

// Options configures a single Run invocation.
type Options struct {
	Dir         string
	Env         []string
	Stdin       io.Reader
	IdleTimeout time.Duration
	Entry       *log.Entry
	ExtraFiles  []*os.File
}

// Result captures a completed invocation's outcome.
type Result struct {
	ExitCode int
	Tail     []string
}

// ExitError wraps a non-zero or signalled process exit with the argv
// and captured output tail, mirroring cmd/coreos-assembler.go's
// wrapCommandErr which attaches *exec.ExitError's Stderr to the error
// text rather than leaving the caller to dig it out.
type ExitError struct {
	Argv     []string
	ExitCode int
	Tail     []string
	Err      error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q failed (exit %d): %v\n%s",
		shellquote.Join(e.Argv...), e.ExitCode, e.Err, strings.Join(e.Tail, "\n"))
}

func (e *ExitError) Unwrap() error { return e.Err }

// ring is a fixed-capacity trailing-line buffer.
type ring struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

func newRing(cap int) *ring { return &ring{cap: cap} }

func (r *ring) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

func (r *ring) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Run executes argv[0] with argv[1:], streaming combined stdout/stderr
// line-by-line to opts.Entry at Debug level, and cancelling the process
// if no output arrives within opts.IdleTimeout. On cancellation via ctx
// or the watchdog, the child is sent SIGTERM and, if still alive after
// 10s, SIGKILL, matching the polite-then-hard cancellation policy of
// spec §5.
func Run(ctx context.Context, argv []string, opts Options) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("procexec: empty argv")
	}

	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	entry := opts.Entry
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	entry = entry.WithField("argv", shellquote.Join(argv...))

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	cmd.Stdin = opts.Stdin
	cmd.ExtraFiles = opts.ExtraFiles
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 10 * time.Second

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	tail := newRing(tailLines)

	activity := make(chan struct{}, 1)
	signalActivity := func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	}

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), math.MaxInt)
		for scanner.Scan() {
			line := scanner.Text()
			entry.Debug(line)
			tail.add(line)
			signalActivity()
		}
	}()

	watchdogDone := make(chan struct{})
	stalled := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		timer := time.NewTimer(idle)
		defer timer.Stop()
		for {
			select {
			case <-cctx.Done():
				return
			case <-activity:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(idle)
			case <-timer.C:
				close(stalled)
				cancel()
				return
			}
		}
	}()

	runErr := cmd.Run()
	pw.Close()
	<-scanDone
	cancel()
	<-watchdogDone

	select {
	case <-stalled:
		terminate(cmd)
		return Result{Tail: tail.snapshot()}, fmt.Errorf("%w: %s", zerrors.ErrStalled, shellquote.Join(argv...))
	default:
	}

	if runErr != nil {
		if ctx.Err() != nil {
			terminate(cmd)
			return Result{Tail: tail.snapshot()}, fmt.Errorf("%w: %s", zerrors.ErrCancelled, shellquote.Join(argv...))
		}
		exitCode := -1
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return Result{ExitCode: exitCode, Tail: tail.snapshot()}, &ExitError{
			Argv:     argv,
			ExitCode: exitCode,
			Tail:     tail.snapshot(),
			Err:      runErr,
		}
	}

	return Result{ExitCode: 0, Tail: tail.snapshot()}, nil
}

// terminate sends SIGTERM and escalates to SIGKILL after 10s if the
// process is still alive, per spec §5's cancellation policy.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		_ = cmd.Process.Kill()
	}
}

// RunSimple is a convenience wrapper for commands whose output should
// only be logged, not inspected by the caller, matching
// internal/pkg/cmdrun.RunCmdSyncV's "log and run" shape.
func RunSimple(ctx context.Context, entry *log.Entry, argv ...string) error {
	_, err := Run(ctx, argv, Options{Entry: entry, Stdin: os.Stdin})
	return err
}
