// Package runner executes external tools (lsblk, mount, the Ventoy
// installer) with context cancellation, line streaming and exit code capture.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/vwriter/ventoy-writer/pkg/errors"
)

// Stream identifies which output stream a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Command describes one external invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string
	Stdin io.Reader

	// OnLine, when set, receives every output line as it is produced.
	OnLine func(stream Stream, line string)
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds what a finished command left behind.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Output returns stdout followed by stderr, trimmed.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// Runner runs a command to completion.
//
// A command that started and exited non-zero returns both a Result carrying
// the exit code and a non-nil error. A command that could not be started
// returns a Result with ExitCode -1.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after the
	// process was killed by context cancellation.
	WaitDelay time.Duration
}

// NewExecRunner returns an ExecRunner with a short pipe wait delay.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{WaitDelay: 5 * time.Second}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	slog.Debug("exec_start", "command", c.String())

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	cmd.WaitDelay = r.WaitDelay

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return &Result{ExitCode: -1}, errors.Wrap(err, "failed to open stdout")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return &Result{ExitCode: -1}, errors.Wrap(err, "failed to open stderr")
	}

	if err := cmd.Start(); err != nil {
		slog.Error("exec_start_failed", "command", c.String(), "error", err)
		return &Result{ExitCode: -1}, errors.Wrap(err, "failed to start "+c.Name)
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go collect(&wg, stdoutPipe, &stdout, Stdout, c.OnLine)
	go collect(&wg, stderrPipe, &stderr, Stderr, c.OnLine)
	wg.Wait()

	waitErr := cmd.Wait()
	res := &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if waitErr != nil {
		slog.Warn("exec_failed", "command", c.String(), "exit_code", res.ExitCode, "error", waitErr)
		return res, errors.Wrap(waitErr, c.Name+" failed")
	}

	slog.Debug("exec_complete", "command", c.String())
	return res, nil
}

func collect(wg *sync.WaitGroup, r io.Reader, buf *bytes.Buffer, stream Stream, onLine func(Stream, string)) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if onLine != nil {
			onLine(stream, line)
		}
	}
	// Drain whatever is left so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
