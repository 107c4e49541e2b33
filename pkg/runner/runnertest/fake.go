// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vwriter/ventoy-writer/pkg/runner"
)

// Responses are matched on the command line prefix; unmatched commands
// fail as if the binary were missing.
var _ runner.Runner = (*Fake)(nil)

// Fake is a scripted Runner.
type Fake struct {
	mu        sync.Mutex
	responses []fakeResponse
	Calls     []runner.Command
	Stdins    []string
}

type fakeResponse struct {
	prefix string
	result runner.Result
	err    error
	hook   func(runner.Command)
}

// On registers the result returned for commands starting with prefix.
func (f *Fake) On(prefix string, res runner.Result, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{prefix: prefix, result: res, err: err})
	return f
}

// OnFunc registers a hook that runs before the scripted result is returned.
func (f *Fake) OnFunc(prefix string, res runner.Result, err error, hook func(runner.Command)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{prefix: prefix, result: res, err: err, hook: hook})
	return f
}

// Count returns how many recorded calls start with prefix.
func (f *Fake) Count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(c.String(), prefix) {
			n++
		}
	}
	return n
}

func (f *Fake) Run(ctx context.Context, c runner.Command) (*runner.Result, error) {
	stdin := ""
	if c.Stdin != nil {
		b, _ := io.ReadAll(c.Stdin)
		stdin = string(b)
	}

	f.mu.Lock()
	f.Calls = append(f.Calls, c)
	f.Stdins = append(f.Stdins, stdin)
	var match *fakeResponse
	line := c.String()
	for i := len(f.responses) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.responses[i].prefix) {
			match = &f.responses[i]
			break
		}
	}
	f.mu.Unlock()

	if match == nil {
		return &runner.Result{ExitCode: -1}, fmt.Errorf("fake: no response for %q", line)
	}
	if match.hook != nil {
		match.hook(c)
	}

	res := match.result
	if c.OnLine != nil {
		for _, l := range splitLines(res.Stdout) {
			c.OnLine(runner.Stdout, l)
		}
		for _, l := range splitLines(res.Stderr) {
			c.OnLine(runner.Stderr, l)
		}
	}
	return &res, match.err
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
