package runner

import (
	"context"
	"log/slog"
	"os"
)

// pkexec exit codes for an authorization that never happened.
const (
	ExitAuthDismissed = 126
	ExitAuthDenied    = 127
)

// Escalated runs every command through a privilege-escalation wrapper such
// as pkexec. An empty Wrapper runs commands unchanged, which is what a
// process already running as root wants.
type Escalated struct {
	Runner  Runner
	Wrapper []string

	// ForwardDisplay passes DISPLAY through `env`, since pkexec scrubs the
	// environment and graphical auth agents need it.
	ForwardDisplay bool
}

// NewEscalated wraps r with the named escalation tool. "none" and "" disable
// escalation, as does running as root.
func NewEscalated(r Runner, tool string) *Escalated {
	e := &Escalated{Runner: r}
	if IsRoot() {
		if tool != "" && tool != "none" {
			slog.Info("escalation_skipped", "tool", tool, "reason", "running as root")
		}
		return e
	}
	switch tool {
	case "", "none":
	case "pkexec":
		e.Wrapper = []string{"pkexec", "--disable-internal-agent"}
		e.ForwardDisplay = true
	default:
		e.Wrapper = []string{tool}
	}
	return e
}

func (e *Escalated) Run(ctx context.Context, c Command) (*Result, error) {
	return e.Runner.Run(ctx, e.wrap(c))
}

func (e *Escalated) wrap(c Command) Command {
	if len(e.Wrapper) == 0 {
		return c
	}

	args := append([]string{}, e.Wrapper[1:]...)
	if e.ForwardDisplay {
		if display := os.Getenv("DISPLAY"); display != "" {
			args = append(args, "env", "DISPLAY="+display)
		}
	}
	args = append(args, c.Name)
	args = append(args, c.Args...)

	c.Name = e.Wrapper[0]
	c.Args = args
	return c
}

var geteuid = os.Geteuid

// IsRoot reports whether the process runs with uid 0.
func IsRoot() bool {
	return geteuid() == 0
}
