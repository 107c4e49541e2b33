package ventoy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/runner"
)

// DefaultInstallTimeout bounds a single Ventoy2Disk.sh run.
const DefaultInstallTimeout = 30 * time.Minute

// Installer runs Ventoy2Disk.sh against a device.
type Installer struct {
	// Runner should be escalated; Ventoy2Disk.sh needs root.
	Runner  runner.Runner
	Timeout time.Duration
	// Confirm is fed to the script's stdin.
	Confirm string
}

// NewInstaller creates an installer using r for execution.
func NewInstaller(r runner.Runner, timeout time.Duration) *Installer {
	if timeout <= 0 {
		timeout = DefaultInstallTimeout
	}
	return &Installer{Runner: r, Timeout: timeout, Confirm: AutoConfirm}
}

// Install runs the bundle's installer script in install mode on device.
//
// A ctx already cancelled when Install is called aborts with a
// CancellationError before anything runs. Once the script has started,
// cancellation of ctx no longer stops it and only the timeout ends the run
// early.
func (i *Installer) Install(ctx context.Context, b *Bundle, device string, onLine func(string)) error {
	if err := ctx.Err(); err != nil {
		return errors.Classify(errors.KindCancellation, err, "installation cancelled before start")
	}

	script := b.Script
	if script == "" {
		script = filepath.Join(b.Dir, ScriptName)
	}
	fi, err := os.Stat(script)
	if err != nil || !fi.Mode().IsRegular() {
		slog.Error("ventoy_script_missing", "script", script)
		return errors.Newf(errors.KindInstallation, "%s not found in %s", ScriptName, b.Dir)
	}
	if err := os.Chmod(script, 0755); err != nil {
		return errors.Classify(errors.KindInstallation, err, "failed to make installer executable")
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.Timeout)
	defer cancel()

	slog.Info("ventoy_install_start", "device", device, "script", script, "timeout", i.Timeout)

	res, err := i.Runner.Run(runCtx, runner.Command{
		Name:  "bash",
		Args:  []string{script, "-i", device},
		Dir:   filepath.Dir(script),
		Stdin: strings.NewReader(i.Confirm),
		OnLine: func(stream runner.Stream, line string) {
			if onLine == nil {
				return
			}
			if stream == runner.Stderr {
				line = "Error: " + line
			}
			onLine(line)
		},
	})

	if runCtx.Err() == context.DeadlineExceeded {
		slog.Error("ventoy_install_timeout", "device", device, "timeout", i.Timeout)
		return errors.Newf(errors.KindInstallation, "installer timed out after %s", i.Timeout).WithOutput(res.Output())
	}
	if err != nil {
		code := -1
		if res != nil {
			code = res.ExitCode
		}
		slog.Error("ventoy_install_failed", "device", device, "exit_code", code, "error", err)
		return (&errors.Error{
			Kind:        errors.KindInstallation,
			Msg:         ExitMessage(code),
			Recoverable: true,
			Err:         err,
		}).WithOutput(res.Output())
	}

	slog.Info("ventoy_install_complete", "device", device)
	return nil
}

// ExitMessage describes an installer exit code.
func ExitMessage(code int) string {
	switch code {
	case 0:
		return "installation completed"
	case runner.ExitAuthDismissed:
		return "authorization dialog was dismissed (exit 126)"
	case runner.ExitAuthDenied:
		return "not authorized to run the installer (exit 127)"
	case -1:
		return "installer could not be started"
	default:
		return fmt.Sprintf("installer failed with exit code %d", code)
	}
}
