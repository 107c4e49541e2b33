//go:build linux
// +build linux

package blockdev

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/runner"
	"github.com/vwriter/ventoy-writer/pkg/runner/runnertest"
)

func TestLinuxMounter_MountAndUnmount(t *testing.T) {
	fake := (&runnertest.Fake{}).
		On("mount", runner.Result{}, nil).
		On("umount", runner.Result{}, nil)

	m, err := NewMounter(fake, t.TempDir())
	if err != nil {
		t.Fatalf("NewMounter failed: %v", err)
	}

	path, err := m.Mount(context.Background(), "/dev/sdb1", "")
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("mount point not created: %v", err)
	}

	call := fake.Calls[0].String()
	expectedOpts := fmt.Sprintf("-o uid=%d,gid=%d,umask=0022", os.Getuid(), os.Getgid())
	if !strings.Contains(call, "-t exfat") || !strings.Contains(call, expectedOpts) || !strings.HasSuffix(call, "/dev/sdb1 "+path) {
		t.Errorf("unexpected mount command: %s", call)
	}

	if err := m.Unmount(context.Background(), path); err != nil {
		t.Fatalf("Unmount failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("mount point should be removed after unmount")
	}
}

func TestLinuxMounter_MountFailure(t *testing.T) {
	base := t.TempDir()
	fake := (&runnertest.Fake{}).On("mount", runner.Result{ExitCode: 32, Stderr: "mount: unknown filesystem type 'exfat'"}, fmt.Errorf("exit status 32"))

	m, err := NewMounter(fake, base)
	if err != nil {
		t.Fatalf("NewMounter failed: %v", err)
	}

	_, err = m.Mount(context.Background(), "/dev/sdb1", "exfat")
	if !errors.IsKind(err, errors.KindMount) {
		t.Fatalf("expected MountError, got %v", err)
	}
	var e *errors.Error
	if errors.As(err, &e) && !strings.Contains(e.Output, "unknown filesystem") {
		t.Errorf("mount output not attached: %q", e.Output)
	}

	entries, _ := os.ReadDir(base)
	if len(entries) != 0 {
		t.Errorf("failed mount should not leave directories behind, found %d", len(entries))
	}
}
