//go:build !linux
// +build !linux

package blockdev

import (
	"context"
	"fmt"
	"runtime"

	"github.com/vwriter/ventoy-writer/pkg/runner"
)

// StubMounter refuses to mount on platforms without mount(8) semantics.
type StubMounter struct {
	MountTable
}

// NewMounter creates a stub mounter on non-Linux systems
func NewMounter(r runner.Runner, baseDir string) (Mounter, error) {
	return &StubMounter{}, nil
}

func (m *StubMounter) Mount(ctx context.Context, partition, fstype string) (string, error) {
	return "", fmt.Errorf("mounting not supported on %s", runtime.GOOS)
}

func (m *StubMounter) Unmount(ctx context.Context, mountPath string) error {
	return fmt.Errorf("mounting not supported on %s", runtime.GOOS)
}
