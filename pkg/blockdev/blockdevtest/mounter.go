// Package blockdevtest provides an in-memory blockdev.Mounter for tests.
package blockdevtest

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/vwriter/ventoy-writer/pkg/blockdev"
)

var _ blockdev.Mounter = (*FakeMounter)(nil)

// FakeMounter mounts by creating directories under BaseDir. Unmounting
// forgets the mount but keeps the directory, so tests can inspect what was
// written to the "device".
type FakeMounter struct {
	BaseDir string
	// Free is reported by FreeSpace; zero means unlimited.
	Free       uint64
	MountErr   error
	UnmountErr error
	// OnMount runs before a mount succeeds, e.g. to block until ctx is done.
	OnMount func(ctx context.Context)

	mu       sync.Mutex
	active   map[string]string
	Mounts   int
	Unmounts int
}

func (m *FakeMounter) Mount(ctx context.Context, partition, fstype string) (string, error) {
	if m.OnMount != nil {
		m.OnMount(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Mounts++
	if m.MountErr != nil {
		return "", m.MountErr
	}
	dir, err := os.MkdirTemp(m.BaseDir, "ventoy-")
	if err != nil {
		return "", err
	}
	if m.active == nil {
		m.active = make(map[string]string)
	}
	m.active[dir] = partition
	return dir, nil
}

func (m *FakeMounter) Unmount(ctx context.Context, mountPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unmounts++
	if m.UnmountErr != nil {
		return m.UnmountErr
	}
	delete(m.active, mountPath)
	return nil
}

func (m *FakeMounter) IsMounted(ctx context.Context, mountPath string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[mountPath]
	return ok, nil
}

func (m *FakeMounter) FreeSpace(ctx context.Context, mountPath string) (uint64, error) {
	if m.Free == 0 {
		return ^uint64(0), nil
	}
	return m.Free, nil
}

// Active returns the mount points not yet unmounted.
func (m *FakeMounter) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.active {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
