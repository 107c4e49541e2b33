package blockdev

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/vwriter/ventoy-writer/pkg/errors"
)

// MountTable answers mount questions from the OS mount table.
type MountTable struct{}

// IsMounted reports whether mountPath is an active mount point.
func (MountTable) IsMounted(ctx context.Context, mountPath string) (bool, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return false, errors.Wrap(err, "failed to read mount table")
	}
	clean := filepath.Clean(mountPath)
	for _, p := range parts {
		if filepath.Clean(p.Mountpoint) == clean {
			return true, nil
		}
	}
	return false, nil
}

// FreeSpace returns the free bytes of the filesystem mounted at mountPath.
func (MountTable) FreeSpace(ctx context.Context, mountPath string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, mountPath)
	if err != nil {
		return 0, errors.Wrap(err, "failed to stat filesystem")
	}
	return usage.Free, nil
}

// MountsUnder lists active mount points below root, used to find mounts a
// crashed run left behind.
func (MountTable) MountsUnder(ctx context.Context, root string) ([]string, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read mount table")
	}
	prefix := filepath.Clean(root) + string(filepath.Separator)
	var mounts []string
	for _, p := range parts {
		if strings.HasPrefix(filepath.Clean(p.Mountpoint)+string(filepath.Separator), prefix) &&
			filepath.Clean(p.Mountpoint) != filepath.Clean(root) {
			mounts = append(mounts, p.Mountpoint)
		}
	}
	return mounts, nil
}
