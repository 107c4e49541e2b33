//go:build linux
// +build linux

package blockdev

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/runner"
)

// LinuxMounter mounts partitions with mount(8) through an escalated runner.
type LinuxMounter struct {
	MountTable

	runner  runner.Runner
	baseDir string
	uid     int
	gid     int
}

// NewMounter creates a Linux mounter whose mount points live under baseDir.
func NewMounter(r runner.Runner, baseDir string) (Mounter, error) {
	slog.Info("mounter_init", "base_dir", baseDir, "platform", "linux")

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create mount base dir")
	}
	return &LinuxMounter{
		runner:  r,
		baseDir: baseDir,
		uid:     os.Getuid(),
		gid:     os.Getgid(),
	}, nil
}

func (m *LinuxMounter) Mount(ctx context.Context, partition, fstype string) (string, error) {
	if fstype == "" {
		fstype = DefaultFilesystem
	}

	mountPath, err := os.MkdirTemp(m.baseDir, "ventoy-")
	if err != nil {
		return "", errors.Classify(errors.KindMount, err, "failed to create mount point")
	}

	slog.Info("mount_partition", "partition", partition, "mount_path", mountPath, "fstype", fstype)

	// uid/gid make the exFAT tree writable by the invoking user.
	opts := fmt.Sprintf("uid=%d,gid=%d,umask=0022", m.uid, m.gid)
	res, err := m.runner.Run(ctx, runner.Command{
		Name: "mount",
		Args: []string{"-t", fstype, "-o", opts, partition, mountPath},
	})
	if err != nil {
		slog.Error("mount_failed", "partition", partition, "mount_path", mountPath, "error", err)
		os.Remove(mountPath)
		return "", errors.Classify(errors.KindMount, err, "failed to mount "+partition).WithOutput(res.Output())
	}

	slog.Info("mount_complete", "mount_path", mountPath)
	return mountPath, nil
}

func (m *LinuxMounter) Unmount(ctx context.Context, mountPath string) error {
	slog.Info("unmount_partition", "mount_path", mountPath)

	res, err := m.runner.Run(ctx, runner.Command{Name: "umount", Args: []string{mountPath}})
	if err != nil {
		slog.Error("unmount_failed", "mount_path", mountPath, "error", err)
		return errors.Classify(errors.KindMount, err, "failed to unmount "+mountPath).WithOutput(res.Output())
	}

	if err := os.Remove(mountPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("mount_dir_remove_failed", "mount_path", mountPath, "error", err)
	}

	slog.Info("unmount_complete", "mount_path", mountPath)
	return nil
}
