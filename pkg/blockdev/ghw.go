package blockdev

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/block"

	"github.com/vwriter/ventoy-writer/pkg/errors"
)

// GHWLister enumerates disks from sysfs when lsblk is not available.
type GHWLister struct{}

func (GHWLister) List(ctx context.Context) ([]Device, error) {
	info, err := block.New(ghw.WithDisableTools())
	if err != nil {
		slog.Error("ghw_block_failed", "error", err)
		return nil, errors.Classify(errors.KindDetection, err, "block device enumeration failed")
	}

	var devices []Device
	for _, d := range info.Disks {
		if d == nil || d.Name == "" {
			continue
		}
		usb := strings.Contains(d.BusPath, "usb")
		dev := Device{
			Path:      filepath.Join("/dev", d.Name),
			Name:      d.Name,
			Size:      d.SizeBytes,
			Model:     cleanGHW(d.Model),
			Vendor:    cleanGHW(d.Vendor),
			Removable: d.IsRemovable,
			Status:    StatusUnknown,
		}
		if usb {
			dev.Transport = "usb"
		}
		for _, p := range d.Partitions {
			if p == nil {
				continue
			}
			dev.Partitions = append(dev.Partitions, Partition{
				Path:       filepath.Join("/dev", p.Name),
				Name:       p.Name,
				Size:       p.SizeBytes,
				FSType:     cleanGHW(p.Type),
				Label:      cleanGHW(p.Label),
				Mountpoint: p.MountPoint,
			})
		}
		if IsCandidate(dev) {
			devices = append(devices, dev)
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Path < devices[j].Path
	})
	slog.Info("ghw_scan_complete", "candidates", len(devices))
	return devices, nil
}

// ghw reports missing values as "unknown".
func cleanGHW(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "unknown") {
		return ""
	}
	return s
}

// FallbackLister tries Primary and falls back to Secondary when Primary
// cannot enumerate at all.
type FallbackLister struct {
	Primary   Lister
	Secondary Lister
}

func (f *FallbackLister) List(ctx context.Context) ([]Device, error) {
	devices, err := f.Primary.List(ctx)
	if err == nil || f.Secondary == nil {
		return devices, err
	}

	slog.Warn("device_lister_fallback", "error", err)
	fallback, ferr := f.Secondary.List(ctx)
	if ferr != nil {
		slog.Error("device_lister_fallback_failed", "error", ferr)
		return nil, err
	}
	return fallback, nil
}
