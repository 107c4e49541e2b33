package blockdev

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Status is what the workflow knows about a device's Ventoy state.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusBare    Status = "bare"
	StatusVentoy  Status = "ventoy-installed"
	StatusBusy    Status = "busy"
)

// Partition is one partition of a scanned device.
type Partition struct {
	Path       string
	Name       string
	Size       uint64
	FSType     string
	Label      string
	Mountpoint string
}

// Device is a candidate USB disk. Devices are re-derived on every scan and
// never persisted.
type Device struct {
	Path        string
	Name        string
	Size        uint64
	Model       string
	Vendor      string
	Transport   string
	Removable   bool
	Mountpoints []string
	Partitions  []Partition
	Status      Status
}

// DisplayName renders a one-line label for pickers and logs.
func (d Device) DisplayName() string {
	label := d.Model
	if d.Vendor != "" && d.Model != "" {
		label = d.Vendor + " " + d.Model
	} else if label == "" {
		label = d.Vendor
	}
	if label == "" {
		label = "USB drive"
	}
	return fmt.Sprintf("%s (%s, %s)", label, d.Path, humanize.Bytes(d.Size))
}

// Mounted reports whether the disk or any partition is mounted somewhere.
func (d Device) Mounted() bool {
	if len(d.Mountpoints) > 0 {
		return true
	}
	for _, p := range d.Partitions {
		if p.Mountpoint != "" {
			return true
		}
	}
	return false
}

// Lister enumerates candidate devices.
type Lister interface {
	List(ctx context.Context) ([]Device, error)
}

// Prober inspects one device for an existing Ventoy layout.
type Prober interface {
	Probe(ctx context.Context, devicePath string) (*ProbeResult, error)
}

// Mounter mounts and releases partitions.
type Mounter interface {
	// Mount mounts partition and returns the directory it was mounted on
	Mount(ctx context.Context, partition, fstype string) (string, error)

	// Unmount unmounts mountPath and removes the directory
	Unmount(ctx context.Context, mountPath string) error

	// IsMounted reports whether mountPath appears in the mount table
	IsMounted(ctx context.Context, mountPath string) (bool, error)

	// FreeSpace returns the bytes available under mountPath
	FreeSpace(ctx context.Context, mountPath string) (uint64, error)
}
