package blockdev

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/runner"
)

// rawTree is the top level of `lsblk --json`. Rows are kept raw so one bad
// row does not sink the whole scan.
type rawTree struct {
	BlockDevices []json.RawMessage `json:"blockdevices"`
}

// rawDevice tolerates both the typed JSON of recent util-linux and the
// all-strings output of older releases.
type rawDevice struct {
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	Size       json.RawMessage   `json:"size"`
	Type       string            `json:"type"`
	Tran       *string           `json:"tran"`
	RM         json.RawMessage   `json:"rm"`
	Hotplug    json.RawMessage   `json:"hotplug"`
	Model      *string           `json:"model"`
	Vendor     *string           `json:"vendor"`
	Label      *string           `json:"label"`
	FSType     *string           `json:"fstype"`
	Mountpoint *string           `json:"mountpoint"`
	Children   []json.RawMessage `json:"children"`
}

// ParseLsblk turns `lsblk --json --bytes` output into disks with their
// partitions. Output that is not JSON at all is an error; individual rows
// that are malformed are skipped.
func ParseLsblk(data []byte) ([]Device, error) {
	var tree rawTree
	if err := json.Unmarshal(bytes.TrimSpace(data), &tree); err != nil {
		return nil, errors.Wrap(err, "unparsable lsblk output")
	}

	var devices []Device
	for i, row := range tree.BlockDevices {
		var raw rawDevice
		if err := json.Unmarshal(row, &raw); err != nil {
			slog.Warn("lsblk_row_skipped", "row", i, "error", err)
			continue
		}
		if raw.Type != "disk" {
			continue
		}
		dev, ok := toDevice(raw)
		if !ok {
			slog.Warn("lsblk_row_skipped", "row", i, "name", raw.Name, "reason", "missing_fields")
			continue
		}
		devices = append(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Path < devices[j].Path
	})
	return devices, nil
}

func toDevice(raw rawDevice) (Device, bool) {
	path := devicePath(raw)
	if path == "" {
		return Device{}, false
	}
	size, ok := parseSize(raw.Size)
	if !ok {
		return Device{}, false
	}

	dev := Device{
		Path:      path,
		Name:      raw.Name,
		Size:      size,
		Model:     strings.TrimSpace(str(raw.Model)),
		Vendor:    strings.TrimSpace(str(raw.Vendor)),
		Transport: str(raw.Tran),
		Removable: parseFlag(raw.RM) || parseFlag(raw.Hotplug),
		Status:    StatusUnknown,
	}
	if mp := str(raw.Mountpoint); mp != "" {
		dev.Mountpoints = append(dev.Mountpoints, mp)
	}

	for _, childRow := range raw.Children {
		var child rawDevice
		if err := json.Unmarshal(childRow, &child); err != nil {
			slog.Warn("lsblk_partition_skipped", "device", path, "error", err)
			continue
		}
		if child.Type != "part" {
			continue
		}
		partPath := devicePath(child)
		partSize, ok := parseSize(child.Size)
		if partPath == "" || !ok {
			slog.Warn("lsblk_partition_skipped", "device", path, "name", child.Name, "reason", "missing_fields")
			continue
		}
		dev.Partitions = append(dev.Partitions, Partition{
			Path:       partPath,
			Name:       child.Name,
			Size:       partSize,
			FSType:     str(child.FSType),
			Label:      str(child.Label),
			Mountpoint: str(child.Mountpoint),
		})
	}
	return dev, true
}

func devicePath(raw rawDevice) string {
	if raw.Path != "" {
		return raw.Path
	}
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return ""
	}
	return "/dev/" + name
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseSize accepts a JSON number or a quoted decimal string.
func parseSize(raw json.RawMessage) (uint64, bool) {
	v := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if v == "" || v == "null" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseFlag accepts true/false and the "1"/"0" strings older lsblk emits.
func parseFlag(raw json.RawMessage) bool {
	v := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	return v == "true" || v == "1"
}

// IsCandidate reports whether a disk looks like removable USB media.
func IsCandidate(d Device) bool {
	if d.Size < MinDeviceSize {
		return false
	}
	return d.Transport == "usb" || d.Removable
}

// LsblkLister lists USB disks by running lsblk.
type LsblkLister struct {
	Runner runner.Runner
	Binary string
}

// NewLsblkLister creates a lister using the lsblk found on PATH.
func NewLsblkLister(r runner.Runner) *LsblkLister {
	return &LsblkLister{Runner: r, Binary: DefaultLsblk}
}

func (l *LsblkLister) List(ctx context.Context) ([]Device, error) {
	all, err := l.query(ctx)
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, d := range all {
		if IsCandidate(d) {
			devices = append(devices, d)
		}
	}
	slog.Info("lsblk_scan_complete", "disks", len(all), "candidates", len(devices))
	return devices, nil
}

// Describe returns the lsblk view of a single device, including partitions.
func (l *LsblkLister) Describe(ctx context.Context, devicePath string) (*Device, error) {
	devices, err := l.query(ctx, devicePath)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Path == devicePath {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("device %s not reported by lsblk", devicePath)
}

func (l *LsblkLister) query(ctx context.Context, targets ...string) ([]Device, error) {
	args := append([]string{"--json", "--bytes", "--output", lsblkColumns}, targets...)
	res, err := l.Runner.Run(ctx, runner.Command{Name: l.Binary, Args: args})
	if err != nil {
		return nil, errors.Classify(errors.KindDetection, err, "lsblk failed").WithOutput(res.Output())
	}

	devices, err := ParseLsblk([]byte(res.Stdout))
	if err != nil {
		return nil, errors.Classify(errors.KindDetection, err, "lsblk returned unparsable output").WithOutput(res.Output())
	}
	return devices, nil
}
