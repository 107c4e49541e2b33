package blockdev

import (
	"context"
	"fmt"
	"testing"

	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/runner"
	"github.com/vwriter/ventoy-writer/pkg/runner/runnertest"
)

const lsblkSample = `{
  "blockdevices": [
    {"name":"nvme0n1", "path":"/dev/nvme0n1", "size":512110190592, "type":"disk", "tran":"nvme", "rm":false, "hotplug":false,
     "model":"Samsung SSD", "vendor":null, "label":null, "fstype":null, "mountpoint":null,
     "children": [
       {"name":"nvme0n1p1", "path":"/dev/nvme0n1p1", "size":536870912, "type":"part", "label":null, "fstype":"vfat", "mountpoint":"/boot/efi"}
     ]},
    {"name":"sdb", "path":"/dev/sdb", "size":31001149440, "type":"disk", "tran":"usb", "rm":true, "hotplug":true,
     "model":"Ultra           ", "vendor":"SanDisk ", "label":null, "fstype":null, "mountpoint":null,
     "children": [
       {"name":"sdb1", "path":"/dev/sdb1", "size":30967562240, "type":"part", "label":"Ventoy", "fstype":"exfat", "mountpoint":null},
       {"name":"sdb2", "path":"/dev/sdb2", "size":33554432, "type":"part", "label":"VTOYEFI", "fstype":"vfat", "mountpoint":null}
     ]},
    {"name":"sr0", "path":"/dev/sr0", "size":1073741312, "type":"rom", "tran":"sata", "rm":true},
    {"name":"sdc", "size":"not-a-number", "type":"disk", "tran":"usb"},
    {"name":"", "size":1000, "type":"disk"},
    "garbage-row"
  ]
}`

func TestParseLsblk_SkipsMalformedRows(t *testing.T) {
	devices, err := ParseLsblk([]byte(lsblkSample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(devices) != 2 {
		t.Fatalf("expected 2 disks, got %d: %+v", len(devices), devices)
	}

	usb := devices[1]
	if usb.Path != "/dev/sdb" {
		t.Fatalf("expected /dev/sdb second after sorting, got %s", usb.Path)
	}
	if usb.Model != "Ultra" || usb.Vendor != "SanDisk" {
		t.Errorf("model/vendor not trimmed: %q %q", usb.Model, usb.Vendor)
	}
	if !usb.Removable || usb.Transport != "usb" {
		t.Errorf("expected removable usb disk, got %+v", usb)
	}
	if len(usb.Partitions) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(usb.Partitions))
	}
	if usb.Partitions[0].Label != "Ventoy" || usb.Partitions[0].Size != 30967562240 {
		t.Errorf("unexpected partition: %+v", usb.Partitions[0])
	}
}

func TestParseLsblk_StringValues(t *testing.T) {
	// util-linux before 2.33 quotes every value
	old := `{"blockdevices": [
	  {"name":"sdd", "size":"8004304896", "type":"disk", "tran":"usb", "rm":"1", "model":"Flash Disk", "vendor":"Generic", "mountpoint":null,
	   "children":[{"name":"sdd1", "size":"8003256320", "type":"part", "label":"DATA", "fstype":"vfat", "mountpoint":"/media/x"}]}
	]}`

	devices, err := ParseLsblk([]byte(old))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 disk, got %d", len(devices))
	}
	d := devices[0]
	if d.Path != "/dev/sdd" || d.Size != 8004304896 || !d.Removable {
		t.Errorf("unexpected device: %+v", d)
	}
	if !d.Mounted() {
		t.Error("device with a mounted partition should report Mounted")
	}
}

func TestParseLsblk_NotJSON(t *testing.T) {
	if _, err := ParseLsblk([]byte("NAME SIZE\nsdb 32G\n")); err == nil {
		t.Error("expected error for non-JSON output")
	}
}

func TestLsblkLister_FiltersCandidates(t *testing.T) {
	fake := (&runnertest.Fake{}).On("lsblk --json --bytes", runner.Result{Stdout: lsblkSample}, nil)
	lister := NewLsblkLister(fake)

	devices, err := lister.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devices) != 1 || devices[0].Path != "/dev/sdb" {
		t.Errorf("expected only /dev/sdb, got %+v", devices)
	}
}

func TestLsblkLister_FailureIsDetectionError(t *testing.T) {
	tests := []struct {
		name   string
		result runner.Result
		err    error
	}{
		{"command failed", runner.Result{ExitCode: 1, Stderr: "lsblk: boom"}, fmt.Errorf("exit status 1")},
		{"garbage output", runner.Result{Stdout: "<html>"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := (&runnertest.Fake{}).On("lsblk", tt.result, tt.err)
			_, err := NewLsblkLister(fake).List(context.Background())
			if !errors.IsKind(err, errors.KindDetection) {
				t.Errorf("expected DetectionError, got %v", err)
			}
		})
	}
}

func TestLsblkLister_Describe(t *testing.T) {
	fake := (&runnertest.Fake{}).On("lsblk --json --bytes --output "+lsblkColumns+" /dev/sdb", runner.Result{Stdout: lsblkSample}, nil)
	lister := NewLsblkLister(fake)

	dev, err := lister.Describe(context.Background(), "/dev/sdb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dev.Partitions) != 2 {
		t.Errorf("expected partitions of /dev/sdb, got %+v", dev.Partitions)
	}

	if _, err := lister.Describe(context.Background(), "/dev/sdz"); err == nil {
		t.Error("expected error for a device lsblk did not report")
	}
}

func TestFallbackLister(t *testing.T) {
	failing := listerFunc(func(ctx context.Context) ([]Device, error) {
		return nil, errors.New(errors.KindDetection, "lsblk missing")
	})
	working := listerFunc(func(ctx context.Context) ([]Device, error) {
		return []Device{{Path: "/dev/sdb"}}, nil
	})

	f := &FallbackLister{Primary: failing, Secondary: working}
	devices, err := f.List(context.Background())
	if err != nil || len(devices) != 1 {
		t.Errorf("expected fallback result, got %v, %v", devices, err)
	}

	f = &FallbackLister{Primary: failing, Secondary: failing}
	if _, err := f.List(context.Background()); err == nil {
		t.Error("expected error when both listers fail")
	}
}

func TestFallbackLister_LsblkFailures(t *testing.T) {
	tests := []struct {
		name   string
		result runner.Result
		err    error
	}{
		{"binary missing", runner.Result{ExitCode: -1}, fmt.Errorf("exec: \"lsblk\": executable file not found in $PATH")},
		{"non-zero exit", runner.Result{ExitCode: 1, Stderr: "lsblk: unknown column"}, fmt.Errorf("exit status 1")},
		{"not lsblk JSON", runner.Result{Stdout: "NAME SIZE\nsdb 32G\n"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := (&runnertest.Fake{}).On("lsblk", tt.result, tt.err)
			f := &FallbackLister{
				Primary: NewLsblkLister(fake),
				Secondary: listerFunc(func(ctx context.Context) ([]Device, error) {
					return []Device{{Path: "/dev/sdb"}}, nil
				}),
			}
			devices, err := f.List(context.Background())
			if err != nil || len(devices) != 1 || devices[0].Path != "/dev/sdb" {
				t.Errorf("expected the sysfs listing, got %v, %v", devices, err)
			}
		})
	}
}

type listerFunc func(ctx context.Context) ([]Device, error)

func (f listerFunc) List(ctx context.Context) ([]Device, error) { return f(ctx) }
