package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/vwriter/ventoy-writer/pkg/blockdev"
	"github.com/vwriter/ventoy-writer/pkg/copier"
	"github.com/vwriter/ventoy-writer/pkg/db"
	"github.com/vwriter/ventoy-writer/pkg/images"
	"github.com/vwriter/ventoy-writer/pkg/ventoy"
)

var usbStick = blockdev.Device{
	Path: "/dev/sdb", Name: "sdb", Size: 32 << 30, Model: "Ultra", Vendor: "SanDisk", Transport: "usb", Removable: true,
	Partitions: []blockdev.Partition{
		{Path: "/dev/sdb1", Name: "sdb1", Size: 31 << 30, FSType: "exfat", Label: "Ventoy"},
		{Path: "/dev/sdb2", Name: "sdb2", Size: 32 << 20, FSType: "vfat", Label: "VTOYEFI"},
	},
}

var otherStick = blockdev.Device{Path: "/dev/sdc", Name: "sdc", Size: 8 << 30, Transport: "usb", Removable: true}

type fakeLister struct {
	mu      sync.Mutex
	devices []blockdev.Device
	err     error
}

func (f *fakeLister) List(ctx context.Context) ([]blockdev.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]blockdev.Device(nil), f.devices...), nil
}

func (f *fakeLister) set(devices []blockdev.Device, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
	f.err = err
}

type fakeProber struct {
	mu        sync.Mutex
	installed map[string]bool
	err       error
}

func (f *fakeProber) Probe(ctx context.Context, device string) (*blockdev.ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if !f.installed[device] {
		return &blockdev.ProbeResult{}, nil
	}
	return blockdev.DetectVentoy(usbStick.Partitions), nil
}

func (f *fakeProber) setInstalled(device string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installed == nil {
		f.installed = make(map[string]bool)
	}
	f.installed[device] = v
}

type fakeBundles struct {
	mu      sync.Mutex
	calls   int
	gate    chan struct{}
	started chan struct{}
	err     error
}

func (f *fakeBundles) Prepare(ctx context.Context, progress ventoy.ProgressFunc) (*ventoy.Bundle, error) {
	f.mu.Lock()
	f.calls++
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if progress != nil {
		progress(10, 10)
	}
	return &ventoy.Bundle{Version: "1.1.05", Dir: "/tmp/ventoy-1.1.05", Script: "/tmp/ventoy-1.1.05/Ventoy2Disk.sh"}, nil
}

type fakeInstaller struct {
	mu      sync.Mutex
	calls   []string
	err     error
	gate    chan struct{}
	started chan struct{}
	prober  *fakeProber
}

func (f *fakeInstaller) Install(ctx context.Context, b *ventoy.Bundle, device string, onLine func(string)) error {
	f.mu.Lock()
	f.calls = append(f.calls, device)
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}
	if onLine != nil {
		onLine("Install Ventoy to " + device + " successfully finished.")
	}
	if f.err != nil {
		return f.err
	}
	if f.prober != nil {
		f.prober.setInstalled(device, true)
	}
	return nil
}

func (f *fakeInstaller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// blockingWriter waits for cancellation, standing in for a long copy.
type blockingWriter struct {
	started chan struct{}
}

func (w *blockingWriter) WriteAll(ctx context.Context, partition string, sel images.Selection, progress func(copier.Progress), logf func(string)) (*copier.Report, error) {
	close(w.started)
	<-ctx.Done()
	report := &copier.Report{Partition: partition}
	for _, img := range sel {
		report.Outcomes = append(report.Outcomes, copier.Outcome{Image: img, Status: copier.StatusSkipped})
	}
	return report, fmt.Errorf("copy interrupted: %w", ctx.Err())
}

type fakeHistory struct {
	mu      sync.Mutex
	ops     []*db.Operation
	copies  map[int64][]db.ImageCopy
	nextID  int64
	created int
}

func (h *fakeHistory) CreateOperation(ctx context.Context, op *db.Operation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	op.ID = h.nextID
	c := *op
	h.ops = append(h.ops, &c)
	h.created++
	return nil
}

func (h *fakeHistory) FinishOperation(ctx context.Context, id int64, status, errorKind, errorMessage string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, op := range h.ops {
		if op.ID == id {
			op.Status, op.ErrorKind, op.ErrorMessage = status, errorKind, errorMessage
			return nil
		}
	}
	return fmt.Errorf("operation not found: id=%d", id)
}

func (h *fakeHistory) RecordCopies(ctx context.Context, operationID int64, copies []db.ImageCopy) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.copies == nil {
		h.copies = make(map[int64][]db.ImageCopy)
	}
	h.copies[operationID] = append(h.copies[operationID], copies...)
	return nil
}

func (h *fakeHistory) last() db.Operation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.ops[len(h.ops)-1]
}
