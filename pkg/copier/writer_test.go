package copier

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vwriter/ventoy-writer/pkg/blockdev/blockdevtest"
	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/images"
)

func makeSelection(t *testing.T, sizes map[string]int, order ...string) images.Selection {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, name := range order {
		p := filepath.Join(dir, name)
		data := bytes.Repeat([]byte{byte(len(name))}, sizes[name])
		if err := os.WriteFile(p, data, 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	sel, err := images.Validator{}.Select(paths)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	return sel
}

func TestWriteAll_CopiesAndUnmounts(t *testing.T) {
	sel := makeSelection(t, map[string]int{"a.iso": 3000, "b.iso": 5000}, "a.iso", "b.iso")
	m := &blockdevtest.FakeMounter{BaseDir: t.TempDir()}
	w := NewWriter(m, Options{ChunkSize: 1024, Verify: VerifySHA256})

	var last Progress
	var calls int
	report, err := w.WriteAll(context.Background(), "/dev/sdb1", sel, func(p Progress) {
		calls++
		last = p
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Count(StatusCopied) != 2 {
		t.Errorf("expected 2 copied, got %s", report.Summary())
	}
	if last.Percent() != 100 || last.TotalDone != 8000 {
		t.Errorf("unexpected final progress: %+v", last)
	}
	if calls < 8 {
		t.Errorf("expected progress per chunk, got %d calls", calls)
	}
	for _, o := range report.Outcomes {
		if o.SHA256 == "" {
			t.Errorf("sha256 not recorded for %s", o.Image.Name)
		}
		if _, err := os.Stat(filepath.Join(report.MountPath, o.Image.Name)); err != nil {
			t.Errorf("%s missing on device: %v", o.Image.Name, err)
		}
	}
	if len(m.Active()) != 0 {
		t.Errorf("partition left mounted: %v", m.Active())
	}
}

func TestWriteAll_MiddleFailure(t *testing.T) {
	tests := []struct {
		name            string
		continueOnError bool
		expected        []Status
	}{
		{"stop after failure", false, []Status{StatusCopied, StatusFailed, StatusSkipped}},
		{"continue on error", true, []Status{StatusCopied, StatusFailed, StatusCopied}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := makeSelection(t, map[string]int{"a.iso": 100, "b.iso": 100, "c.iso": 100}, "a.iso", "b.iso", "c.iso")
			// B vanishes after validation
			if err := os.Remove(sel[1].Path); err != nil {
				t.Fatal(err)
			}

			m := &blockdevtest.FakeMounter{BaseDir: t.TempDir()}
			w := NewWriter(m, Options{ContinueOnError: tt.continueOnError})
			report, err := w.WriteAll(context.Background(), "/dev/sdb1", sel, nil, nil)

			if !errors.IsKind(err, errors.KindCopy) {
				t.Fatalf("expected CopyError, got %v", err)
			}
			for i, o := range report.Outcomes {
				if o.Status != tt.expected[i] {
					t.Errorf("image %d: status %s, expected %s", i, o.Status, tt.expected[i])
				}
			}
			if _, err := os.Stat(filepath.Join(report.MountPath, "a.iso")); err != nil {
				t.Error("A should remain on the device")
			}
			if _, err := os.Stat(filepath.Join(report.MountPath, "b.iso")); !os.IsNotExist(err) {
				t.Error("no partial B should remain")
			}
			if m.Unmounts != 1 || len(m.Active()) != 0 {
				t.Errorf("expected exactly one unmount, got %d (active %v)", m.Unmounts, m.Active())
			}
		})
	}
}

func TestWriteAll_MountFailure(t *testing.T) {
	sel := makeSelection(t, map[string]int{"a.iso": 10}, "a.iso")
	m := &blockdevtest.FakeMounter{BaseDir: t.TempDir(), MountErr: fmt.Errorf("wrong fs type")}

	report, err := NewWriter(m, Options{}).WriteAll(context.Background(), "/dev/sdb1", sel, nil, nil)
	if !errors.IsKind(err, errors.KindMount) {
		t.Fatalf("expected MountError, got %v", err)
	}
	if report.Count(StatusSkipped) != 1 || m.Unmounts != 0 {
		t.Errorf("unexpected report %s, unmounts %d", report.Summary(), m.Unmounts)
	}
}

func TestWriteAll_UnmountFailureSurfaces(t *testing.T) {
	sel := makeSelection(t, map[string]int{"a.iso": 10}, "a.iso")
	m := &blockdevtest.FakeMounter{BaseDir: t.TempDir(), UnmountErr: fmt.Errorf("target is busy")}

	report, err := NewWriter(m, Options{}).WriteAll(context.Background(), "/dev/sdb1", sel, nil, nil)
	if !errors.IsKind(err, errors.KindMount) {
		t.Fatalf("expected MountError from unmount, got %v", err)
	}
	if report.Count(StatusCopied) != 1 {
		t.Errorf("copy itself succeeded, got %s", report.Summary())
	}
}

func TestWriteAll_InsufficientSpace(t *testing.T) {
	sel := makeSelection(t, map[string]int{"a.iso": 2048}, "a.iso")
	m := &blockdevtest.FakeMounter{BaseDir: t.TempDir(), Free: 1024}

	report, err := NewWriter(m, Options{}).WriteAll(context.Background(), "/dev/sdb1", sel, nil, nil)
	if !errors.IsKind(err, errors.KindCopy) {
		t.Fatalf("expected CopyError, got %v", err)
	}
	if report.Count(StatusSkipped) != 1 || len(m.Active()) != 0 {
		t.Errorf("expected skipped image and clean unmount, got %s", report.Summary())
	}
}

func TestWriteAll_CancelBetweenChunks(t *testing.T) {
	sel := makeSelection(t, map[string]int{"a.iso": 10 * 1024, "b.iso": 100}, "a.iso", "b.iso")
	m := &blockdevtest.FakeMounter{BaseDir: t.TempDir()}
	w := NewWriter(m, Options{ChunkSize: 1024, ContinueOnError: true})

	ctx, cancel := context.WithCancel(context.Background())
	report, err := w.WriteAll(ctx, "/dev/sdb1", sel, func(p Progress) {
		if p.Written >= 2048 {
			cancel()
		}
	}, nil)

	if !errors.IsKind(err, errors.KindCancellation) {
		t.Fatalf("expected CancellationError, got %v", err)
	}
	if report.Outcomes[0].Status != StatusFailed || report.Outcomes[1].Status != StatusSkipped {
		t.Errorf("unexpected report: %s", report.Summary())
	}
	if _, err := os.Stat(filepath.Join(report.MountPath, "a.iso")); !os.IsNotExist(err) {
		t.Error("partial file should be removed after cancellation")
	}
	if len(m.Active()) != 0 {
		t.Error("partition should be unmounted after cancellation")
	}
}

func TestWriteAll_CancelDuringMount(t *testing.T) {
	sel := makeSelection(t, map[string]int{"a.iso": 100}, "a.iso")
	ctx, cancel := context.WithCancel(context.Background())

	var mountCtxErr error
	m := &blockdevtest.FakeMounter{BaseDir: t.TempDir(), OnMount: func(mctx context.Context) {
		// the cancel lands while mount(8) is still running
		cancel()
		mountCtxErr = mctx.Err()
	}}

	report, err := NewWriter(m, Options{Timeout: time.Minute}).WriteAll(ctx, "/dev/sdb1", sel, nil, nil)
	if !errors.IsKind(err, errors.KindCancellation) {
		t.Fatalf("expected CancellationError, got %v", err)
	}
	if mountCtxErr != nil {
		t.Errorf("mount should not see the cancel, got %v", mountCtxErr)
	}
	if m.Mounts != 1 || m.Unmounts != 1 || len(m.Active()) != 0 {
		t.Errorf("completed mount should be unmounted: mounts %d, unmounts %d, active %v", m.Mounts, m.Unmounts, m.Active())
	}
	if report.Count(StatusSkipped) != 1 {
		t.Errorf("expected the image skipped, got %s", report.Summary())
	}
}

func TestWriteAll_MountFailureAfterCancel(t *testing.T) {
	sel := makeSelection(t, map[string]int{"a.iso": 100}, "a.iso")
	ctx, cancel := context.WithCancel(context.Background())

	m := &blockdevtest.FakeMounter{BaseDir: t.TempDir(), MountErr: fmt.Errorf("authorization dismissed"),
		OnMount: func(context.Context) { cancel() }}

	_, err := NewWriter(m, Options{}).WriteAll(ctx, "/dev/sdb1", sel, nil, nil)
	if !errors.IsKind(err, errors.KindCancellation) {
		t.Fatalf("expected CancellationError, got %v", err)
	}
}

func TestCopyFile_Hash(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	os.WriteFile(src, []byte("hello"), 0644)

	n, sum, err := CopyFile(context.Background(), src, filepath.Join(dir, "dst"), 2, true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// sha256("hello")
	if n != 5 || sum != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("unexpected result %d %s", n, sum)
	}

	readBack, err := FileSHA256(context.Background(), filepath.Join(dir, "dst"))
	if err != nil || readBack != sum {
		t.Errorf("FileSHA256 = %s, %v", readBack, err)
	}
}
