package copier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vwriter/ventoy-writer/pkg/blockdev"
	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/images"
)

// Status is the outcome of one image.
type Status string

const (
	StatusCopied  Status = "copied"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// VerifyMode selects how a finished copy is checked.
type VerifyMode string

const (
	VerifySize   VerifyMode = "size"
	VerifySHA256 VerifyMode = "sha256"
)

// Outcome records what happened to one image.
type Outcome struct {
	Image  images.Image
	Status Status
	Bytes  int64
	SHA256 string
	Err    error
}

// Report lists per-image outcomes in selection order.
type Report struct {
	Partition string
	MountPath string
	Outcomes  []Outcome
	Duration  time.Duration
}

// Count returns how many outcomes have status s.
func (r *Report) Count(s Status) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Summary renders e.g. "2 copied, 1 failed, 0 skipped".
func (r *Report) Summary() string {
	return fmt.Sprintf("%d copied, %d failed, %d skipped", r.Count(StatusCopied), r.Count(StatusFailed), r.Count(StatusSkipped))
}

// Progress is reported after every chunk.
type Progress struct {
	Image      string
	Index      int
	Count      int
	Written    int64
	Size       int64
	TotalDone  int64
	TotalBytes int64
}

// Percent returns overall progress in [0,100].
func (p Progress) Percent() int {
	if p.TotalBytes <= 0 {
		return 100
	}
	return int(p.TotalDone * 100 / p.TotalBytes)
}

// Options tune a write.
type Options struct {
	Filesystem      string
	Verify          VerifyMode
	ContinueOnError bool
	ChunkSize       int
	Timeout         time.Duration
}

// Writer mounts a partition, copies a selection onto it and unmounts.
type Writer struct {
	Mounter blockdev.Mounter
	Options Options
}

// NewWriter creates a writer.
func NewWriter(m blockdev.Mounter, opts Options) *Writer {
	if opts.Verify == "" {
		opts.Verify = VerifySize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Writer{Mounter: m, Options: opts}
}

// WriteAll copies sel onto partition. The returned Report is never nil and
// carries an outcome for every image; the error is the first failure.
// The partition is unmounted before WriteAll returns, also when ctx is
// cancelled.
func (w *Writer) WriteAll(ctx context.Context, partition string, sel images.Selection, progress func(Progress), logf func(string)) (report *Report, err error) {
	start := time.Now()
	report = &Report{Partition: partition}
	for _, img := range sel {
		report.Outcomes = append(report.Outcomes, Outcome{Image: img, Status: StatusSkipped})
	}
	if logf == nil {
		logf = func(string) {}
	}

	if w.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Options.Timeout)
		defer cancel()
	}

	slog.Info("write_start", "partition", partition, "images", len(sel), "total", humanize.IBytes(uint64(sel.TotalSize())))
	logf(fmt.Sprintf("Mounting %s", partition))

	// mount(8) is not killed on cancel, so a mount that completes is
	// always known and unmounted.
	mountCtx := context.WithoutCancel(ctx)
	if w.Options.Timeout > 0 {
		var cancel context.CancelFunc
		mountCtx, cancel = context.WithTimeout(mountCtx, w.Options.Timeout)
		defer cancel()
	}
	mountPath, err := w.Mounter.Mount(mountCtx, partition, w.Options.Filesystem)
	if err != nil {
		if ctx.Err() != nil {
			return report, cancelledMount(ctx, err, partition)
		}
		return report, errors.Classify(errors.KindMount, err, "failed to mount "+partition)
	}
	report.MountPath = mountPath

	defer func() {
		uerr := w.Mounter.Unmount(context.WithoutCancel(ctx), mountPath)
		if uerr != nil {
			slog.Error("write_unmount_failed", "mount_path", mountPath, "error", uerr)
			logf("Failed to unmount " + mountPath)
			if err == nil {
				err = errors.Classify(errors.KindMount, uerr, "failed to unmount "+mountPath)
			}
		} else {
			logf("Unmounted " + partition)
		}
		report.Duration = time.Since(start)
		slog.Info("write_complete", "partition", partition, "summary", report.Summary(), "duration", report.Duration)
	}()

	if ctx.Err() != nil {
		return report, cancelledMount(ctx, ctx.Err(), partition)
	}

	if free, ferr := w.Mounter.FreeSpace(ctx, mountPath); ferr != nil {
		slog.Warn("free_space_unknown", "mount_path", mountPath, "error", ferr)
	} else if need := uint64(sel.TotalSize()); need > free {
		return report, errors.Newf(errors.KindCopy, "not enough space on %s: need %s, have %s",
			partition, humanize.IBytes(need), humanize.IBytes(free))
	}

	var done int64
	total := sel.TotalSize()
	for i, img := range sel {
		if err != nil && !w.Options.ContinueOnError {
			break
		}

		dst := filepath.Join(mountPath, img.Name)
		logf(fmt.Sprintf("Copying %s (%d/%d)", img.Name, i+1, len(sel)))
		slog.Info("image_copy_start", "image", img.Path, "dest", dst, "size", humanize.IBytes(uint64(img.Size)))

		base := done
		written, sum, cerr := CopyFile(ctx, img.Path, dst, w.Options.ChunkSize, w.Options.Verify == VerifySHA256, func(n int64) {
			if progress != nil {
				progress(Progress{
					Image: img.Name, Index: i, Count: len(sel),
					Written: n, Size: img.Size,
					TotalDone: base + n, TotalBytes: total,
				})
			}
		})
		done += img.Size

		if cerr == nil {
			cerr = w.verify(ctx, img, dst, written, sum)
		}

		out := &report.Outcomes[i]
		out.Bytes = written
		out.SHA256 = sum

		if cerr != nil {
			cerr = classifyCopy(ctx, cerr, img)
			out.Status = StatusFailed
			out.Err = cerr
			slog.Error("image_copy_failed", "image", img.Path, "error", cerr)
			logf(fmt.Sprintf("Failed to copy %s: %v", img.Name, cerr))
			if err == nil {
				err = cerr
			}
			if errors.IsKind(cerr, errors.KindCancellation) || ctx.Err() != nil {
				break
			}
			continue
		}

		out.Status = StatusCopied
		slog.Info("image_copy_complete", "image", img.Path, "bytes", written)
		logf(fmt.Sprintf("Copied %s", img.Name))
	}

	return report, err
}

func (w *Writer) verify(ctx context.Context, img images.Image, dst string, written int64, sum string) error {
	fi, err := os.Stat(dst)
	if err != nil {
		return errors.Classify(errors.KindVerification, err, "copied file missing")
	}
	if fi.Size() != img.Size || written != img.Size {
		os.Remove(dst)
		return errors.Newf(errors.KindVerification, "size mismatch for %s: source %d, copy %d", img.Name, img.Size, fi.Size())
	}
	if w.Options.Verify != VerifySHA256 {
		return nil
	}

	got, err := FileSHA256(ctx, dst)
	if err != nil {
		return errors.Classify(errors.KindVerification, err, "failed to read back "+img.Name)
	}
	if got != sum {
		os.Remove(dst)
		return errors.Newf(errors.KindVerification, "checksum mismatch for %s", img.Name)
	}
	return nil
}

func cancelledMount(ctx context.Context, err error, partition string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &errors.Error{Kind: errors.KindMount, Msg: "mount timed out for " + partition, Recoverable: true, Err: err}
	}
	return &errors.Error{Kind: errors.KindCancellation, Msg: "write cancelled while mounting " + partition, Recoverable: true, Err: err}
}

func classifyCopy(ctx context.Context, err error, img images.Image) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return &errors.Error{Kind: errors.KindCancellation, Msg: "write cancelled during " + img.Name, Recoverable: true, Err: err}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &errors.Error{Kind: errors.KindCopy, Msg: "copy timed out during " + img.Name, Recoverable: true, Err: err}
	}
	return errors.Classify(errors.KindCopy, err, "failed to copy "+img.Name)
}
