package workflow

import (
	"context"
	"log/slog"

	"github.com/vwriter/ventoy-writer/pkg/blockdev"
	"github.com/vwriter/ventoy-writer/pkg/copier"
	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/images"
	"github.com/vwriter/ventoy-writer/pkg/ventoy"
)

// Stage names, shared with the fsm engine's state names.
const (
	StagePrepareBundle   = "prepare_bundle"
	StageRunInstaller    = "run_installer"
	StageConfirmInstall  = "confirm_install"
	StageLocatePartition = "locate_partition"
	StageCopyImages      = "copy_images"
	StageComplete        = "complete"
)

// Installer runs the Ventoy installer against a device.
type Installer interface {
	Install(ctx context.Context, b *ventoy.Bundle, device string, onLine func(string)) error
}

// ImageWriter copies a selection onto a partition.
type ImageWriter interface {
	WriteAll(ctx context.Context, partition string, sel images.Selection, progress func(copier.Progress), logf func(string)) (*copier.Report, error)
}

// Hooks let a job report back to the controller.
type Hooks struct {
	Stage    func(name string)
	Log      func(line string)
	Progress func(percent int)
}

func (h Hooks) stage(name string) {
	if h.Stage != nil {
		h.Stage(name)
	}
}

func (h Hooks) log(line string) {
	if h.Log != nil {
		h.Log(line)
	}
}

func (h Hooks) progress(p int) {
	if h.Progress != nil {
		h.Progress(p)
	}
}

// InstallJob asks for Ventoy to be installed on Device.
type InstallJob struct {
	RunID  string
	Device string
	Hooks  Hooks
}

// InstallResult is the outcome of a successful install.
type InstallResult struct {
	Bundle *ventoy.Bundle
	Probe  *blockdev.ProbeResult
}

// WriteJob asks for Images to be copied to Device's data partition.
type WriteJob struct {
	RunID  string
	Device string
	Images images.Selection
	Hooks  Hooks
}

// Executor runs install and write jobs to completion.
type Executor interface {
	Install(ctx context.Context, job InstallJob) (*InstallResult, error)
	Write(ctx context.Context, job WriteJob) (*copier.Report, error)
}

// Steps holds the collaborators of every job step. Each method is one step;
// executors decide how steps are chained.
type Steps struct {
	Bundles   ventoy.Provider
	Installer Installer
	Prober    blockdev.Prober
	Writer    ImageWriter
}

// PrepareBundle fetches or reuses the Ventoy bundle.
func (s *Steps) PrepareBundle(ctx context.Context, job InstallJob) (*ventoy.Bundle, error) {
	job.Hooks.stage(StagePrepareBundle)
	job.Hooks.log("Preparing Ventoy bundle")
	job.Hooks.progress(5)

	b, err := s.Bundles.Prepare(ctx, func(done, total int64) {
		if total > 0 {
			job.Hooks.progress(5 + int(done*50/total))
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(err, "installation cancelled while preparing the bundle")
		}
		return nil, errors.Classify(errors.KindInstallation, err, "failed to prepare Ventoy bundle")
	}
	if b.Cached {
		job.Hooks.log("Using cached Ventoy " + b.Version)
	} else {
		job.Hooks.log("Downloaded Ventoy " + b.Version)
	}
	job.Hooks.progress(60)
	return b, nil
}

// RunInstaller invokes the installer script. Cancellation is only honored
// up to the moment the script starts.
func (s *Steps) RunInstaller(ctx context.Context, job InstallJob, b *ventoy.Bundle) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err, "installation cancelled before the installer started")
	}

	job.Hooks.stage(StageRunInstaller)
	job.Hooks.log("Requesting administrator privileges to install Ventoy on " + job.Device)

	if err := s.Installer.Install(ctx, b, job.Device, job.Hooks.Log); err != nil {
		return errors.Classify(errors.KindInstallation, err, "Ventoy installation failed")
	}
	job.Hooks.log("Installer finished")
	job.Hooks.progress(90)
	return nil
}

// ConfirmInstall re-probes the device; an install that left no Ventoy data
// partition is a failure.
func (s *Steps) ConfirmInstall(ctx context.Context, job InstallJob) (*blockdev.ProbeResult, error) {
	job.Hooks.stage(StageConfirmInstall)

	res, err := s.Prober.Probe(context.WithoutCancel(ctx), job.Device)
	if err != nil {
		return nil, errors.Classify(errors.KindInstallation, err, "cannot verify installation")
	}
	if res.Status() != blockdev.StatusVentoy {
		slog.Error("ventoy_install_unconfirmed", "device", job.Device)
		return nil, errors.Newf(errors.KindInstallation, "installer finished but no Ventoy partition was found on %s", job.Device)
	}
	job.Hooks.log("Ventoy data partition " + res.Data.Path + " found")
	job.Hooks.progress(100)
	return res, nil
}

// LocatePartition finds the Ventoy data partition of the device.
func (s *Steps) LocatePartition(ctx context.Context, job WriteJob) (*blockdev.Partition, error) {
	job.Hooks.stage(StageLocatePartition)

	if err := ctx.Err(); err != nil {
		return nil, cancelled(err, "write cancelled before the partition was located")
	}
	res, err := s.Prober.Probe(ctx, job.Device)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(err, "write cancelled while locating the partition")
		}
		return nil, errors.Classify(errors.KindMount, err, "cannot locate Ventoy partition")
	}
	if res.Data == nil {
		return nil, errors.Newf(errors.KindMount, "no Ventoy data partition on %s", job.Device)
	}
	job.Hooks.log("Writing to Ventoy partition " + res.Data.Path)
	return res.Data, nil
}

// CopyImages mounts part, copies the selection and unmounts.
func (s *Steps) CopyImages(ctx context.Context, job WriteJob, part *blockdev.Partition) (*copier.Report, error) {
	job.Hooks.stage(StageCopyImages)

	report, err := s.Writer.WriteAll(ctx, part.Path, job.Images, func(p copier.Progress) {
		job.Hooks.progress(p.Percent())
	}, job.Hooks.Log)
	if err != nil {
		if ctx.Err() != nil && !errors.IsKind(err, errors.KindCancellation) {
			return report, cancelled(err, "write cancelled")
		}
		return report, errors.Classify(errors.KindCopy, err, "write failed")
	}
	job.Hooks.stage(StageComplete)
	job.Hooks.log("All images copied: " + report.Summary())
	return report, nil
}

func cancelled(err error, msg string) error {
	return &errors.Error{Kind: errors.KindCancellation, Msg: msg, Recoverable: true, Err: err}
}
