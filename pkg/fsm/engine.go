// Package fsm runs install and write jobs as persisted superfly/fsm
// machines. Each transition calls the same workflow steps the direct
// pipeline uses, so both executors share semantics.
package fsm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/superfly/fsm"

	"github.com/vwriter/ventoy-writer/pkg/copier"
	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/workflow"
)

// DefaultMaxRetries bounds how often a transition is retried by the manager.
const DefaultMaxRetries = 3

// Engine implements workflow.Executor on top of an fsm.Manager.
type Engine struct {
	steps      *workflow.Steps
	manager    *fsm.Manager
	maxRetries int
	runs       *registry

	install fsm.Start[InstallRequest, InstallResponse]
	write   fsm.Start[WriteRequest, WriteResponse]
}

// NewEngine opens the fsm store at dbPath and registers both machines. The
// manager's own logs go to logOut, or stderr when logOut is nil.
func NewEngine(ctx context.Context, dbPath string, steps *workflow.Steps, maxRetries int, logOut io.Writer) (*Engine, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	manager, err := fsm.New(fsm.Config{DBPath: dbPath, Logger: newLogger(logOut)})
	if err != nil {
		return nil, errors.Wrap(err, "FSM manager failed")
	}

	e := &Engine{steps: steps, manager: manager, maxRetries: maxRetries, runs: newRegistry()}
	if err := e.register(ctx); err != nil {
		manager.Shutdown(time.Second)
		return nil, err
	}
	slog.Info("fsm_engine_ready", "db_path", dbPath)
	return e, nil
}

func newLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	if out != nil {
		logger.SetOutput(out)
	}
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	return logger
}

func (e *Engine) register(ctx context.Context) error {
	install, _, err := fsm.Register[InstallRequest, InstallResponse](e.manager, MachineInstall).
		Start(StatePrepareBundle, e.handlePrepareBundle).
		To(StateRunInstaller, e.handleRunInstaller).
		To(StateConfirmInstall, e.handleConfirmInstall).
		End(StateFailed).
		Build(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to register install FSM")
	}

	write, _, err := fsm.Register[WriteRequest, WriteResponse](e.manager, MachineWrite).
		Start(StateLocatePartition, e.handleLocatePartition).
		To(StateCopyImages, e.handleCopyImages).
		To(StateComplete, e.handleComplete).
		End(StateFailed).
		Build(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to register write FSM")
	}

	e.install, e.write = install, write
	return nil
}

// Shutdown stops the manager, waiting up to timeout for transitions.
func (e *Engine) Shutdown(timeout time.Duration) {
	e.manager.Shutdown(timeout)
}

func (e *Engine) Install(ctx context.Context, job workflow.InstallJob) (*workflow.InstallResult, error) {
	r := &run{ctx: ctx, inst: job}
	if err := e.runs.put(job.RunID, r); err != nil {
		return nil, err
	}
	defer e.runs.remove(job.RunID)

	req := &InstallRequest{RunID: job.RunID, Device: job.Device}
	resp := &InstallResponse{}

	// The manager keeps running a started installer after a cancel, so it
	// is waited for on a detached context; steps observe ctx themselves.
	detached := context.WithoutCancel(ctx)
	version, err := e.install(detached, job.RunID, fsm.NewRequest(req, resp))
	if err != nil {
		return nil, errors.Classify(errors.KindInstallation, err, "FSM start failed")
	}
	slog.Info("fsm_started", "machine", MachineInstall, "run_id", job.RunID, "version", version)

	werr := e.manager.Wait(detached, version)
	if ferr := r.failure(); ferr != nil {
		return nil, ferr
	}
	if werr != nil {
		return nil, errors.Classify(errors.KindInstallation, werr, "FSM execution failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return &workflow.InstallResult{Bundle: r.bundle, Probe: r.probe}, nil
}

func (e *Engine) Write(ctx context.Context, job workflow.WriteJob) (*copier.Report, error) {
	r := &run{ctx: ctx, write: job}
	if err := e.runs.put(job.RunID, r); err != nil {
		return nil, err
	}
	defer e.runs.remove(job.RunID)

	req := &WriteRequest{RunID: job.RunID, Device: job.Device, Images: job.Images.Paths()}
	resp := &WriteResponse{}

	detached := context.WithoutCancel(ctx)
	version, err := e.write(detached, job.RunID, fsm.NewRequest(req, resp))
	if err != nil {
		return nil, errors.Classify(errors.KindCopy, err, "FSM start failed")
	}
	slog.Info("fsm_started", "machine", MachineWrite, "run_id", job.RunID, "version", version)

	werr := e.manager.Wait(detached, version)

	r.mu.Lock()
	report := r.report
	r.mu.Unlock()

	if ferr := r.failure(); ferr != nil {
		return report, ferr
	}
	if werr != nil {
		return report, errors.Classify(errors.KindCopy, werr, "FSM execution failed")
	}
	return report, nil
}

// lookup resolves the active run and enforces the retry limit.
func (e *Engine) lookup(ctx context.Context, runID string) (*run, error) {
	if retries := fsm.RetryFromContext(ctx); retries >= uint64(e.maxRetries) {
		slog.Error("max_retries_exceeded", "run_id", runID, "max_retries", e.maxRetries)
		return nil, fmt.Errorf("max retries (%d) exceeded", e.maxRetries)
	}
	return e.runs.get(runID)
}

func installResponse(req *fsm.Request[InstallRequest, InstallResponse]) *InstallResponse {
	if req.W.Msg == nil {
		return &InstallResponse{}
	}
	return req.W.Msg
}

func writeResponse(req *fsm.Request[WriteRequest, WriteResponse]) *WriteResponse {
	if req.W.Msg == nil {
		return &WriteResponse{}
	}
	return req.W.Msg
}

func (e *Engine) handlePrepareBundle(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	slog.Info("fsm_state_prepare_bundle", "run_id", req.Msg.RunID, "device", req.Msg.Device)

	r, err := e.lookup(ctx, req.Msg.RunID)
	if err != nil {
		return nil, fsm.Abort(err)
	}
	b, err := e.steps.PrepareBundle(r.ctx, r.inst)
	if err != nil {
		r.fail(err)
		return nil, fsm.Abort(err)
	}

	r.mu.Lock()
	r.bundle = b
	r.mu.Unlock()

	resp := installResponse(req)
	resp.BundleVersion = b.Version
	resp.BundleDir = b.Dir
	return fsm.NewResponse(resp), nil
}

func (e *Engine) handleRunInstaller(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	slog.Info("fsm_state_run_installer", "run_id", req.Msg.RunID, "device", req.Msg.Device)

	r, err := e.lookup(ctx, req.Msg.RunID)
	if err != nil {
		return nil, fsm.Abort(err)
	}
	r.mu.Lock()
	b := r.bundle
	r.mu.Unlock()
	if b == nil {
		err := errors.New(errors.KindInstallation, "no bundle prepared for run "+req.Msg.RunID)
		r.fail(err)
		return nil, fsm.Abort(err)
	}

	if err := e.steps.RunInstaller(r.ctx, r.inst, b); err != nil {
		r.fail(err)
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(installResponse(req)), nil
}

func (e *Engine) handleConfirmInstall(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	slog.Info("fsm_state_confirm_install", "run_id", req.Msg.RunID, "device", req.Msg.Device)

	r, err := e.lookup(ctx, req.Msg.RunID)
	if err != nil {
		return nil, fsm.Abort(err)
	}
	resp := installResponse(req)

	probe, err := e.steps.ConfirmInstall(r.ctx, r.inst)
	if err != nil {
		r.fail(err)
		resp.Status = StatusFailed
		resp.ErrorMessage = err.Error()
		return nil, fsm.Abort(err)
	}

	r.mu.Lock()
	r.probe = probe
	r.mu.Unlock()

	resp.DataPartition = probe.Data.Path
	resp.Status = StatusComplete
	slog.Info("fsm_install_complete", "run_id", req.Msg.RunID, "data_partition", resp.DataPartition)
	return fsm.NewResponse(resp), nil
}

func (e *Engine) handleLocatePartition(ctx context.Context, req *fsm.Request[WriteRequest, WriteResponse]) (*fsm.Response[WriteResponse], error) {
	slog.Info("fsm_state_locate_partition", "run_id", req.Msg.RunID, "device", req.Msg.Device)

	r, err := e.lookup(ctx, req.Msg.RunID)
	if err != nil {
		return nil, fsm.Abort(err)
	}
	part, err := e.steps.LocatePartition(r.ctx, r.write)
	if err != nil {
		r.fail(err)
		return nil, fsm.Abort(err)
	}

	r.mu.Lock()
	r.partition = part
	r.mu.Unlock()

	resp := writeResponse(req)
	resp.Partition = part.Path
	return fsm.NewResponse(resp), nil
}

func (e *Engine) handleCopyImages(ctx context.Context, req *fsm.Request[WriteRequest, WriteResponse]) (*fsm.Response[WriteResponse], error) {
	slog.Info("fsm_state_copy_images", "run_id", req.Msg.RunID, "images", len(req.Msg.Images))

	r, err := e.lookup(ctx, req.Msg.RunID)
	if err != nil {
		return nil, fsm.Abort(err)
	}
	r.mu.Lock()
	part := r.partition
	r.mu.Unlock()
	if part == nil {
		err := errors.New(errors.KindMount, "no partition located for run "+req.Msg.RunID)
		r.fail(err)
		return nil, fsm.Abort(err)
	}

	report, err := e.steps.CopyImages(r.ctx, r.write, part)

	r.mu.Lock()
	r.report = report
	r.mu.Unlock()

	resp := writeResponse(req)
	if report != nil {
		resp.MountPath = report.MountPath
		resp.Copied = report.Count(copier.StatusCopied)
		resp.Failed = report.Count(copier.StatusFailed)
		resp.Skipped = report.Count(copier.StatusSkipped)
	}
	if err != nil {
		r.fail(err)
		resp.Status = StatusFailed
		resp.ErrorMessage = err.Error()
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

func (e *Engine) handleComplete(ctx context.Context, req *fsm.Request[WriteRequest, WriteResponse]) (*fsm.Response[WriteResponse], error) {
	resp := writeResponse(req)
	resp.Status = StatusComplete
	slog.Info("fsm_write_complete", "run_id", req.Msg.RunID, "copied", resp.Copied)
	return fsm.NewResponse(resp), nil
}
