package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/vwriter/ventoy-writer/pkg/blockdev"
	"github.com/vwriter/ventoy-writer/pkg/copier"
	"github.com/vwriter/ventoy-writer/pkg/db"
	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/images"
)

const (
	// DefaultLogLimit caps the lines kept in State.Log.
	DefaultLogLimit = 500

	subscriberBuffer = 256
)

// History records operations. *db.Repository satisfies it.
type History interface {
	CreateOperation(ctx context.Context, op *db.Operation) error
	FinishOperation(ctx context.Context, id int64, status, errorKind, errorMessage string) error
	RecordCopies(ctx context.Context, operationID int64, copies []db.ImageCopy) error
}

// Options wires a Controller.
type Options struct {
	Lister   blockdev.Lister
	Prober   blockdev.Prober
	Executor Executor
	Images   images.Validator
	// History is optional.
	History History
	// NewRunID defaults to random UUIDs.
	NewRunID func() string
	LogLimit int
}

// Controller owns the WorkflowState of one session. All methods are safe
// for concurrent use; install and write run in a background goroutine and
// report through events.
type Controller struct {
	opts Options

	mu      sync.Mutex
	state   State
	scanned map[string]blockdev.Device
	subs    map[int]chan Event
	nextSub int

	cancel context.CancelFunc
	done   chan struct{}
	opErr  error
}

// New creates a controller in the Idle phase.
func New(opts Options) *Controller {
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	if opts.LogLimit <= 0 {
		opts.LogLimit = DefaultLogLimit
	}
	return &Controller{
		opts:    opts,
		state:   State{Phase: PhaseIdle},
		scanned: make(map[string]blockdev.Device),
		subs:    make(map[int]chan Event),
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	s.Devices = cloneDevices(c.state.Devices)
	s.Device = cloneDevice(c.state.Device)
	s.Images = c.state.Images.Clone()
	s.Log = append([]string(nil), c.state.Log...)
	return s
}

// Subscribe returns a channel of events and a function that ends the
// subscription. Events are dropped for a subscriber whose buffer is full;
// Snapshot always reflects the complete state.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, subscriberBuffer)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// Wait blocks until the in-flight install or write finishes and returns
// its error. It returns nil at once when nothing has run.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.opErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScanDevices lists candidate devices. When the selected device is gone the
// selection is cleared and a DetectionError naming it is returned along
// with the new devices.
func (c *Controller) ScanDevices(ctx context.Context) ([]blockdev.Device, error) {
	c.mu.Lock()
	if err := c.checkNotBusy(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	var selected *blockdev.Device
	if c.state.Device != nil {
		selected = cloneDevice(c.state.Device)
	}
	c.setPhase(PhaseScanning)
	c.appendLog("Scanning for USB devices")
	c.mu.Unlock()

	devices, err := c.opts.Lister.List(ctx)

	var probe *blockdev.ProbeResult
	var probeErr error
	if err == nil && selected != nil && containsDevice(devices, selected.Path) {
		probe, probeErr = c.opts.Prober.Probe(ctx, selected.Path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.scanned = make(map[string]blockdev.Device)
		c.state.Devices = nil
		if c.state.Device != nil {
			c.state.Device = nil
			c.emit(Event{Type: EventDeviceUpdated})
		}
		c.setPhase(PhaseError)
		c.setPhase(PhaseIdle)
		return nil, c.raise(err, errors.KindDetection, "device scan failed")
	}

	c.scanned = make(map[string]blockdev.Device, len(devices))
	for _, d := range devices {
		c.scanned[d.Path] = d
	}
	c.state.Devices = cloneDevices(devices)
	c.appendLog(fmt.Sprintf("Found %d USB device(s)", len(devices)))

	if selected == nil {
		c.emit(Event{Type: EventDeviceUpdated, Devices: cloneDevices(devices)})
		c.setPhase(PhaseIdle)
		return devices, nil
	}

	d, ok := c.scanned[selected.Path]
	if !ok {
		c.state.Device = nil
		c.emit(Event{Type: EventDeviceUpdated, Devices: cloneDevices(devices)})
		c.setPhase(PhaseError)
		c.setPhase(PhaseIdle)
		return devices, c.raise(errors.Newf(errors.KindDetection, "selected device %s is no longer present", selected.Path),
			errors.KindDetection, "")
	}

	d.Status = selected.Status
	if probeErr != nil {
		slog.Warn("scan_probe_failed", "device", d.Path, "error", probeErr)
	} else if probe != nil {
		d.Status = probe.Status()
	}
	c.state.Device = cloneDevice(&d)
	c.emit(Event{Type: EventDeviceUpdated, Device: cloneDevice(&d), Devices: cloneDevices(devices)})
	c.setPhase(c.stablePhase())
	return devices, nil
}

// SelectDevice makes id the target device after probing it for Ventoy. An
// id missing from the last scan fails with InvalidSelection and leaves the
// selection untouched.
func (c *Controller) SelectDevice(ctx context.Context, id string) error {
	c.mu.Lock()
	if err := c.checkNotBusy(); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := c.scanned[id]; !ok {
		err := c.raise(errors.Newf(errors.KindSelection, "device %s is not in the last scan", id), errors.KindSelection, "")
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	res, err := c.opts.Prober.Probe(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		return c.raise(err, errors.KindDetection, "cannot inspect "+id)
	}
	d, ok := c.scanned[id]
	if !ok {
		return c.raise(errors.Newf(errors.KindSelection, "device %s disappeared during selection", id), errors.KindSelection, "")
	}

	d.Status = res.Status()
	c.state.Device = cloneDevice(&d)
	c.appendLog(fmt.Sprintf("Selected %s: %s", d.DisplayName(), d.Status))
	if d.Mounted() {
		c.appendLog("Warning: " + d.Path + " has mounted partitions")
	}
	c.emit(Event{Type: EventDeviceUpdated, Device: cloneDevice(&d)})
	c.setPhase(c.stablePhase())
	return nil
}

// SelectImages validates paths and stores them as the image selection.
func (c *Controller) SelectImages(paths []string) (images.Selection, error) {
	c.mu.Lock()
	if c.state.Phase == PhaseWriting {
		err := c.raise(errors.New(errors.KindSelection, "images cannot change while a write is running"), errors.KindSelection, "")
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	sel, err := c.opts.Images.Select(paths)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		return nil, c.raise(err, errors.KindSelection, "invalid image selection")
	}
	if c.state.Phase == PhaseWriting {
		return nil, c.raise(errors.New(errors.KindSelection, "images cannot change while a write is running"), errors.KindSelection, "")
	}
	c.state.Images = sel.Clone()
	c.appendLog(fmt.Sprintf("Selected %d image(s), %s total", len(sel), humanize.IBytes(uint64(sel.TotalSize()))))
	return sel.Clone(), nil
}

// ClearImages empties the image selection. It fails while a write is
// running.
func (c *Controller) ClearImages() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase == PhaseWriting {
		return c.raise(errors.New(errors.KindSelection, "images cannot change while a write is running"), errors.KindSelection, "")
	}
	if len(c.state.Images) == 0 {
		return nil
	}
	c.state.Images = nil
	c.appendLog("Image selection cleared")
	return nil
}

// InstallVentoy starts installing Ventoy on the selected bare device and
// returns once the background run has started.
func (c *Controller) InstallVentoy(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkTarget(deviceID); err != nil {
		return err
	}
	if c.state.Device.Status != blockdev.StatusBare {
		return c.raise(errors.Newf(errors.KindSelection, "cannot install on %s: status is %s", deviceID, c.state.Device.Status),
			errors.KindSelection, "")
	}

	runID, opCtx, done := c.beginOperation(ctx, PhaseInstallingVentoy)
	c.appendLog("Installing Ventoy on " + deviceID)

	job := InstallJob{RunID: runID, Device: deviceID, Hooks: c.hooks()}
	go c.runInstall(opCtx, done, job)
	return nil
}

// WriteImages starts copying images onto the selected Ventoy device. With
// no paths the current selection is used; otherwise paths replace it. The
// selection is frozen for the duration of the write.
func (c *Controller) WriteImages(ctx context.Context, deviceID string, paths []string) error {
	if len(paths) > 0 {
		// A rejected write leaves the selection alone.
		c.mu.Lock()
		err := c.checkWritable(deviceID)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		if _, err := c.SelectImages(paths); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkWritable(deviceID); err != nil {
		return err
	}
	if len(c.state.Images) == 0 {
		return c.raise(errors.New(errors.KindSelection, "no images selected"), errors.KindSelection, "")
	}

	frozen := c.state.Images.Clone()
	runID, opCtx, done := c.beginOperation(ctx, PhaseWriting)
	c.appendLog(fmt.Sprintf("Writing %d image(s) to %s", len(frozen), deviceID))

	job := WriteJob{RunID: runID, Device: deviceID, Images: frozen, Hooks: c.hooks()}
	go c.runWrite(opCtx, done, job)
	return nil
}

// Cancel asks the in-flight operation to stop. It returns false when
// nothing is running. A running installer is not interrupted.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		c.appendLog("Nothing to cancel")
		return false
	}
	if c.state.Stage == StageRunInstaller {
		c.appendLog("Cancellation requested; the Ventoy installer is already running and will finish on its own")
	} else {
		c.appendLog("Cancellation requested")
	}
	slog.Info("workflow_cancel_requested", "operation_id", c.state.OperationID, "stage", c.state.Stage)
	c.cancel()
	return true
}

func (c *Controller) runInstall(ctx context.Context, done chan struct{}, job InstallJob) {
	defer close(done)

	opID := c.recordStart(ctx, db.KindInstall, job.RunID, job.Device)
	_, err := c.opts.Executor.Install(ctx, job)

	c.mu.Lock()
	c.cancel = nil
	var raised *errors.Error
	if err != nil {
		raised = c.raise(err, errors.KindInstallation, "Ventoy installation failed")
		c.setDeviceStatus(blockdev.StatusBare)
		c.setPhase(PhaseError)
		c.setPhase(PhaseDeviceChosen)
		c.opErr = raised
	} else {
		c.setDeviceStatus(blockdev.StatusVentoy)
		c.setProgress(100)
		c.appendLog("Ventoy installed on " + job.Device)
		c.setPhase(PhaseReady)
		c.opErr = nil
	}
	c.mu.Unlock()

	c.recordFinish(opID, raised, nil)
}

func (c *Controller) runWrite(ctx context.Context, done chan struct{}, job WriteJob) {
	defer close(done)

	opID := c.recordStart(ctx, db.KindWrite, job.RunID, job.Device)
	report, err := c.opts.Executor.Write(ctx, job)

	c.mu.Lock()
	c.cancel = nil
	c.state.LastReport = report
	c.setDeviceStatus(blockdev.StatusVentoy)
	var raised *errors.Error
	if err != nil {
		raised = c.raise(err, errors.KindCopy, "write failed")
		if report != nil {
			c.appendLog("Result: " + report.Summary())
		}
		c.setPhase(PhaseError)
		c.setPhase(PhaseReady)
		c.opErr = raised
	} else {
		c.setProgress(100)
		c.appendLog("Write complete: " + report.Summary())
		c.setPhase(PhaseDone)
		c.opErr = nil
	}
	c.mu.Unlock()

	c.recordFinish(opID, raised, report)
}

// beginOperation moves the selected device into an operation. c.mu is held.
func (c *Controller) beginOperation(ctx context.Context, phase Phase) (string, context.Context, chan struct{}) {
	runID := c.opts.NewRunID()
	opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.cancel = cancel
	c.done = make(chan struct{})
	c.opErr = nil
	c.state.OperationID = runID
	c.state.Stage = ""
	c.state.LastReport = nil
	c.setProgress(0)
	c.setDeviceStatus(blockdev.StatusBusy)
	c.setPhase(phase)
	return runID, opCtx, c.done
}

func (c *Controller) hooks() Hooks {
	return Hooks{
		Stage: func(name string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.state.Stage = name
			slog.Debug("workflow_stage", "operation_id", c.state.OperationID, "stage", name)
		},
		Log: func(line string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.appendLog(line)
		},
		Progress: func(p int) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.setProgress(p)
		},
	}
}

// checkNotBusy fails while an operation is in flight. c.mu is held.
func (c *Controller) checkNotBusy() error {
	if c.state.Phase.Busy() || c.cancel != nil {
		return c.raise(errors.Newf(errors.KindSelection, "an operation is already in progress (%s)", c.state.Phase),
			errors.KindSelection, "")
	}
	return nil
}

// checkTarget validates that deviceID is the selected, idle device. c.mu is held.
func (c *Controller) checkTarget(deviceID string) error {
	if err := c.checkNotBusy(); err != nil {
		return err
	}
	if c.state.Device == nil || c.state.Device.Path != deviceID {
		return c.raise(errors.Newf(errors.KindSelection, "device %s is not the selected device", deviceID), errors.KindSelection, "")
	}
	return nil
}

// checkWritable validates that deviceID can receive images. c.mu is held.
func (c *Controller) checkWritable(deviceID string) error {
	if err := c.checkTarget(deviceID); err != nil {
		return err
	}
	if c.state.Device.Status != blockdev.StatusVentoy {
		return c.raise(errors.Newf(errors.KindSelection, "cannot write to %s: Ventoy is not installed (status %s)", deviceID, c.state.Device.Status),
			errors.KindSelection, "")
	}
	return nil
}

func (c *Controller) stablePhase() Phase {
	switch {
	case c.state.Device == nil:
		return PhaseIdle
	case c.state.Device.Status == blockdev.StatusVentoy:
		return PhaseReady
	default:
		return PhaseDeviceChosen
	}
}

func (c *Controller) setPhase(p Phase) {
	if c.state.Phase == p {
		return
	}
	slog.Info("workflow_phase", "from", c.state.Phase, "to", p)
	c.state.Phase = p
	c.emit(Event{Type: EventPhaseChanged, Phase: p})
}

func (c *Controller) setProgress(p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if c.state.Progress == p {
		return
	}
	c.state.Progress = p
	c.emit(Event{Type: EventProgress, Percent: p})
}

func (c *Controller) setDeviceStatus(s blockdev.Status) {
	if c.state.Device == nil {
		return
	}
	c.state.Device.Status = s
	if d, ok := c.scanned[c.state.Device.Path]; ok {
		d.Status = s
		c.scanned[d.Path] = d
	}
	c.emit(Event{Type: EventDeviceUpdated, Device: cloneDevice(c.state.Device)})
}

func (c *Controller) appendLog(line string) {
	c.state.Log = append(c.state.Log, line)
	if over := len(c.state.Log) - c.opts.LogLimit; over > 0 {
		c.state.Log = append([]string(nil), c.state.Log[over:]...)
	}
	c.emit(Event{Type: EventLogAppended, Line: line})
}

// raise classifies err, stores it as the last error and notifies
// subscribers. c.mu is held.
func (c *Controller) raise(err error, kind errors.Kind, msg string) *errors.Error {
	if msg == "" {
		msg = err.Error()
	}
	e := errors.Classify(kind, err, msg)
	slog.Error("workflow_error", "kind", e.Kind, "error", e.Error())

	c.state.LastError = e
	c.appendLog("Error: " + e.Error())
	for _, line := range strings.Split(e.Output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			c.appendLog("  " + line)
		}
	}
	c.emit(Event{Type: EventErrorRaised, Err: e})
	return e
}

// emit sends without blocking. c.mu is held.
func (c *Controller) emit(e Event) {
	for _, ch := range c.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (c *Controller) recordStart(ctx context.Context, kind, runID, device string) int64 {
	if c.opts.History == nil {
		return 0
	}
	op := &db.Operation{RunID: runID, Kind: kind, Device: device, Status: db.StatusRunning}
	if err := c.opts.History.CreateOperation(context.WithoutCancel(ctx), op); err != nil {
		slog.Warn("history_record_failed", "run_id", runID, "error", err)
		return 0
	}
	return op.ID
}

func (c *Controller) recordFinish(opID int64, failure *errors.Error, report *copier.Report) {
	if c.opts.History == nil || opID == 0 {
		return
	}
	ctx := context.Background()

	status, kind, msg := db.StatusSucceeded, "", ""
	if failure != nil {
		status, kind, msg = db.StatusFailed, string(failure.Kind), failure.Error()
		if failure.Kind == errors.KindCancellation {
			status = db.StatusCancelled
		}
	}
	if err := c.opts.History.FinishOperation(ctx, opID, status, kind, msg); err != nil {
		slog.Warn("history_record_failed", "operation_id", opID, "error", err)
	}

	if report == nil {
		return
	}
	copies := make([]db.ImageCopy, 0, len(report.Outcomes))
	for i, o := range report.Outcomes {
		ic := db.ImageCopy{Position: i, ImagePath: o.Image.Path, Status: string(o.Status), Bytes: o.Bytes, SHA256: o.SHA256}
		if o.Err != nil {
			ic.ErrorMessage = o.Err.Error()
		}
		copies = append(copies, ic)
	}
	if err := c.opts.History.RecordCopies(ctx, opID, copies); err != nil {
		slog.Warn("history_record_failed", "operation_id", opID, "error", err)
	}
}

func containsDevice(devices []blockdev.Device, path string) bool {
	for _, d := range devices {
		if d.Path == path {
			return true
		}
	}
	return false
}
