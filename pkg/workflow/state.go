// Package workflow drives a USB device through scanning, Ventoy
// installation and image writing, and reports progress to observers.
package workflow

import (
	"github.com/vwriter/ventoy-writer/pkg/blockdev"
	"github.com/vwriter/ventoy-writer/pkg/copier"
	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/images"
)

// Phase is the controller's position in the workflow.
type Phase string

const (
	PhaseIdle             Phase = "Idle"
	PhaseScanning         Phase = "Scanning"
	PhaseDeviceChosen     Phase = "DeviceChosen"
	PhaseInstallingVentoy Phase = "InstallingVentoy"
	PhaseReady            Phase = "Ready"
	PhaseWriting          Phase = "Writing"
	PhaseDone             Phase = "Done"
	PhaseError            Phase = "Error"
)

// Busy reports whether an operation is in flight in this phase.
func (p Phase) Busy() bool {
	return p == PhaseScanning || p == PhaseInstallingVentoy || p == PhaseWriting
}

// EventType names what changed.
type EventType string

const (
	EventPhaseChanged  EventType = "PhaseChanged"
	EventProgress      EventType = "Progress"
	EventLogAppended   EventType = "LogAppended"
	EventErrorRaised   EventType = "ErrorRaised"
	EventDeviceUpdated EventType = "DeviceUpdated"
)

// Event is sent to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type    EventType
	Phase   Phase
	Percent int
	Line    string
	Err     *errors.Error
	// Device is the selected device after a change, nil when cleared.
	Device  *blockdev.Device
	Devices []blockdev.Device
}

// State is a read-only snapshot of the session.
type State struct {
	Phase       Phase
	Devices     []blockdev.Device
	Device      *blockdev.Device
	Images      images.Selection
	LastError   *errors.Error
	Log         []string
	Progress    int
	OperationID string
	Stage       string
	LastReport  *copier.Report
}

func cloneDevice(d *blockdev.Device) *blockdev.Device {
	if d == nil {
		return nil
	}
	c := *d
	c.Partitions = append([]blockdev.Partition(nil), d.Partitions...)
	c.Mountpoints = append([]string(nil), d.Mountpoints...)
	return &c
}

func cloneDevices(ds []blockdev.Device) []blockdev.Device {
	if ds == nil {
		return nil
	}
	out := make([]blockdev.Device, len(ds))
	for i := range ds {
		out[i] = *cloneDevice(&ds[i])
	}
	return out
}
