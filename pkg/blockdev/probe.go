package blockdev

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vwriter/ventoy-writer/pkg/errors"
)

// ProbeResult describes the Ventoy layout found on a device.
type ProbeResult struct {
	Installed bool
	// Data is the exFAT partition images are copied to.
	Data *Partition
	// EFI is the small VTOYEFI boot partition.
	EFI *Partition
}

// Status maps the probe result to a device status.
func (r *ProbeResult) Status() Status {
	if r != nil && r.Installed && r.Data != nil {
		return StatusVentoy
	}
	return StatusBare
}

// DetectVentoy applies the label heuristic over partitions: a VTOYEFI
// partition or any label containing "ventoy" marks an installation, and the
// largest non-EFI Ventoy-labelled partition is the data partition.
func DetectVentoy(parts []Partition) *ProbeResult {
	res := &ProbeResult{}
	for i := range parts {
		p := &parts[i]
		label := strings.ToLower(p.Label)

		if strings.EqualFold(p.Label, VentoyEFILabel) {
			res.Installed = true
			res.EFI = p
			continue
		}
		if !strings.Contains(label, VentoyLabelMarker) {
			continue
		}
		res.Installed = true
		if strings.Contains(label, "efi") {
			continue
		}
		if res.Data == nil || p.Size > res.Data.Size {
			res.Data = p
		}
	}
	return res
}

// LsblkProber probes a device through lsblk.
type LsblkProber struct {
	Lister *LsblkLister
}

func (p *LsblkProber) Probe(ctx context.Context, devicePath string) (*ProbeResult, error) {
	slog.Info("ventoy_probe_start", "device", devicePath)

	dev, err := p.Lister.Describe(ctx, devicePath)
	if err != nil {
		slog.Error("ventoy_probe_failed", "device", devicePath, "error", err)
		return nil, errors.Classify(errors.KindDetection, err, "cannot inspect "+devicePath)
	}

	res := DetectVentoy(dev.Partitions)
	attrs := []any{"device", devicePath, "installed", res.Installed}
	if res.Data != nil {
		attrs = append(attrs, "data_partition", res.Data.Path)
	}
	slog.Info("ventoy_probe_complete", attrs...)
	return res, nil
}
