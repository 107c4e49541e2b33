package workflow

import (
	"context"

	"github.com/vwriter/ventoy-writer/pkg/copier"
)

// Pipeline runs job steps directly in the calling goroutine.
type Pipeline struct {
	Steps *Steps
}

func (p *Pipeline) Install(ctx context.Context, job InstallJob) (*InstallResult, error) {
	b, err := p.Steps.PrepareBundle(ctx, job)
	if err != nil {
		return nil, err
	}
	if err := p.Steps.RunInstaller(ctx, job, b); err != nil {
		return nil, err
	}
	res, err := p.Steps.ConfirmInstall(ctx, job)
	if err != nil {
		return nil, err
	}
	return &InstallResult{Bundle: b, Probe: res}, nil
}

func (p *Pipeline) Write(ctx context.Context, job WriteJob) (*copier.Report, error) {
	part, err := p.Steps.LocatePartition(ctx, job)
	if err != nil {
		return nil, err
	}
	return p.Steps.CopyImages(ctx, job, part)
}
