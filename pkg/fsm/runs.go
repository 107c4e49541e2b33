package fsm

import (
	"context"
	"sync"

	"github.com/vwriter/ventoy-writer/pkg/blockdev"
	"github.com/vwriter/ventoy-writer/pkg/copier"
	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/ventoy"
	"github.com/vwriter/ventoy-writer/pkg/workflow"
)

// run carries what cannot travel through the persisted request: the
// caller's context, hooks and the in-memory results of each step.
type run struct {
	ctx   context.Context
	write workflow.WriteJob
	inst  workflow.InstallJob

	mu        sync.Mutex
	bundle    *ventoy.Bundle
	probe     *blockdev.ProbeResult
	partition *blockdev.Partition
	report    *copier.Report
	err       error
}

func (r *run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *run) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// registry maps run ids to active runs of this process.
type registry struct {
	mu   sync.Mutex
	runs map[string]*run
}

func newRegistry() *registry {
	return &registry{runs: make(map[string]*run)}
}

func (g *registry) put(id string, r *run) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.runs[id]; ok {
		return errors.Newf(errors.KindSelection, "run %s is already active", id)
	}
	g.runs[id] = r
	return nil
}

// get fails for runs resumed from a previous process; their context and
// hooks are gone.
func (g *registry) get(id string) (*run, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runs[id]
	if !ok {
		return nil, errors.Newf(errors.KindInstallation, "run %s is not active in this process", id)
	}
	return r, nil
}

func (g *registry) remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.runs, id)
}

func (g *registry) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.runs)
}
