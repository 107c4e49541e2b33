package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vwriter/ventoy-writer/internal/config"
	"github.com/vwriter/ventoy-writer/pkg/blockdev"
	"github.com/vwriter/ventoy-writer/pkg/copier"
	"github.com/vwriter/ventoy-writer/pkg/db"
	"github.com/vwriter/ventoy-writer/pkg/errors"
	appfsm "github.com/vwriter/ventoy-writer/pkg/fsm"
	"github.com/vwriter/ventoy-writer/pkg/images"
	"github.com/vwriter/ventoy-writer/pkg/runner"
	"github.com/vwriter/ventoy-writer/pkg/security"
	"github.com/vwriter/ventoy-writer/pkg/storage"
	"github.com/vwriter/ventoy-writer/pkg/ventoy"
	"github.com/vwriter/ventoy-writer/pkg/workflow"
)

// loadConfig loads and validates configuration and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err == nil {
		LogLevel.Set(level)
	}
	return cfg, nil
}

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Create FSM database directory (only needed with use-fsm)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	// Create work directory
	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}

func mountDir(cfg *config.Config) string {
	return filepath.Join(cfg.WorkDir, "mounts")
}

// app is the wired object graph shared by the commands.
type app struct {
	cfg     *config.Config
	repo    *db.Repository
	lister  blockdev.Lister
	prober  blockdev.Prober
	mounter blockdev.Mounter
	fetcher *ventoy.Fetcher
	steps   *workflow.Steps
	engine  *appfsm.Engine
	ctrl    *workflow.Controller
}

// newApp builds every collaborator from cfg. Close releases them. logOut
// receives the FSM manager's logs.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	fsmDBPath := ""
	if cfg.UseFSM {
		fsmDBPath = cfg.FSMDBPath
	}
	if err := ensureDirectories(cfg.SQLitePath, fsmDBPath, cfg.WorkDir); err != nil {
		return nil, err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	a := &app{cfg: cfg, repo: repo}

	exec := runner.NewExecRunner()
	privileged := runner.NewEscalated(exec, cfg.Escalation)

	lsblk := blockdev.NewLsblkLister(exec)
	a.lister = &blockdev.FallbackLister{Primary: lsblk, Secondary: blockdev.GHWLister{}}
	a.prober = &blockdev.LsblkProber{Lister: lsblk}

	a.mounter, err = blockdev.NewMounter(privileged, mountDir(cfg))
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "mounter init failed")
	}

	a.fetcher, err = newFetcher(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	writer := copier.NewWriter(a.mounter, copier.Options{
		Filesystem:      cfg.Filesystem,
		Verify:          copier.VerifyMode(cfg.Verify),
		ContinueOnError: cfg.ContinueOnError,
		Timeout:         cfg.CopyTimeout,
	})
	a.steps = &workflow.Steps{
		Bundles:   a.fetcher,
		Installer: ventoy.NewInstaller(privileged, cfg.InstallTimeout),
		Prober:    a.prober,
		Writer:    writer,
	}

	var executor workflow.Executor = &workflow.Pipeline{Steps: a.steps}
	if cfg.UseFSM {
		a.engine, err = appfsm.NewEngine(ctx, cfg.FSMDBPath, a.steps, cfg.FSMMaxRetries, logOut)
		if err != nil {
			a.Close()
			return nil, err
		}
		executor = a.engine
	}

	a.ctrl = workflow.New(workflow.Options{
		Lister:   a.lister,
		Prober:   a.prober,
		Executor: executor,
		Images:   images.Validator{Strict: cfg.StrictISO},
		History:  repo,
	})
	return a, nil
}

func newFetcher(ctx context.Context, cfg *config.Config) (*ventoy.Fetcher, error) {
	guard := security.NewArchiveGuard(cfg.MaxFileSize, cfg.MaxTotalSize, cfg.MaxCompressionRatio)
	f := ventoy.NewFetcher(cfg.WorkDir, cfg.VentoyVersion, guard)
	if cfg.VentoyURL != "" {
		f.URL = cfg.VentoyURL
	}
	f.SHA256 = cfg.VentoySHA256

	if cfg.MirrorBucket != "" {
		mirror, err := storage.NewMirror(ctx, cfg.MirrorBucket, cfg.MirrorRegion)
		if err != nil {
			return nil, errors.Wrap(err, "S3 mirror failed")
		}
		f.Mirror = mirror
		f.MirrorKey = cfg.MirrorKey
		if f.MirrorKey == "" {
			f.MirrorKey = storage.BundleKey("", f.Version)
		}
	}
	return f, nil
}

func (a *app) Close() {
	if a.engine != nil {
		a.engine.Shutdown(10 * time.Second)
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

// scanAndSelect makes device the controller's selection.
func (a *app) scanAndSelect(ctx context.Context, device string) error {
	if _, err := a.ctrl.ScanDevices(ctx); err != nil {
		return err
	}
	return a.ctrl.SelectDevice(ctx, device)
}

// run starts an operation and prints its log until it finishes. The
// operation is cancelled when ctx is.
func (a *app) run(ctx context.Context, start func() error) error {
	events, unsubscribe := a.ctrl.Subscribe()
	defer unsubscribe()

	if err := start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- a.ctrl.Wait(context.Background()) }()

	lastPct := -1
	show := func(e workflow.Event) {
		switch e.Type {
		case workflow.EventLogAppended:
			fmt.Println(e.Line)
		case workflow.EventProgress:
			if e.Percent/10 != lastPct/10 {
				lastPct = e.Percent
				fmt.Printf("... %d%%\n", e.Percent)
			}
		}
	}

	cancelled := ctx.Done()
	for {
		select {
		case e := <-events:
			show(e)
		case <-cancelled:
			a.ctrl.Cancel()
			cancelled = nil
		case err := <-done:
			for {
				select {
				case e := <-events:
					show(e)
				default:
					return err
				}
			}
		}
	}
}
