package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vwriter/ventoy-writer/pkg/blockdev"
	"github.com/vwriter/ventoy-writer/pkg/db"
	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/runner"
)

var cleanupBundles bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Release mounts and records left behind by interrupted runs",
	Long: `Clean up resources left behind by a crashed or killed run:
  - unmount Ventoy partitions still mounted under <work-dir>/mounts
  - remove stale mount point directories
  - mark operations still "running" in the history as failed
  --bundles          also delete cached Ventoy releases`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupBundles, "bundles", false, "Delete cached Ventoy bundles")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDirectories(cfg.SQLitePath, "", cfg.WorkDir); err != nil {
		return err
	}

	mounter, err := blockdev.NewMounter(runner.NewEscalated(runner.NewExecRunner(), cfg.Escalation), mountDir(cfg))
	if err != nil {
		return errors.Wrap(err, "mounter init failed")
	}

	if err := cleanupMounts(ctx, mounter, mountDir(cfg)); err != nil {
		fmt.Printf("⚠️  Mount cleanup incomplete: %v\n", err)
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	n, err := repo.FailInterrupted(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to update history")
	}
	fmt.Printf("✅ Marked %d interrupted operation(s) as failed\n", n)

	if cleanupBundles {
		dir := filepath.Join(cfg.WorkDir, "ventoy")
		if err := os.RemoveAll(dir); err != nil {
			return errors.Wrap(err, "failed to remove bundle cache")
		}
		fmt.Printf("🗑️  Removed bundle cache %s\n", dir)
	}

	return nil
}

func cleanupMounts(ctx context.Context, mounter blockdev.Mounter, root string) error {
	fmt.Println("🔍 Scanning for dangling mounts...")

	mounts, err := blockdev.MountTable{}.MountsUnder(ctx, root)
	if err != nil {
		return err
	}

	var failed []string
	for _, m := range mounts {
		if err := mounter.Unmount(ctx, m); err != nil {
			fmt.Printf("⚠️  Failed to unmount %s: %v\n", m, err)
			failed = append(failed, m)
			continue
		}
		fmt.Printf("✅ Unmounted: %s\n", m)
	}

	// Leftover mount points that are no longer mounted.
	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to read mount dir")
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "ventoy-") {
			continue
		}
		path := filepath.Join(root, e.Name())
		if mounted, err := mounter.IsMounted(ctx, path); err != nil || mounted {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	fmt.Printf("🗑️  Removed %d stale mount point(s)\n", removed)

	if len(failed) > 0 {
		return fmt.Errorf("%d mount(s) still active: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}
