package commands

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vwriter/ventoy-writer/pkg/db"
	"github.com/vwriter/ventoy-writer/pkg/errors"
)

var (
	historyLimit int
	historyRun   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past install and write operations",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of operations to show")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Show the per-image results of one run")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	if historyRun != "" {
		return showRun(ctx, repo, historyRun)
	}

	ops, err := repo.List(ctx, historyLimit)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(ops) == 0 {
		fmt.Println("No operations recorded")
		return nil
	}

	fmt.Printf("%-38s %-8s %-12s %-10s %-20s %s\n", "RUN ID", "KIND", "DEVICE", "STATUS", "STARTED", "ERROR")
	fmt.Println("----------------------------------------------------------------------------------------------------------")

	for _, op := range ops {
		errMsg := op.ErrorKind
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Printf("%-38s %-8s %-12s %-10s %-20s %s\n",
			op.RunID, op.Kind, op.Device, op.Status, op.CreatedAt, errMsg)
	}

	return nil
}

func showRun(ctx context.Context, repo *db.Repository, runID string) error {
	op, err := repo.GetByRunID(ctx, runID)
	if err != nil {
		return errors.Wrap(err, "lookup failed")
	}
	if op == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	fmt.Printf("%s %s on %s: %s\n", op.Kind, op.RunID, op.Device, op.Status)
	if op.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", op.ErrorMessage)
	}

	copies, err := repo.Copies(ctx, op.ID)
	if err != nil {
		return errors.Wrap(err, "copies lookup failed")
	}
	for _, c := range copies {
		line := fmt.Sprintf("  %d. %s %s (%s)", c.Position+1, c.Status, c.ImagePath, humanize.IBytes(uint64(c.Bytes)))
		if c.ErrorMessage != "" {
			line += ": " + c.ErrorMessage
		}
		fmt.Println(line)
	}
	return nil
}
