package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vwriter/ventoy-writer/pkg/copier"
)

var writeCmd = &cobra.Command{
	Use:   "write <device> <image.iso>...",
	Short: "Copy ISO images onto a Ventoy device",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
}

func runWrite(cmd *cobra.Command, args []string) error {
	device, paths := args[0], args[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.scanAndSelect(ctx, device); err != nil {
		return err
	}

	runErr := a.run(ctx, func() error { return a.ctrl.WriteImages(ctx, device, paths) })

	if report := a.ctrl.Snapshot().LastReport; report != nil {
		printReport(report)
	}
	return runErr
}

func printReport(r *copier.Report) {
	fmt.Printf("\n%-40s %-8s %-10s %s\n", "IMAGE", "STATUS", "SIZE", "ERROR")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, o := range r.Outcomes {
		msg := "-"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		fmt.Printf("%-40s %-8s %-10s %s\n", o.Image.Name, o.Status, humanize.IBytes(uint64(o.Bytes)), msg)
	}
	fmt.Printf("\n%s in %s\n", r.Summary(), r.Duration.Round(time.Second))
}
