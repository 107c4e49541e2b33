package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vwriter/ventoy-writer/pkg/blockdev"
	"github.com/vwriter/ventoy-writer/pkg/errors"
)

var devicesProbe bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List USB devices that can be written",
	RunE:  runDevices,
}

var probeCmd = &cobra.Command{
	Use:   "probe <device>",
	Short: "Report whether Ventoy is installed on a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(probeCmd)
	devicesCmd.Flags().BoolVar(&devicesProbe, "probe", false, "Probe each device for Ventoy")
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	devices, err := a.lister.List(ctx)
	if err != nil {
		return errors.Wrap(err, "device scan failed")
	}

	if len(devices) == 0 {
		fmt.Println("No USB devices found")
		return nil
	}

	fmt.Printf("%-14s %-10s %-32s %-18s %s\n", "DEVICE", "SIZE", "MODEL", "STATUS", "PARTITIONS")
	fmt.Println("----------------------------------------------------------------------------------------------")

	for _, d := range devices {
		status := blockdev.StatusUnknown
		if devicesProbe {
			if res, err := a.prober.Probe(ctx, d.Path); err == nil {
				status = res.Status()
			}
		}

		model := strings.TrimSpace(d.Vendor + " " + d.Model)
		if model == "" {
			model = "-"
		}
		parts := make([]string, 0, len(d.Partitions))
		for _, p := range d.Partitions {
			label := p.Label
			if label == "" {
				label = p.Name
			}
			parts = append(parts, label)
		}

		fmt.Printf("%-14s %-10s %-32s %-18s %s\n",
			d.Path, humanize.Bytes(d.Size), model, status, strings.Join(parts, ","))
	}

	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	device := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.prober.Probe(ctx, device)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", device, res.Status())
	if res.Data != nil {
		fmt.Printf("  data partition: %s (%s, %s)\n", res.Data.Path, res.Data.FSType, humanize.Bytes(res.Data.Size))
	}
	if res.EFI != nil {
		fmt.Printf("  EFI partition:  %s\n", res.EFI.Path)
	}
	return nil
}
