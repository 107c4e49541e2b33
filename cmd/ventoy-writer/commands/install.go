package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var installYes bool

var installCmd = &cobra.Command{
	Use:   "install <device>",
	Short: "Install Ventoy on a USB device (erases it)",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().BoolVarP(&installYes, "yes", "y", false, "Do not ask for confirmation")
}

func runInstall(cmd *cobra.Command, args []string) error {
	device := args[0]

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

	d := a.ctrl.Snapshot().Device
	if !installYes && !confirm(fmt.Sprintf("Install Ventoy on %s? ALL DATA WILL BE ERASED.", d.DisplayName())) {
		fmt.Println("Aborted")
		return nil
	}

	if err := a.run(ctx, func() error { return a.ctrl.InstallVentoy(ctx, device) }); err != nil {
		return err
	}

	fmt.Printf("Ventoy installed on %s\n", device)
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
