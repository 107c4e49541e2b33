package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/ui/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui [image.iso]...",
	Short: "Interactive terminal interface",
	RunE:  runUI,
}

func init() {
	rootCmd.AddCommand(uiCmd)
}

func runUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDirectories(cfg.SQLitePath, "", cfg.WorkDir); err != nil {
		return err
	}

	// The screen belongs to bubbletea; logs go to a file.
	logPath := filepath.Join(cfg.WorkDir, "ventoy-writer.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to open log file")
	}
	defer logFile.Close()

	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: LogLevel})))
	defer slog.SetDefault(previous)

	a, err := newApp(ctx, cfg, logFile)
	if err != nil {
		return err
	}
	defer a.Close()

	model := tui.InitialModel(ctx, a.ctrl, args)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return errors.Wrap(err, "ui failed")
	}

	// Let a write that was cancelled on quit unmount before exiting.
	a.ctrl.Wait(context.Background())
	return nil
}
