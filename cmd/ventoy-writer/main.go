package main

import (
	"log/slog"
	"os"

	"github.com/vwriter/ventoy-writer/cmd/ventoy-writer/commands"
)

func main() {
	// Initialize structured logger with text format for readability
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: commands.LogLevel,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
