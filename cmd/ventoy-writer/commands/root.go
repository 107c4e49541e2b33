package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LogLevel is adjusted from the log-level setting once config is loaded.
var LogLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "ventoy-writer",
	Short: "Install Ventoy on USB drives and copy ISO images onto them",
	Long: `Detects USB drives, installs the Ventoy boot loader on them and copies ISO
images onto the Ventoy data partition. Use "ventoy-writer ui" for the
interactive terminal interface.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("sqlite-path", ".artifacts/history.db", "SQLite history database path")
	flags.String("fsm-db-path", ".artifacts/fsm", "FSM BoltDB directory")
	flags.String("work-dir", "/tmp/ventoy-writer", "Directory for bundles, mount points and logs")
	flags.String("ventoy-version", "1.1.05", "Ventoy release to install")
	flags.String("ventoy-url", "", "Override the Ventoy release download URL")
	flags.String("ventoy-sha256", "", "Expected SHA-256 of the Ventoy release archive")
	flags.String("mirror-bucket", "", "S3 bucket mirroring Ventoy releases")
	flags.String("mirror-key", "", "Object key of the release in the mirror bucket")
	flags.String("mirror-region", "us-east-1", "S3 region of the mirror bucket")
	flags.String("escalation", "pkexec", "Privilege escalation tool: pkexec, sudo or none")
	flags.String("filesystem", "exfat", "Filesystem of the Ventoy data partition")
	flags.Duration("install-timeout", 30*time.Minute, "Upper bound for the Ventoy installer")
	flags.Duration("copy-timeout", 4*time.Hour, "Upper bound for copying all images")
	flags.String("verify", "size", "Copy verification: size or sha256")
	flags.Bool("continue-on-error", false, "Keep copying remaining images after a failure")
	flags.Bool("strict-iso", true, "Only accept files with the .iso extension")
	flags.Bool("use-fsm", false, "Run install and write jobs through the persisted FSM engine")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.Int64("max-file-size", 512*1024*1024, "Max size of a single file in the Ventoy archive")
	flags.Int64("max-total-size", 2*1024*1024*1024, "Max extracted size of the Ventoy archive")
	flags.Float64("max-compression-ratio", 100.0, "Max compression ratio of the Ventoy archive (0 disables the check)")
	flags.Int("fsm-max-retries", 3, "Retries per FSM transition before a run is aborted")

	for _, name := range []string{
		"sqlite-path", "fsm-db-path", "work-dir",
		"ventoy-version", "ventoy-url", "ventoy-sha256",
		"mirror-bucket", "mirror-key", "mirror-region",
		"escalation", "filesystem", "verify",
		"install-timeout", "copy-timeout",
		"continue-on-error", "strict-iso", "use-fsm",
		"log-level", "max-file-size", "max-total-size",
		"max-compression-ratio", "fsm-max-retries",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}
