package ventoy

const (
	// DefaultVersion is the Ventoy release fetched when none is configured.
	DefaultVersion = "1.1.05"

	// ReleaseURLTemplate is formatted with the version twice.
	ReleaseURLTemplate = "https://github.com/ventoy/Ventoy/releases/download/v%s/ventoy-%s-linux.tar.gz"

	// ScriptName is the installer entry point inside the bundle.
	ScriptName = "Ventoy2Disk.sh"

	// BundleDirPrefix names the top-level directory of the release tarball.
	BundleDirPrefix = "ventoy-"

	// AutoConfirm answers both of Ventoy2Disk.sh's "Continue? (y/n)" prompts.
	AutoConfirm = "y\ny\n"
)
