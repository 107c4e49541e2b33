package fsm

// InstallRequest is the input of the ventoy-install machine.
type InstallRequest struct {
	RunID  string
	Device string
}

// InstallResponse accumulates across install transitions.
type InstallResponse struct {
	// From PrepareBundle
	BundleVersion string
	BundleDir     string

	// From ConfirmInstall
	DataPartition string

	Status       string
	ErrorMessage string
}

// WriteRequest is the input of the image-write machine.
type WriteRequest struct {
	RunID  string
	Device string
	Images []string
}

// WriteResponse accumulates across write transitions.
type WriteResponse struct {
	// From LocatePartition
	Partition string

	// From CopyImages
	MountPath string
	Copied    int
	Failed    int
	Skipped   int

	Status       string
	ErrorMessage string
}

// Machine names
const (
	MachineInstall = "ventoy-install"
	MachineWrite   = "image-write"
)

// State names
const (
	StatePrepareBundle   = "prepare_bundle"
	StateRunInstaller    = "run_installer"
	StateConfirmInstall  = "confirm_install"
	StateLocatePartition = "locate_partition"
	StateCopyImages      = "copy_images"
	StateComplete        = "complete"
	StateFailed          = "failed"
)

// Response statuses
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)
