package blockdev

// Defaults for device discovery and mounting.
const (
	// DefaultLsblk is the lsblk binary looked up on PATH
	DefaultLsblk = "lsblk"
	// DefaultFilesystem is the filesystem Ventoy formats its data partition with
	DefaultFilesystem = "exfat"
	// MinDeviceSize filters out card readers with no media (10MB)
	MinDeviceSize = 10 * 1024 * 1024
	// VentoyEFILabel is the label of the small EFI partition Ventoy creates
	VentoyEFILabel = "VTOYEFI"
	// VentoyLabelMarker is matched case-insensitively against partition labels
	VentoyLabelMarker = "ventoy"
)

// lsblkColumns is the column set requested from lsblk.
var lsblkColumns = "NAME,PATH,SIZE,TYPE,TRAN,RM,HOTPLUG,MODEL,VENDOR,LABEL,FSTYPE,MOUNTPOINT"
