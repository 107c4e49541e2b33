package db

// Schema defines the SQLite history schema: one row per install or write
// operation and one row per image a write touched.
const Schema = `
CREATE TABLE IF NOT EXISTS operations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL CHECK(kind IN ('install', 'write')),
    device TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('running', 'succeeded', 'failed', 'cancelled')),
    error_kind TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
CREATE INDEX IF NOT EXISTS idx_operations_device ON operations(device);
CREATE INDEX IF NOT EXISTS idx_operations_created_at ON operations(created_at);

CREATE TABLE IF NOT EXISTS image_copies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id INTEGER NOT NULL REFERENCES operations(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    image_path TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('copied', 'failed', 'skipped')),
    bytes INTEGER NOT NULL DEFAULT 0,
    sha256 TEXT,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_image_copies_operation ON image_copies(operation_id);
`

// Operation kinds
const (
	KindInstall = "install"
	KindWrite   = "write"
)

// Operation status constants
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Operation is one install or write run against a device.
type Operation struct {
	ID           int64
	RunID        string
	Kind         string
	Device       string
	Status       string
	ErrorKind    string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}

// ImageCopy is the outcome of one image within a write operation.
type ImageCopy struct {
	ID           int64
	OperationID  int64
	Position     int
	ImagePath    string
	Status       string
	Bytes        int64
	SHA256       string
	ErrorMessage string
}
