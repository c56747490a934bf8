package db

// Schema defines the SQLite database schema.
// images indexes the local image cache by filename; runs records one row
// per provisioning attempt.
const Schema = `
CREATE TABLE IF NOT EXISTS images (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    filename TEXT NOT NULL UNIQUE,
    variant TEXT NOT NULL,
    sha256 TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL CHECK(state IN ('absent', 'compressed-unverified', 'compressed-verified', 'decompressed')),
    path TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_images_state ON images(state);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    variant TEXT NOT NULL,
    device TEXT NOT NULL DEFAULT '',
    hostname TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL CHECK(status IN ('running', 'succeeded', 'failed', 'interrupted', 'declined')),
    error_message TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Cache states
const (
	StateAbsent               = "absent"
	StateCompressedUnverified = "compressed-unverified"
	StateCompressedVerified   = "compressed-verified"
	StateDecompressed         = "decompressed"
)

// Run statuses
const (
	RunRunning     = "running"
	RunSucceeded   = "succeeded"
	RunFailed      = "failed"
	RunInterrupted = "interrupted"
	RunDeclined    = "declined"
)

// Image is one cached image record
type Image struct {
	ID        int64
	Filename  string
	Variant   string
	SHA256    string
	State     string
	Path      string
	Size      int64
	CreatedAt string
	UpdatedAt string
}

// Run is one provisioning attempt
type Run struct {
	ID           string
	Variant      string
	Device       string
	Hostname     string
	Status       string
	ErrorMessage string
	Address      string
	StartedAt    string
	FinishedAt   string
}
