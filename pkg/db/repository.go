package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/piprov/piprov/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for the image cache index and run history
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Debug("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// RecordImage inserts or updates the record for img.Filename.
func (r *Repository) RecordImage(img *Image) error {
	slog.Debug("database_record_image", "filename", img.Filename, "state", img.State)

	query := `
		INSERT INTO images (filename, variant, sha256, state, path, size)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
		    variant = excluded.variant,
		    sha256 = CASE WHEN excluded.sha256 = '' THEN images.sha256 ELSE excluded.sha256 END,
		    state = excluded.state,
		    path = excluded.path,
		    size = excluded.size,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.Exec(query, img.Filename, img.Variant, img.SHA256, img.State, img.Path, img.Size)
	if err != nil {
		slog.Error("database_record_image_failed", "filename", img.Filename, "error", err)
		return errors.Wrap(err, "failed to record image")
	}
	return nil
}

// GetImage retrieves an image by filename. It returns nil, nil when absent.
func (r *Repository) GetImage(filename string) (*Image, error) {
	query := `
		SELECT id, filename, variant, sha256, state, path, size, created_at, updated_at
		FROM images WHERE filename = ?
	`
	var img Image
	err := r.db.QueryRow(query, filename).Scan(
		&img.ID, &img.Filename, &img.Variant, &img.SHA256, &img.State,
		&img.Path, &img.Size, &img.CreatedAt, &img.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		slog.Error("database_query_failed", "filename", filename, "error", err)
		return nil, errors.Wrap(err, "failed to query image")
	}
	return &img, nil
}

// ListImages retrieves all image records, newest first
func (r *Repository) ListImages() ([]*Image, error) {
	query := `
		SELECT id, filename, variant, sha256, state, path, size, created_at, updated_at
		FROM images ORDER BY updated_at DESC, id DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list images")
	}
	defer rows.Close()

	var images []*Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(
			&img.ID, &img.Filename, &img.Variant, &img.SHA256, &img.State,
			&img.Path, &img.Size, &img.CreatedAt, &img.UpdatedAt); err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		images = append(images, &img)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return images, nil
}

// DeleteImage removes the record for filename
func (r *Repository) DeleteImage(filename string) error {
	slog.Info("database_delete_image", "filename", filename)

	if _, err := r.db.Exec(`DELETE FROM images WHERE filename = ?`, filename); err != nil {
		slog.Error("database_delete_failed", "filename", filename, "error", err)
		return errors.Wrap(err, "failed to delete image")
	}
	return nil
}

// CreateRun inserts a running provisioning run
func (r *Repository) CreateRun(run *Run) error {
	slog.Debug("database_create_run", "run_id", run.ID, "variant", run.Variant)

	if run.Status == "" {
		run.Status = RunRunning
	}
	query := `INSERT INTO runs (id, variant, device, hostname, status) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.Exec(query, run.ID, run.Variant, run.Device, run.Hostname, run.Status); err != nil {
		slog.Error("database_insert_run_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}
	return nil
}

// UpdateRunTarget records the device and hostname once they are known
func (r *Repository) UpdateRunTarget(id, device, hostname string) error {
	query := `UPDATE runs SET device = ?, hostname = ? WHERE id = ?`
	if _, err := r.db.Exec(query, device, hostname, id); err != nil {
		return errors.Wrap(err, "failed to update run")
	}
	return nil
}

// FinishRun stores the terminal status of a run
func (r *Repository) FinishRun(id, status, errorMessage, address string) error {
	slog.Debug("database_finish_run", "run_id", id, "status", status)

	query := `
		UPDATE runs SET status = ?, error_message = ?, address = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query, status, errorMessage, address, id)
	if err != nil {
		slog.Error("database_finish_run_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to finish run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("run not found: id=%s", id)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first
func (r *Repository) ListRuns(limit int) ([]*Run, error) {
	query := `
		SELECT id, variant, device, hostname, status, error_message, address,
		       started_at, COALESCE(finished_at, '')
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		slog.Error("database_list_runs_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Variant, &run.Device, &run.Hostname, &run.Status,
			&run.ErrorMessage, &run.Address, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return runs, nil
}
