package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/coherence/internal/models"
)

// FileRow represents a row in the files table.
type FileRow struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Records   int       `json:"records"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppendRecords inserts records into the log within a transaction and returns
// the ones that were not already present. A record is identified by its id
// and timestamp.
func (db *DB) AppendRecords(sourceFile string, records []models.Record) ([]models.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO records (id, ts, source_file, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("index: prepare record insert: %w", err)
	}
	defer stmt.Close()

	var inserted []models.Record
	for _, r := range records {
		body, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("index: encode record %q: %w", r.ID, err)
		}
		res, err := stmt.Exec(r.ID, r.Timestamp.UnixNano(), sourceFile, string(body))
		if err != nil {
			return nil, fmt.Errorf("index: insert record %q: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, r)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("index: commit: %w", err)
	}
	return inserted, nil
}

// Replay calls fn for every logged record in timestamp order, insertion order
// among equal timestamps. It stops at the first error fn returns.
func (db *DB) Replay(fn func(models.Record) error) error {
	rows, err := db.conn.Query(`SELECT body FROM records ORDER BY ts, seq`)
	if err != nil {
		return fmt.Errorf("index: replay: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return err
		}
		var r models.Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return fmt.Errorf("index: decode record: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// RecordCount returns the number of logged records.
func (db *DB) RecordCount() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: record count: %w", err)
	}
	return n, nil
}

// UpsertFile inserts or replaces a file row.
func (db *DB) UpsertFile(f FileRow) error {
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`
		INSERT INTO files (path, checksum, records, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum   = excluded.checksum,
			records    = excluded.records,
			updated_at = excluded.updated_at
	`, f.Path, f.Checksum, f.Records, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert file: %w", err)
	}
	return nil
}

// DeleteFile forgets a file. Its records stay in the log.
func (db *DB) DeleteFile(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete file: %w", err)
	}
	return nil
}

// GetChecksum returns the stored checksum for a file, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM files WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// ListFiles returns every indexed file ordered by path.
func (db *DB) ListFiles() ([]FileRow, error) {
	rows, err := db.conn.Query(`SELECT path, checksum, records, updated_at FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("index: list files: %w", err)
	}
	defer rows.Close()

	var out []FileRow
	for rows.Next() {
		var f FileRow
		if err := rows.Scan(&f.Path, &f.Checksum, &f.Records, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AllChecksums returns path → checksum for every indexed file.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM files`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}
