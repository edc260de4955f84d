package index

import (
	"log/slog"

	"github.com/starford/coherence/internal/ingest"
	"github.com/starford/coherence/internal/models"
	"github.com/starford/coherence/internal/storage"
)

// Sync walks the records directory and brings the index up to date:
//   - new/changed files are parsed and their records appended to the log
//   - files removed from disk are forgotten (their records stay logged)
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		added, err := IndexFile(db, m.Path, data)
		if err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path), slog.Int("new_records", len(added)))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteFile(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexFile parses data, appends its records to the log in timestamp order
// and stores the file checksum. It returns the records that were new.
func IndexFile(db RecordLog, path string, data []byte) ([]models.Record, error) {
	records, err := ingest.ParseFile(path, data)
	if err != nil {
		return nil, err
	}
	ingest.SortByTime(records)

	added, err := db.AppendRecords(path, records)
	if err != nil {
		return nil, err
	}
	if err := db.UpsertFile(FileRow{Path: path, Checksum: storage.Checksum(data), Records: len(records)}); err != nil {
		return nil, err
	}
	return added, nil
}
