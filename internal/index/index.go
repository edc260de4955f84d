package index

import "github.com/starford/coherence/internal/models"

// RecordLog defines the record log and file index operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type RecordLog interface {
	AppendRecords(sourceFile string, records []models.Record) ([]models.Record, error)
	Replay(fn func(models.Record) error) error
	RecordCount() (int, error)
	UpsertFile(f FileRow) error
	DeleteFile(path string) error
	GetChecksum(path string) (string, error)
	ListFiles() ([]FileRow, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies RecordLog at compile time.
var _ RecordLog = (*DB)(nil)
