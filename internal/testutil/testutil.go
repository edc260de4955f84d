// Package testutil provides shared test helpers for record directories, record
// logs and record fixtures.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/starford/coherence/internal/index"
	"github.com/starford/coherence/internal/models"
	"github.com/starford/coherence/internal/storage"
)

// Epoch is the reference time for fixture records.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// TestDB creates a temporary SQLite record log that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "coherence-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRecords creates a temporary records directory with a storage.Provider.
func TestRecords(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Record builds a record at Epoch+offset linking id to each target with weight 1.
func Record(id string, offset time.Duration, targets ...string) models.Record {
	r := models.Record{ID: id, Timestamp: Epoch.Add(offset)}
	for _, tgt := range targets {
		r.Relationships = append(r.Relationships, models.Relationship{TargetID: tgt, Weight: 1})
	}
	return r
}
