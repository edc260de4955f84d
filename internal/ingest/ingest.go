// Package ingest decodes and validates relational records from JSON Lines and
// YAML documents.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/coherence/internal/apperr"
	"github.com/starford/coherence/internal/models"
)

// Format is a record file encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// maxLineSize bounds a single JSON Lines record.
const maxLineSize = 4 << 20

// FormatFor returns the format implied by a file name's extension.
func FormatFor(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return "", false
}

// Supported reports whether name has a record file extension.
func Supported(name string) bool {
	_, ok := FormatFor(name)
	return ok
}

// ParseFile decodes the records in data using the format implied by name.
func ParseFile(name string, data []byte) ([]models.Record, error) {
	f, ok := FormatFor(name)
	if !ok {
		return nil, apperr.Errorf(apperr.KindInvalidInput, "ingest: parse", "unsupported file type %q", filepath.Ext(name))
	}
	return Parse(f, data)
}

// Parse decodes and validates every record in data. Errors name the
// offending line or document.
func Parse(f Format, data []byte) ([]models.Record, error) {
	const op = "ingest: parse"

	var (
		records []models.Record
		err     error
	)
	switch f {
	case FormatJSONL:
		records, err = parseJSONL(data)
	case FormatYAML:
		records, err = parseYAML(data)
	default:
		err = fmt.Errorf("unknown format %q", f)
	}
	if err != nil {
		return nil, apperr.E(apperr.KindInvalidInput, op, err)
	}
	for i := range records {
		if err := Validate(records[i]); err != nil {
			return nil, apperr.E(apperr.KindInvalidInput, op, fmt.Errorf("record %d (%q): %w", i+1, records[i].ID, err))
		}
	}
	return records, nil
}

// parseJSONL accepts one JSON object per line, or a single JSON array.
func parseJSONL(data []byte) ([]models.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []models.Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("json array: %w", err)
		}
		return records, nil
	}

	var records []models.Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var r models.Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}
	return records, nil
}

// parseYAML accepts a stream of documents, each either one record or a list
// of records.
func parseYAML(data []byte) ([]models.Record, error) {
	var records []models.Record
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for doc := 1; ; doc++ {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		if len(node.Content) == 0 {
			continue
		}
		body := node.Content[0]
		if body.Kind == yaml.SequenceNode {
			var batch []models.Record
			if err := body.Decode(&batch); err != nil {
				return nil, fmt.Errorf("document %d: %w", doc, err)
			}
			records = append(records, batch...)
			continue
		}
		var r models.Record
		if err := body.Decode(&r); err != nil {
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		records = append(records, r)
	}
}

// Validate checks a single record.
func Validate(r models.Record) error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required, validation.Length(1, 512)),
		validation.Field(&r.Timestamp, validation.Required),
	); err != nil {
		return err
	}
	for i, rel := range r.Relationships {
		if err := validation.ValidateStruct(&rel,
			validation.Field(&rel.TargetID, validation.Required, validation.Length(1, 512)),
			validation.Field(&rel.Weight, validation.By(finiteNonNegative)),
		); err != nil {
			return fmt.Errorf("relationship %d: %w", i+1, err)
		}
	}
	return nil
}

func finiteNonNegative(value any) error {
	w, _ := value.(float64)
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return errors.New("must be a finite non-negative number")
	}
	return nil
}

// SortByTime orders records by timestamp, keeping input order among equal
// timestamps.
func SortByTime(records []models.Record) {
	slices.SortStableFunc(records, func(a, b models.Record) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}
