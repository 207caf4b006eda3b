package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lherron/exportmerge/internal/record"
)

// Load reads an export file and parses its records.
func Load(path string) ([]record.Record, *LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read export: %w", err)
	}

	records, err := Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse export %s: %w", path, err)
	}

	result := &LoadResult{
		Path:    path,
		Rev:     ComputeRev(data),
		Records: len(records),
		Models:  make(map[string]int),
	}
	for _, r := range records {
		result.Models[r.Model]++
	}

	return records, result, nil
}

// LoadStore reads an export file into an immutable store for source.
func LoadStore(source, path string) (*record.Store, *LoadResult, error) {
	records, result, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	return record.NewStore(source, records), result, nil
}

// Decode parses export bytes. Field numbers stay json.Number. Records of
// other models may carry any pk, which is written back as it was read.
func Decode(data []byte) ([]record.Record, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var records []record.Record
	if err := decoder.Decode(&records); err != nil {
		return nil, err
	}

	if err := validateRecords(records); err != nil {
		return nil, fmt.Errorf("invalid export: %w", err)
	}

	return records, nil
}

func validateRecords(records []record.Record) error {
	for i, r := range records {
		if r.Model == "" {
			return fmt.Errorf("record %d has no model", i)
		}
		if !r.HasPK() && record.IsReconciled(r.Model) {
			return fmt.Errorf("record %d (%s) needs an integer pk, got %q", i, r.Model, string(r.RawPK()))
		}
		if r.Fields == nil {
			return fmt.Errorf("record %d (%s pk=%d) has no fields", i, r.Model, r.PK)
		}
	}
	return nil
}
