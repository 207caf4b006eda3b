package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/lherron/exportmerge/internal/record"
)

// Encode produces a deterministic JSON encoding of records:
// - Record order is preserved
// - Keys inside fields are sorted lexicographically
// - HTML characters are not escaped
// - No trailing newline
func Encode(records []record.Record, opts Options) ([]byte, error) {
	if records == nil {
		records = []record.Record{}
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if !opts.Canonical {
		indent := opts.Indent
		if indent == "" {
			indent = "  "
		}
		encoder.SetIndent("", indent)
	}

	if err := encoder.Encode(records); err != nil {
		return nil, fmt.Errorf("failed to encode records: %w", err)
	}

	// Remove trailing newline added by Encode
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}

	return result, nil
}

// ComputeRev computes the sha256 hash of encoded bytes.
// Returns "sha256:<hex>" format.
func ComputeRev(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// CanonicalValue encodes a single field value compactly, for value equality
// checks that must not depend on Go types (json.Number vs float64, map order).
func CanonicalValue(v any) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
