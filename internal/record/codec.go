package record

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type wireRecord struct {
	Model  string          `json:"model"`
	PK     json.RawMessage `json:"pk,omitempty"`
	Fields map[string]any  `json:"fields"`
}

// MarshalJSON writes the record in fixture order (model, pk, fields). HTML
// characters in field values are not escaped.
func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{Model: r.Model, PK: r.rawPK, Fields: r.Fields}
	if r.rawPK == nil {
		w.PK = json.RawMessage(strconv.FormatInt(r.PK, 10))
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(w); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON decodes a fixture record. Field numbers stay json.Number.
func (r *Record) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var w wireRecord
	if err := decoder.Decode(&w); err != nil {
		return err
	}

	*r = Record{Model: w.Model, Fields: w.Fields}
	if pk, err := strconv.ParseInt(string(w.PK), 10, 64); err == nil {
		r.PK = pk
		return nil
	}
	r.rawPK = append(json.RawMessage{}, w.PK...)
	return nil
}
