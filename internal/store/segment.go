package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// segment is the on-disk column-oriented form of one relation: every column
// is a full-length vector, absent values are JSON null. The row count and
// schema fingerprint are self-describing so a reader can verify sibling
// consistency without trusting anything outside the file, and the write id
// ties the segment to the meta descriptor produced by the same write.
type segment struct {
	FormatVersion int                          `json:"format_version"`
	Relation      string                       `json:"relation"`
	WriteID       string                       `json:"write_id"`
	RowCount      int                          `json:"row_count"`
	Schema        string                       `json:"schema"`
	Columns       map[string][]json.RawMessage `json:"columns"`
}

var jsonNull = json.RawMessage("null")

// encodeSegment converts a slice of rows into a columnar segment. Rows pass
// through their JSON form, so the column set is the union of every row's
// present keys and encoding stays deterministic (Go serializes map keys in
// sorted order).
func encodeSegment[T any](relation, writeID string, rows []T) (*segment, error) {
	maps := make([]map[string]json.RawMessage, len(rows))
	columnSet := make(map[string]bool)

	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode %s row %d: %w", relation, i, err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("encode %s row %d: %w", relation, i, err)
		}
		maps[i] = m
		for k := range m {
			columnSet[k] = true
		}
	}

	names := make([]string, 0, len(columnSet))
	for k := range columnSet {
		names = append(names, k)
	}
	sort.Strings(names)

	columns := make(map[string][]json.RawMessage, len(names))
	for _, name := range names {
		vec := make([]json.RawMessage, len(rows))
		for i, m := range maps {
			if v, ok := m[name]; ok {
				vec[i] = v
			} else {
				vec[i] = jsonNull
			}
		}
		columns[name] = vec
	}

	return &segment{
		FormatVersion: FormatVersion,
		Relation:      relation,
		WriteID:       writeID,
		RowCount:      len(rows),
		Schema:        schemaFingerprint(names),
		Columns:       columns,
	}, nil
}

// decodeSegment converts a columnar segment back into rows. Every column
// vector must match the declared row count; a mismatch means the file was
// not produced by the atomic write protocol and is rejected.
func decodeSegment[T any](seg *segment) ([]T, error) {
	if err := seg.check(); err != nil {
		return nil, err
	}

	rows := make([]T, seg.RowCount)
	for i := 0; i < seg.RowCount; i++ {
		m := make(map[string]json.RawMessage, len(seg.Columns))
		for name, vec := range seg.Columns {
			if !bytes.Equal(vec[i], jsonNull) {
				m[name] = vec[i]
			}
		}
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("decode %s row %d: %w", seg.Relation, i, err)
		}
		if err := json.Unmarshal(data, &rows[i]); err != nil {
			return nil, fmt.Errorf("decode %s row %d: %w", seg.Relation, i, err)
		}
	}
	return rows, nil
}

// check validates the segment's internal consistency.
func (s *segment) check() error {
	if s.FormatVersion != FormatVersion {
		return fmt.Errorf("relation %s: unsupported format version %d", s.Relation, s.FormatVersion)
	}
	names := make([]string, 0, len(s.Columns))
	for name, vec := range s.Columns {
		if len(vec) != s.RowCount {
			return fmt.Errorf("relation %s: column %s has %d values, expected %d",
				s.Relation, name, len(vec), s.RowCount)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if got := schemaFingerprint(names); got != s.Schema {
		return fmt.Errorf("relation %s: schema fingerprint mismatch", s.Relation)
	}
	return nil
}

// schemaFingerprint hashes the sorted column names.
func schemaFingerprint(sortedNames []string) string {
	h := sha256.New()
	for _, n := range sortedNames {
		h.Write([]byte(n))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// marshalSegment renders a segment with a trailing newline.
func marshalSegment(seg *segment) ([]byte, error) {
	data, err := json.Marshal(seg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func unmarshalSegment(data []byte) (*segment, error) {
	var seg segment
	if err := json.Unmarshal(data, &seg); err != nil {
		return nil, err
	}
	return &seg, nil
}
