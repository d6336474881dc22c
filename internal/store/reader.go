package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"devac/internal/logging"
	"devac/internal/schema"
)

// Read loads a partition snapshot without taking the write lock. Readers
// see the last durably-renamed file set; *.tmp files from an in-flight or
// crashed write are never touched. If a concurrent writer renames files
// while we are mid-read, the write ids between relations disagree and the
// read retries against the new snapshot.
func (s *Store) Read(pkg, branch string) (*Snapshot, error) {
	dir := s.PartitionDir(pkg, branch)

	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		snap, err := s.readSnapshotDir(dir)
		if err == nil {
			return snap, nil
		}
		if _, torn := err.(*tornReadError); !torn {
			return nil, err
		}
		lastErr = err
		logging.StoreDebug("torn read of %s, retrying (%d/%d)", dir, i+1, attempts)
		time.Sleep(10 * time.Millisecond)
	}
	return nil, fmt.Errorf("partition %s: %w", dir, lastErr)
}

// tornReadError marks a snapshot read that caught a writer mid-rename.
type tornReadError struct {
	detail string
}

func (e *tornReadError) Error() string { return "torn read: " + e.detail }

// readSnapshotDir reads every relation plus meta from dir. A missing
// partition is an empty snapshot, not an error.
func (s *Store) readSnapshotDir(dir string) (*Snapshot, error) {
	metaData, err := os.ReadFile(filepath.Join(dir, metaFile))
	if os.IsNotExist(err) {
		return &Snapshot{Meta: Meta{FormatVersion: FormatVersion, SourceHashes: map[string]string{}}}, nil
	}
	if err != nil {
		return nil, err
	}

	meta, err := unmarshalMeta(metaData)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", metaFile, err)
	}

	snap := &Snapshot{Meta: meta}

	entSeg, err := readSegment(dir, relEntities, meta)
	if err != nil {
		return nil, err
	}
	if snap.Entities, err = decodeSegment[schema.Entity](entSeg); err != nil {
		return nil, err
	}

	edgeSeg, err := readSegment(dir, relEdges, meta)
	if err != nil {
		return nil, err
	}
	if snap.Edges, err = decodeSegment[schema.Edge](edgeSeg); err != nil {
		return nil, err
	}

	effSeg, err := readSegment(dir, relEffects, meta)
	if err != nil {
		return nil, err
	}
	if snap.Effects, err = decodeSegment[EffectRecord](effSeg); err != nil {
		return nil, err
	}

	refSeg, err := readSegment(dir, relExternalRefs, meta)
	if err != nil {
		return nil, err
	}
	if snap.ExternalRefs, err = decodeSegment[schema.ExternalRef](refSeg); err != nil {
		return nil, err
	}

	return snap, nil
}

// readSegment loads one relation file and cross-checks it against the meta
// descriptor: same write id, same row count. A disagreement is a torn read.
func readSegment(dir, relation string, meta Meta) (*segment, error) {
	data, err := os.ReadFile(filepath.Join(dir, relation+".col.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &tornReadError{detail: relation + " missing while meta present"}
		}
		return nil, err
	}
	seg, err := unmarshalSegment(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", relation, err)
	}
	if seg.WriteID != meta.WriteID {
		return nil, &tornReadError{detail: fmt.Sprintf("%s write id %s != meta %s", relation, seg.WriteID, meta.WriteID)}
	}
	if expected, ok := meta.RowCounts[relation]; ok && expected != seg.RowCount {
		return nil, &tornReadError{detail: fmt.Sprintf("%s has %d rows, meta says %d", relation, seg.RowCount, expected)}
	}
	return seg, nil
}

// SourceHash returns the recorded content hash for a file in the partition,
// if any. Extraction uses it to skip unchanged files.
func (s *Store) SourceHash(pkg, branch, filePath string) (string, bool) {
	snap, err := s.Read(pkg, branch)
	if err != nil {
		return "", false
	}
	h, ok := snap.Meta.SourceHashes[filePath]
	return h, ok
}

func marshalMeta(meta Meta) ([]byte, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func unmarshalMeta(data []byte) (Meta, error) {
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}
