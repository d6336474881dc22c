package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"devac/internal/logging"
	"devac/internal/schema"
)

// DurabilityUncertain reports that the renames landed but the directory
// fsync failed. The data is probably on disk but a crash right now could
// lose it; that uncertainty is fatal and always surfaced, never swallowed.
type DurabilityUncertain struct {
	Dir string
	Err error
}

func (e *DurabilityUncertain) Error() string {
	return fmt.Sprintf("durability uncertain: fsync of %s failed after rename: %v", e.Dir, e.Err)
}

func (e *DurabilityUncertain) Unwrap() error { return e.Err }

// Store manages partition directories under a single root. The write path
// is the pipeline's only synchronization point; everything upstream and
// downstream of it is pure.
type Store struct {
	root        string
	repo        string
	lockTimeout time.Duration
	lockRetry   time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long Write waits for the partition lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithLockRetry sets the poll interval while waiting for the lock.
func WithLockRetry(d time.Duration) Option {
	return func(s *Store) { s.lockRetry = d }
}

// New creates a Store rooted at root for the given repo.
func New(root, repo string, opts ...Option) *Store {
	s := &Store{
		root:        root,
		repo:        repo,
		lockTimeout: 10 * time.Second,
		lockRetry:   50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PartitionDir returns the directory for one package/branch partition.
func (s *Store) PartitionDir(pkg, branch string) string {
	return filepath.Join(s.root, sanitize(pkg), sanitize(branch))
}

// sanitize keeps partition path components filesystem-safe.
func sanitize(component string) string {
	if component == "" {
		return "_"
	}
	out := []rune(component)
	for i, r := range out {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			out[i] = '_'
		}
	}
	return string(out)
}

// Write commits one batch to a partition using the atomic protocol:
// lock, merge in memory, serialize to temp files, rename, fsync the
// directory, unlock. Either every relation reflects the batch or none
// does; a crashed or cancelled write leaves only ignorable *.tmp files.
func (s *Store) Write(ctx context.Context, pkg, branch string, batch *WriteBatch) error {
	timer := logging.StartTimer(logging.CategoryStore, "partition write")
	defer timer.StopWithThreshold(2 * time.Second)

	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid write batch: %w", err)
	}

	dir := s.PartitionDir(pkg, branch)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}

	// Step 1: exclusive lock scoped to the partition directory.
	lock, err := acquireLock(ctx, dir, s.lockTimeout, s.lockRetry)
	if err != nil {
		return err
	}
	defer lock.release()

	// Step 2: materialize the merged relation set in memory. Nothing on
	// disk changes yet, so cancellation up to the rename step is free.
	current, err := s.readSnapshotDir(dir)
	if err != nil {
		return fmt.Errorf("read current partition: %w", err)
	}
	merged := mergeBatch(current, batch)
	merged.Meta = Meta{
		FormatVersion: FormatVersion,
		Repo:          s.repo,
		Package:       pkg,
		Branch:        branch,
		WriteID:       uuid.NewString(),
		UpdatedAt:     time.Now().UTC(),
		RowCounts: map[string]int{
			relEntities:     len(merged.Entities),
			relEdges:        len(merged.Edges),
			relEffects:      len(merged.Effects),
			relExternalRefs: len(merged.ExternalRefs),
		},
		SourceHashes: mergedHashes(current.Meta.SourceHashes, batch),
	}
	sortSnapshot(merged)

	if err := ctx.Err(); err != nil {
		return err
	}

	// Step 3: serialize everything to temp files beside the final paths.
	files, err := s.serializeSnapshot(dir, merged)
	if err != nil {
		removeAll(files.temps())
		return err
	}

	if err := ctx.Err(); err != nil {
		removeAll(files.temps())
		return err
	}

	// Step 4: atomic renames. Relations first, meta last, so the meta
	// write id never points at files that are not in place yet.
	for _, f := range files.ordered() {
		if err := os.Rename(f.tmp, f.final); err != nil {
			removeAll(files.temps())
			return fmt.Errorf("rename %s: %w", f.final, err)
		}
	}

	// Step 5: make the renames durable.
	if err := syncDir(dir); err != nil {
		return &DurabilityUncertain{Dir: dir, Err: err}
	}

	logging.Store("wrote partition %s/%s: %d entities, %d edges, %d effects, %d refs",
		pkg, branch, len(merged.Entities), len(merged.Edges), len(merged.Effects), len(merged.ExternalRefs))
	return nil
}

// mergeBatch replaces every row belonging to the batch's files with the
// batch's rows and keeps everything else. Records are never mutated; a
// superseded row is simply absent from the next file set.
func mergeBatch(current *Snapshot, batch *WriteBatch) *Snapshot {
	replaced := make(map[string]bool, len(batch.Files))
	for _, f := range batch.Files {
		replaced[f] = true
	}

	out := &Snapshot{}
	for _, e := range current.Entities {
		if !replaced[e.FilePath] {
			out.Entities = append(out.Entities, e)
		}
	}
	for _, e := range current.Edges {
		if !replaced[e.SourceFilePath] {
			out.Edges = append(out.Edges, e)
		}
	}
	for _, e := range current.Effects {
		if !replaced[e.SourceFilePath] {
			out.Effects = append(out.Effects, e)
		}
	}
	for _, e := range current.ExternalRefs {
		if !replaced[e.SourceFilePath] {
			out.ExternalRefs = append(out.ExternalRefs, e)
		}
	}

	out.Entities = append(out.Entities, batch.Entities...)
	out.Edges = append(out.Edges, batch.Edges...)
	out.Effects = append(out.Effects, batch.Effects...)
	out.ExternalRefs = append(out.ExternalRefs, batch.ExternalRefs...)
	return out
}

func mergedHashes(current map[string]string, batch *WriteBatch) map[string]string {
	out := make(map[string]string, len(current)+len(batch.SourceHashes))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range batch.SourceHashes {
		out[k] = v
	}
	return out
}

// fileSet tracks the temp and final path of every file one write produces.
type fileSet struct {
	relations []tmpFinal
	meta      tmpFinal
}

type tmpFinal struct {
	tmp   string
	final string
}

func (fs *fileSet) ordered() []tmpFinal {
	out := make([]tmpFinal, 0, len(fs.relations)+1)
	out = append(out, fs.relations...)
	out = append(out, fs.meta)
	return out
}

func (fs *fileSet) temps() []string {
	var out []string
	for _, f := range fs.ordered() {
		out = append(out, f.tmp)
	}
	return out
}

// serializeSnapshot writes every relation segment and the meta descriptor
// to *.tmp files and returns the rename plan.
func (s *Store) serializeSnapshot(dir string, snap *Snapshot) (*fileSet, error) {
	writeID := snap.Meta.WriteID
	fs := &fileSet{}

	write := func(relation string, seg *segment, err error) error {
		if err != nil {
			return err
		}
		data, err := marshalSegment(seg)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", relation, err)
		}
		final := filepath.Join(dir, relation+".col.json")
		tmp := final + ".tmp"
		if err := writeFileSync(tmp, data); err != nil {
			return fmt.Errorf("write %s: %w", tmp, err)
		}
		fs.relations = append(fs.relations, tmpFinal{tmp: tmp, final: final})
		return nil
	}

	seg, err := encodeSegment(relEntities, writeID, snap.Entities)
	if err := write(relEntities, seg, err); err != nil {
		return fs, err
	}
	seg, err = encodeSegment(relEdges, writeID, snap.Edges)
	if err := write(relEdges, seg, err); err != nil {
		return fs, err
	}
	seg, err = encodeSegment(relEffects, writeID, snap.Effects)
	if err := write(relEffects, seg, err); err != nil {
		return fs, err
	}
	seg, err = encodeSegment(relExternalRefs, writeID, snap.ExternalRefs)
	if err := write(relExternalRefs, seg, err); err != nil {
		return fs, err
	}

	metaData, err := marshalMeta(snap.Meta)
	if err != nil {
		return fs, err
	}
	final := filepath.Join(dir, metaFile)
	tmp := final + ".tmp"
	if err := writeFileSync(tmp, metaData); err != nil {
		return fs, fmt.Errorf("write %s: %w", tmp, err)
	}
	fs.meta = tmpFinal{tmp: tmp, final: final}
	return fs, nil
}

// writeFileSync writes data and fsyncs the file itself so the later rename
// publishes fully-written content.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir fsyncs a directory so completed renames survive a crash.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func removeAll(paths []string) {
	for _, p := range paths {
		if p != "" {
			os.Remove(p)
		}
	}
}

var _ schema.Handler[*WriteBatch, EffectRecord, struct{}] = (*storeHandler)(nil)

// storeHandler adapts a Store to the handler contract for one partition:
// the partition file set is the state, the incoming effect records are the
// input, and no output effects are emitted because the store is terminal.
type storeHandler struct {
	store  *Store
	pkg    string
	branch string
}

// NewHandler returns the terminal persistence handler for a partition.
func (s *Store) NewHandler(pkg, branch string) schema.Handler[*WriteBatch, EffectRecord, struct{}] {
	return &storeHandler{store: s, pkg: pkg, branch: branch}
}

func (h *storeHandler) Name() string { return "store" }

func (h *storeHandler) Handle(ctx context.Context, state *WriteBatch, in []EffectRecord) (*WriteBatch, []struct{}, error) {
	if state == nil {
		state = &WriteBatch{}
	}
	state.Effects = append(state.Effects, in...)
	if err := h.store.Write(ctx, h.pkg, h.branch, state); err != nil {
		return state, nil, err
	}
	return state, nil, nil
}
