package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"devac/internal/logging"
	"devac/internal/schema"
)

// QueryEngine serves filtered queries over one or more partition snapshots
// through an in-memory SQLite database. It is read-only with respect to the
// partitions: it loads the last durable snapshot and never takes the write
// lock, so it can run concurrently with any writer.
//
// When both a base and a branch snapshot are loaded, branch rows shadow
// base rows per source file: a file re-extracted on the branch contributes
// only its branch rows.
type QueryEngine struct {
	db *sql.DB
}

// NewQueryEngine opens an empty in-memory engine.
func NewQueryEngine() (*QueryEngine, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open query db: %w", err)
	}
	if _, err := db.Exec(querySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create query schema: %w", err)
	}
	return &QueryEngine{db: db}, nil
}

// Close releases the underlying database.
func (q *QueryEngine) Close() error { return q.db.Close() }

const querySchema = `
CREATE TABLE effects (
	effect_id      TEXT PRIMARY KEY,
	effect_type    TEXT NOT NULL,
	timestamp      TEXT NOT NULL,
	source_entity  TEXT,
	file_path      TEXT,
	line           INTEGER,
	col            INTEGER,
	branch         TEXT,
	callee         TEXT,
	qualified_name TEXT,
	target         TEXT,
	construct_kind TEXT,
	is_method      INTEGER,
	is_async       INTEGER,
	is_constructor INTEGER,
	is_external    INTEGER,
	argument_count INTEGER
);
CREATE INDEX idx_effects_type ON effects(effect_type);
CREATE INDEX idx_effects_file ON effects(file_path);
CREATE INDEX idx_effects_callee ON effects(callee);

CREATE TABLE entities (
	entity_id      TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	name           TEXT,
	qualified_name TEXT,
	file_path      TEXT,
	start_line     INTEGER,
	end_line       INTEGER
);
CREATE INDEX idx_entities_kind ON entities(kind);

CREATE TABLE edges (
	edge_id        TEXT PRIMARY KEY,
	edge_type      TEXT NOT NULL,
	source_entity  TEXT,
	target_entity  TEXT,
	file_path      TEXT,
	callee         TEXT
);
CREATE INDEX idx_edges_type ON edges(edge_type);
`

// LoadPartition loads a base snapshot and an optional branch snapshot into
// the engine, applying per-file branch shadowing.
func (q *QueryEngine) LoadPartition(base *Snapshot, branch *Snapshot) error {
	timer := logging.StartTimer(logging.CategoryStore, "query engine load")
	defer timer.Stop()

	shadowed := make(map[string]bool)
	if branch != nil {
		for f := range branch.Meta.SourceHashes {
			shadowed[f] = true
		}
	}

	tx, err := q.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	load := func(snap *Snapshot, skipShadowed bool) error {
		for _, e := range snap.Effects {
			if skipShadowed && shadowed[e.SourceFilePath] {
				continue
			}
			if err := insertEffect(tx, e); err != nil {
				return err
			}
		}
		for _, e := range snap.Entities {
			if skipShadowed && shadowed[e.FilePath] {
				continue
			}
			if err := insertEntity(tx, e); err != nil {
				return err
			}
		}
		for _, e := range snap.Edges {
			if skipShadowed && shadowed[e.SourceFilePath] {
				continue
			}
			if err := insertEdge(tx, e); err != nil {
				return err
			}
		}
		return nil
	}

	if err := load(base, branch != nil); err != nil {
		return err
	}
	if branch != nil {
		if err := load(branch, false); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertEffect(tx *sql.Tx, e EffectRecord) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO effects
		(effect_id, effect_type, timestamp, source_entity, file_path, line, col, branch,
		 callee, qualified_name, target, construct_kind,
		 is_method, is_async, is_constructor, is_external, argument_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EffectID, string(e.EffectType), e.Timestamp.Format(time.RFC3339Nano),
		e.SourceEntityID, e.SourceFilePath, e.SourceLine, e.SourceColumn, e.Branch,
		e.Callee, e.QualifiedName, e.Target, e.ConstructKind,
		boolInt(e.IsMethod), boolInt(e.IsAsync), boolInt(e.IsConstructor), boolInt(e.IsExternal),
		e.ArgumentCount)
	return err
}

func insertEntity(tx *sql.Tx, e schema.Entity) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO entities
		(entity_id, kind, name, qualified_name, file_path, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EntityID, e.Kind, e.Name, e.QualifiedName, e.FilePath, e.StartLine, e.EndLine)
	return err
}

func insertEdge(tx *sql.Tx, e schema.Edge) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO edges
		(edge_id, edge_type, source_entity, target_entity, file_path, callee)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.EdgeID, e.EdgeType, e.SourceEntityID, e.TargetEntityID, e.SourceFilePath, e.Callee)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EffectFilter narrows an effect query. Zero values match everything.
type EffectFilter struct {
	EffectType    schema.EffectType
	FilePath      string
	CalleePattern string // SQL LIKE pattern against callee
	Branch        string
}

// EffectSummary is one row of a query result.
type EffectSummary struct {
	EffectID       string
	EffectType     schema.EffectType
	SourceEntityID string
	FilePath       string
	Line           int
	Column         int
	Callee         string
	Target         string
}

// Effects returns effects matching the filter, ordered by file then
// position.
func (q *QueryEngine) Effects(filter EffectFilter) ([]EffectSummary, error) {
	query := `SELECT effect_id, effect_type, source_entity, file_path, line, col, callee, target
		FROM effects WHERE 1=1`
	var args []any
	if filter.EffectType != "" {
		query += " AND effect_type = ?"
		args = append(args, string(filter.EffectType))
	}
	if filter.FilePath != "" {
		query += " AND file_path = ?"
		args = append(args, filter.FilePath)
	}
	if filter.CalleePattern != "" {
		query += " AND callee LIKE ?"
		args = append(args, filter.CalleePattern)
	}
	if filter.Branch != "" {
		query += " AND branch = ?"
		args = append(args, filter.Branch)
	}
	query += " ORDER BY file_path, line, col"

	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EffectSummary
	for rows.Next() {
		var s EffectSummary
		var typ string
		if err := rows.Scan(&s.EffectID, &typ, &s.SourceEntityID, &s.FilePath, &s.Line, &s.Column, &s.Callee, &s.Target); err != nil {
			return nil, err
		}
		s.EffectType = schema.EffectType(typ)
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountsByType returns how many effects of each type are loaded.
func (q *QueryEngine) CountsByType() (map[schema.EffectType]int, error) {
	rows, err := q.db.Query(`SELECT effect_type, COUNT(*) FROM effects GROUP BY effect_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[schema.EffectType]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[schema.EffectType(typ)] = n
	}
	return out, rows.Err()
}

// Callees returns the distinct callees of loaded call-bearing effects with
// their occurrence counts, most frequent first.
func (q *QueryEngine) Callees(limit int) (map[string]int, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.Query(`SELECT callee, COUNT(*) AS n FROM effects
		WHERE callee != '' GROUP BY callee ORDER BY n DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var callee string
		var n int
		if err := rows.Scan(&callee, &n); err != nil {
			return nil, err
		}
		out[callee] = n
	}
	return out, rows.Err()
}

// EntityCount returns the number of loaded entities.
func (q *QueryEngine) EntityCount() (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n)
	return n, err
}
