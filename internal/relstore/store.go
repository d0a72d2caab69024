// Package relstore is the indexed relational view (spec.md §4.4): a
// SQLite-backed, fully rebuildable projection of the markdown store and
// event log, queried by the retrieval engine and the CLI's verify path.
package relstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
)

// Store wraps the single SQLite connection backing the relational view.
// All writers funnel through mu so the event-sourced upsert semantics
// never interleave with a concurrent reindex reset.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, *errs.Error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "opening relational store", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one handle

	s := &Store{db: db, path: path}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.ensureSystemMemory(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) applySchema() *errs.Error {
	timer := logging.StartTimer(logging.CategoryRelStore, "apply-schema")
	defer timer.Stop()
	if _, err := s.db.Exec(schema); err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "applying schema", err)
	}
	return nil
}

func (s *Store) ensureSystemMemory() *errs.Error {
	now := model.UTCNow().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO memories(
			id, schema_version, created_at, updated_at, layer, kind, summary, body_md_path, body_text,
			tags_json, importance_score, confidence_score, stability_score, reuse_count, volatility_score,
			cred_refs_json, source_json, scope_json, integrity_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '[]', 0, 0, 0, 0, 0, '[]', '{}', '{}', '{}')`,
		model.SystemMemoryID, model.SchemaVersion, now, now, model.LayerArchive, model.KindSummary,
		"system memory anchor", "",
	)
	if err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "seeding system memory", err)
	}
	return nil
}

// ResetForReindex clears every event, ref and non-system memory row so a
// reindex from the event log starts from a known-empty state. Callers
// must re-seed via ReindexFromEnvelopes / UpsertEvent afterward.
func (s *Store) ResetForReindex(ctx context.Context) *errs.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "beginning reset tx", err)
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		"DELETE FROM memory_events",
		"DELETE FROM memory_refs",
		"DELETE FROM memories_fts",
		"DELETE FROM memories WHERE id != ?",
	} {
		arg := []any{}
		if stmt == "DELETE FROM memories WHERE id != ?" {
			arg = append(arg, model.SystemMemoryID)
		}
		if _, err := tx.Exec(stmt, arg...); err != nil {
			return errs.Wrap(errs.KindPermanentExternal, "resetting "+stmt, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "committing reset tx", err)
	}
	return nil
}

// UpsertMemory writes env and bodyText into memories, replaces its refs,
// and refreshes its memories_fts row.
func (s *Store) UpsertMemory(ctx context.Context, env model.Envelope, bodyText string) *errs.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "beginning upsert tx", err)
	}
	defer tx.Rollback()

	tagsJSON, _ := json.Marshal(env.Tags)
	credRefsJSON, _ := json.Marshal(env.CredRefs)
	sourceJSON, _ := json.Marshal(env.Source)
	scopeJSON, _ := json.Marshal(env.Scope)
	integrityJSON, _ := json.Marshal(env.Integrity)

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO memories(
			id, schema_version, created_at, updated_at, layer, kind, summary, body_md_path, body_text,
			tags_json, importance_score, confidence_score, stability_score, reuse_count, volatility_score,
			cred_refs_json, source_json, scope_json, integrity_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		env.ID, env.SchemaVersion, env.CreatedAt.UTC().Format(time.RFC3339), env.UpdatedAt.UTC().Format(time.RFC3339),
		env.Layer, env.Kind, env.Summary, env.BodyMDPath, bodyText,
		string(tagsJSON), env.Signals.Importance, env.Signals.Confidence, env.Signals.Stability,
		env.Signals.ReuseCount, env.Signals.Volatility,
		string(credRefsJSON), string(sourceJSON), string(scopeJSON), string(integrityJSON),
	)
	if err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "upserting memory row", err)
	}

	if _, err := tx.Exec("DELETE FROM memory_refs WHERE memory_id = ?", env.ID); err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "clearing refs", err)
	}
	for _, r := range env.Refs {
		if _, err := tx.Exec(
			"INSERT INTO memory_refs(memory_id, ref_type, target, note) VALUES (?, ?, ?, ?)",
			env.ID, r.Type, r.Target, r.Note,
		); err != nil {
			return errs.Wrap(errs.KindPermanentExternal, "inserting ref", err)
		}
	}

	if _, err := tx.Exec("DELETE FROM memories_fts WHERE id = ?", env.ID); err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "clearing fts row", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO memories_fts(id, summary, body_text) VALUES (?, ?, ?)",
		env.ID, env.Summary, bodyText,
	); err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "inserting fts row", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "committing upsert tx", err)
	}
	return nil
}

// UpsertEvent records evt in memory_events. memoryID falls back to the
// system memory when evt targets none, so the foreign key always holds.
func (s *Store) UpsertEvent(ctx context.Context, evt model.Event) *errs.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	memoryID := evt.MemoryID
	if memoryID == "" {
		memoryID = model.SystemMemoryID
	}
	payloadJSON, _ := json.Marshal(evt.Payload)
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO memory_events(event_id, event_type, event_time, memory_id, payload_json) VALUES (?, ?, ?, ?, ?)",
		evt.EventID, evt.EventType, evt.EventTime.UTC().Format(time.RFC3339), memoryID, string(payloadJSON),
	)
	if err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "upserting event row", err)
	}
	return nil
}

// UpsertLink writes or replaces one weighted edge.
func (s *Store) UpsertLink(ctx context.Context, e model.Edge) *errs.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO memory_links(src_id, dst_id, weight, kind) VALUES (?, ?, ?, ?)",
		e.SrcID, e.DstID, e.Weight, e.Kind,
	)
	if err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "upserting link", err)
	}
	return nil
}

// LinksFrom returns every outgoing edge from id with weight >= minWeight.
func (s *Store) LinksFrom(ctx context.Context, id string, minWeight float64) ([]model.Edge, *errs.Error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT src_id, dst_id, weight, kind FROM memory_links WHERE src_id = ? AND weight >= ?",
		id, minWeight,
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "querying links", err)
	}
	defer rows.Close()
	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		if err := rows.Scan(&e.SrcID, &e.DstID, &e.Weight, &e.Kind); err != nil {
			return nil, errs.Wrap(errs.KindPermanentExternal, "scanning link", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// UpsertCoreBlock writes or replaces one core block.
func (s *Store) UpsertCoreBlock(ctx context.Context, cb model.CoreBlock) *errs.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	linesJSON, _ := json.Marshal(cb.Lines)
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO core_blocks(project_id, session_id, name, lines_json, priority, topic) VALUES (?, ?, ?, ?, ?, ?)",
		cb.ProjectID, cb.SessionID, cb.Name, string(linesJSON), cb.Priority, cb.Topic,
	)
	if err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "upserting core block", err)
	}
	return nil
}

// CoreBlocksForScope returns up to limit core blocks for projectID (and,
// if non-empty, sessionID), ordered by descending priority.
func (s *Store) CoreBlocksForScope(ctx context.Context, projectID, sessionID string, limit int) ([]model.CoreBlock, *errs.Error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, session_id, name, lines_json, priority, topic FROM core_blocks
		 WHERE project_id = ? AND (session_id = '' OR session_id = ?)
		 ORDER BY priority DESC LIMIT ?`,
		projectID, sessionID, limit,
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "querying core blocks", err)
	}
	defer rows.Close()
	var out []model.CoreBlock
	for rows.Next() {
		var cb model.CoreBlock
		var linesJSON string
		if err := rows.Scan(&cb.ProjectID, &cb.SessionID, &cb.Name, &linesJSON, &cb.Priority, &cb.Topic); err != nil {
			return nil, errs.Wrap(errs.KindPermanentExternal, "scanning core block", err)
		}
		_ = json.Unmarshal([]byte(linesJSON), &cb.Lines)
		out = append(out, cb)
	}
	return out, nil
}

// GetMemory returns the full Memory row for id, or nil if absent.
func (s *Store) GetMemory(ctx context.Context, id string) (*model.Memory, *errs.Error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, schema_version, created_at, updated_at, layer, kind, summary, body_md_path, body_text,
		       tags_json, importance_score, confidence_score, stability_score, reuse_count, volatility_score,
		       cred_refs_json, source_json, scope_json, integrity_json
		FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "scanning memory", err)
	}
	return m, nil
}

func scanMemory(row *sql.Row) (*model.Memory, error) {
	var m model.Memory
	var tagsJSON, credRefsJSON, sourceJSON, scopeJSON, integrityJSON string
	var createdAt, updatedAt string
	if err := row.Scan(
		&m.ID, &m.SchemaVersion, &createdAt, &updatedAt, &m.Layer, &m.Kind, &m.Summary, &m.BodyMDPath, &m.BodyText,
		&tagsJSON, &m.Signals.Importance, &m.Signals.Confidence, &m.Signals.Stability, &m.Signals.ReuseCount, &m.Signals.Volatility,
		&credRefsJSON, &sourceJSON, &scopeJSON, &integrityJSON,
	); err != nil {
		return nil, err
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	_ = json.Unmarshal([]byte(credRefsJSON), &m.CredRefs)
	_ = json.Unmarshal([]byte(sourceJSON), &m.Source)
	_ = json.Unmarshal([]byte(scopeJSON), &m.Scope)
	_ = json.Unmarshal([]byte(integrityJSON), &m.Integrity)
	return &m, nil
}

// FTSHit is one full-text search result: a memory id plus its BM25 score
// (lower is more relevant, per SQLite's fts5 convention).
type FTSHit struct {
	ID    string
	Score float64
}

// SearchFTS runs a BM25-ranked full text match over summary+body_text,
// filtered to memories in projectID (and sessionID when non-empty),
// excluding kind=retrieve rows (spec.md §4.5 step 1).
func (s *Store) SearchFTS(ctx context.Context, query, projectID, sessionID string, limit int) ([]FTSHit, *errs.Error) {
	if query == "" {
		return nil, nil
	}
	sessionFilter := ""
	args := []any{query}
	if sessionID != "" {
		sessionFilter = "AND m.source_json LIKE '%' || ? || '%'"
		args = append(args, fmt.Sprintf(`"session_id":"%s"`, sessionID))
	}
	args = append(args, projectID, limit)

	q := fmt.Sprintf(`
		SELECT f.id, bm25(memories_fts) AS score
		FROM memories_fts f
		JOIN memories m ON m.id = f.id
		WHERE memories_fts MATCH ? %s
		  AND m.scope_json LIKE '%%' || ? || '%%'
		  AND m.kind != 'retrieve'
		ORDER BY score
		LIMIT ?`, sessionFilter)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "running fts search", err)
	}
	defer rows.Close()
	var out []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, errs.Wrap(errs.KindPermanentExternal, "scanning fts hit", err)
		}
		out = append(out, h)
	}
	return out, nil
}

// SubstringScan is the fallback path when FTS returns fewer than the
// configured floor (spec.md §4.5 step 1): a plain LIKE scan over summary.
func (s *Store) SubstringScan(ctx context.Context, term, projectID string, limit int) ([]string, *errs.Error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE kind != 'retrieve' AND scope_json LIKE '%' || ? || '%'
		 AND (summary LIKE '%' || ? || '%' OR body_text LIKE '%' || ? || '%') LIMIT ?`,
		projectID, term, term, limit,
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "running substring scan", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(errs.KindPermanentExternal, "scanning substring hit", err)
		}
		out = append(out, id)
	}
	return out, nil
}

// CountMemories returns the total row count, used by verify reports.
func (s *Store) CountMemories(ctx context.Context) (int, *errs.Error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n); err != nil {
		return 0, errs.Wrap(errs.KindPermanentExternal, "counting memories", err)
	}
	return n, nil
}
