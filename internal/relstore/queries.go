package relstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"omnimem/internal/errs"
	"omnimem/internal/model"
)

// ListScope returns memories in projectID (and sessionID, when non-empty),
// oldest-updated first, optionally excluding the archive layer and the
// system anchor row. Used by the lifecycle governor's maintenance passes,
// which never touch retrieve-kind trace rows.
func (s *Store) ListScope(ctx context.Context, projectID, sessionID string, excludeArchive bool, limit int) ([]model.Memory, *errs.Error) {
	q := `
		SELECT id, schema_version, created_at, updated_at, layer, kind, summary, body_md_path, body_text,
		       tags_json, importance_score, confidence_score, stability_score, reuse_count, volatility_score,
		       cred_refs_json, source_json, scope_json, integrity_json
		FROM memories
		WHERE id != ? AND kind != 'retrieve'
		  AND json_extract(scope_json, '$.project_id') = ?`
	args := []any{model.SystemMemoryID, projectID}
	if sessionID != "" {
		q += " AND json_extract(source_json, '$.session_id') = ?"
		args = append(args, sessionID)
	}
	if excludeArchive {
		q += " AND layer != 'archive'"
	}
	q += " ORDER BY updated_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "listing scope", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListSessions returns the distinct, non-empty session ids seen for
// projectID, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, projectID string, limit int) ([]string, *errs.Error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json_extract(source_json, '$.session_id') AS sid, MAX(updated_at) AS last
		FROM memories
		WHERE id != ? AND json_extract(scope_json, '$.project_id') = ?
		  AND sid IS NOT NULL AND sid != ''
		GROUP BY sid
		ORDER BY last DESC
		LIMIT ?`, model.SystemMemoryID, projectID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "listing sessions", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sid, last string
		if err := rows.Scan(&sid, &last); err != nil {
			return nil, errs.Wrap(errs.KindPermanentExternal, "scanning session id", err)
		}
		out = append(out, sid)
	}
	return out, nil
}

// ListRecentCheckpoints returns projectID's kind=checkpoint memories, most
// recently updated first, for the orchestrator's per-turn brief.
func (s *Store) ListRecentCheckpoints(ctx context.Context, projectID string, limit int) ([]model.Memory, *errs.Error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schema_version, created_at, updated_at, layer, kind, summary, body_md_path, body_text,
		       tags_json, importance_score, confidence_score, stability_score, reuse_count, volatility_score,
		       cred_refs_json, source_json, scope_json, integrity_json
		FROM memories
		WHERE kind = 'checkpoint' AND json_extract(scope_json, '$.project_id') = ?
		ORDER BY updated_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "listing recent checkpoints", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListForWeave returns up to limit non-system, non-retrieve memories across
// every project, most recently updated first, for the sync daemon's
// cross-project weave pass (daemon.py's weave_links(project_id="")).
func (s *Store) ListForWeave(ctx context.Context, excludeArchive bool, limit int) ([]model.Memory, *errs.Error) {
	q := `
		SELECT id, schema_version, created_at, updated_at, layer, kind, summary, body_md_path, body_text,
		       tags_json, importance_score, confidence_score, stability_score, reuse_count, volatility_score,
		       cred_refs_json, source_json, scope_json, integrity_json
		FROM memories
		WHERE id != ? AND kind != 'retrieve'`
	args := []any{model.SystemMemoryID}
	if excludeArchive {
		q += " AND layer != 'archive'"
	}
	q += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "listing weave candidates", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// UpdateSignals overwrites the five numeric governance columns for id
// without touching body, layer, or any other envelope field.
func (s *Store) UpdateSignals(ctx context.Context, id string, sig model.Signals, updatedAt time.Time) *errs.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET importance_score = ?, confidence_score = ?, stability_score = ?,
		                     reuse_count = ?, volatility_score = ?, updated_at = ?
		WHERE id = ?`,
		sig.Importance, sig.Confidence, sig.Stability, sig.ReuseCount, sig.Volatility,
		updatedAt.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "updating signals", err)
	}
	return nil
}

// UpdateLayer moves id to a new retention layer. The markdown body stays at
// its original path; only the relational projection's layer column and
// updated_at change, mirroring how signal updates never touch body bytes.
func (s *Store) UpdateLayer(ctx context.Context, id string, layer model.Layer, updatedAt time.Time) *errs.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE memories SET layer = ?, updated_at = ? WHERE id = ?",
		layer, updatedAt.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "updating layer", err)
	}
	return nil
}

func scanMemories(rows *sql.Rows) ([]model.Memory, *errs.Error) {
	var out []model.Memory
	for rows.Next() {
		var m model.Memory
		var tagsJSON, credRefsJSON, sourceJSON, scopeJSON, integrityJSON string
		var createdAt, updatedAt string
		if err := rows.Scan(
			&m.ID, &m.SchemaVersion, &createdAt, &updatedAt, &m.Layer, &m.Kind, &m.Summary, &m.BodyMDPath, &m.BodyText,
			&tagsJSON, &m.Signals.Importance, &m.Signals.Confidence, &m.Signals.Stability, &m.Signals.ReuseCount, &m.Signals.Volatility,
			&credRefsJSON, &sourceJSON, &scopeJSON, &integrityJSON,
		); err != nil {
			return nil, errs.Wrap(errs.KindPermanentExternal, "scanning memory row", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
		_ = json.Unmarshal([]byte(credRefsJSON), &m.CredRefs)
		_ = json.Unmarshal([]byte(sourceJSON), &m.Source)
		_ = json.Unmarshal([]byte(scopeJSON), &m.Scope)
		_ = json.Unmarshal([]byte(integrityJSON), &m.Integrity)
		out = append(out, m)
	}
	return out, nil
}
