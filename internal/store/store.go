// Package store composes the three storage layers — markdown bodies,
// the append-only event log, and the indexed relational view — into the
// single write/reindex/verify surface the rest of OmniMem calls. Every
// write lands in all three; the relational view can always be rebuilt
// from the event log alone (spec.md §4.2's reindex guarantee).
package store

import (
	"context"

	"omnimem/internal/envelope"
	"omnimem/internal/errs"
	"omnimem/internal/eventlog"
	"omnimem/internal/logging"
	"omnimem/internal/mdstore"
	"omnimem/internal/model"
	"omnimem/internal/paths"
	"omnimem/internal/relstore"
)

// Store is the top-level handle the rest of the codebase depends on.
type Store struct {
	MD   *mdstore.Store
	Log  *eventlog.Log
	Rel  *relstore.Store
	root paths.Paths
}

// Open wires up all three layers at the paths derived from cfg and
// applies the relational schema.
func Open(p paths.Paths) (*Store, *errs.Error) {
	rel, err := relstore.Open(p.SQLitePath)
	if err != nil {
		return nil, err
	}
	return &Store{
		MD:   mdstore.New(p.MarkdownRoot),
		Log:  eventlog.New(p.JSONLRoot),
		Rel:  rel,
		root: p,
	}, nil
}

// Close releases the relational connection.
func (s *Store) Close() error { return s.Rel.Close() }

// WriteMemory builds, persists and indexes a brand new memory: markdown
// body, then event-log append, then relational upsert, in that order so a
// crash after the markdown write but before the log append only leaves an
// orphan file, never a dangling index row.
func (s *Store) WriteMemory(ctx context.Context, in envelope.Input, eventType model.EventType) (*model.Envelope, *errs.Error) {
	if !eventType.Valid() {
		return nil, errs.New(errs.KindInvalidArgument, "invalid event_type for write_memory")
	}
	timer := logging.StartTimer(logging.CategoryEnvelope, "write-memory")
	defer timer.Stop()

	when := model.UTCNow()
	id := model.NewID()
	relPath := mdstore.RelPath(in.Layer, id, when)

	built, berr := envelope.Build(id, when, relPath, in)
	if berr != nil {
		return nil, berr
	}

	if _, werr := s.MD.Write(relPath, built.MDContents); werr != nil {
		return nil, werr
	}

	evt := model.Event{
		EventID:   model.NewID(),
		EventType: eventType,
		EventTime: when,
		MemoryID:  id,
		Payload: map[string]any{
			"summary":      in.Summary,
			"layer":        string(in.Layer),
			"kind":         string(in.Kind),
			"body_md_path": relPath,
			"envelope":     built.Envelope,
		},
	}
	if aerr := s.Log.Append(evt); aerr != nil {
		return nil, aerr
	}
	if uerr := s.Rel.UpsertMemory(ctx, built.Envelope, built.MDContents); uerr != nil {
		return nil, uerr
	}
	if uerr := s.Rel.UpsertEvent(ctx, evt); uerr != nil {
		return nil, uerr
	}
	return &built.Envelope, nil
}

// LogSystemEvent appends and indexes a system-scoped event that carries no
// envelope (e.g. sync, decay, consolidate passes).
func (s *Store) LogSystemEvent(ctx context.Context, eventType model.EventType, payload map[string]any) *errs.Error {
	if !eventType.Valid() {
		return errs.New(errs.KindInvalidArgument, "invalid event_type for system event")
	}
	evt := model.Event{
		EventID:   model.NewID(),
		EventType: eventType,
		EventTime: model.UTCNow(),
		MemoryID:  model.SystemMemoryID,
		Payload:   payload,
	}
	if aerr := s.Log.Append(evt); aerr != nil {
		return aerr
	}
	return s.Rel.UpsertEvent(ctx, evt)
}
