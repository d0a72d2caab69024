package store

import (
	"context"

	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
)

// ReindexReport mirrors the reference implementation's reindex_from_jsonl
// return shape, minus the "ok" field (callers get that from the *errs.Error
// being nil).
type ReindexReport struct {
	Reset             bool
	JSONLFiles        int
	EventsParsed      int
	MemoriesIndexed   int
	EventsSkipped     int
	MissingBodyFiles  int
}

// Reindex rebuilds the relational view from the event log alone, per
// spec.md §4.2's guarantee: reindex(log) ≡ sum of apply(event) starting
// from an empty view plus the system memory. When reset is true (the only
// supported mode — partial reindex is not a goal here), memory_events,
// memory_refs and every non-system memory row are cleared first.
func (s *Store) Reindex(ctx context.Context, reset bool) (*ReindexReport, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryRelStore, "reindex")
	defer timer.Stop()

	if reset {
		if err := s.Rel.ResetForReindex(ctx); err != nil {
			return nil, err
		}
	}

	files, rerr := s.Log.MonthFiles()
	if rerr != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "listing jsonl files", rerr)
	}

	result, rerr2 := s.Log.ReadAll()
	if rerr2 != nil {
		return nil, errs.Wrap(errs.KindLogCorruption, "reading event log", rerr2)
	}

	rep := &ReindexReport{
		Reset:         reset,
		JSONLFiles:    len(files),
		EventsParsed:  result.LinesRead,
		EventsSkipped: result.CorruptLines + result.UnknownTypeSkipped,
	}

	for _, raw := range result.Events {
		if raw.Envelope != nil {
			body, found, berr := s.MD.Read(raw.Envelope.BodyMDPath)
			if berr != nil {
				return nil, berr
			}
			if !found {
				rep.MissingBodyFiles++
			}
			if uerr := s.Rel.UpsertMemory(ctx, *raw.Envelope, body); uerr != nil {
				rep.EventsSkipped++
				continue
			}
			rep.MemoriesIndexed++
		}

		memoryID := raw.MemoryID
		if memoryID == "" {
			memoryID = model.SystemMemoryID
		}
		evt := model.Event{
			EventID:   raw.EventID,
			EventType: model.EventType(raw.EventType),
			EventTime: raw.EventTime,
			MemoryID:  memoryID,
			Payload:   raw.Payload,
		}
		if uerr := s.Rel.UpsertEvent(ctx, evt); uerr != nil {
			rep.EventsSkipped++
		}
	}

	_ = s.LogSystemEvent(ctx, model.EventUpdate, map[string]any{
		"action":           "reindex",
		"reset":            rep.Reset,
		"jsonl_files":      rep.JSONLFiles,
		"events_parsed":    rep.EventsParsed,
		"memories_indexed": rep.MemoriesIndexed,
		"events_skipped":   rep.EventsSkipped,
	})

	return rep, nil
}
