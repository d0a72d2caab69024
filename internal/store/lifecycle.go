package store

import (
	"context"
	"fmt"

	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
)

// UpdateSignals overwrites a memory's governance signals in place: the
// markdown body and content hash are untouched (signals are not part of
// the hashed content), but updated_at advances and an event carrying the
// full updated envelope is appended so reindex can replay the change.
func (s *Store) UpdateSignals(ctx context.Context, id string, sig model.Signals, eventType model.EventType, reason string) (*model.Envelope, *errs.Error) {
	return s.mutateEnvelope(ctx, id, eventType, reason, func(env *model.Envelope) {
		env.Signals = sig
	})
}

// UpdateLayer moves a memory to a new retention layer, logging a
// memory.promote event with before/after layers.
func (s *Store) UpdateLayer(ctx context.Context, id string, layer model.Layer, eventType model.EventType, reason string) (*model.Envelope, *errs.Error) {
	if !layer.Valid() {
		return nil, errs.New(errs.KindInvalidArgument, fmt.Sprintf("unknown layer: %q", layer))
	}
	return s.mutateEnvelope(ctx, id, eventType, reason, func(env *model.Envelope) {
		env.Layer = layer
	})
}

// mutateEnvelope loads id's current envelope and body, applies mutate,
// advances updated_at, and persists the result through the event log and
// relational view (never the markdown store, since mutate never touches
// summary or body text).
func (s *Store) mutateEnvelope(ctx context.Context, id string, eventType model.EventType, reason string, mutate func(*model.Envelope)) (*model.Envelope, *errs.Error) {
	if !eventType.Valid() {
		return nil, errs.New(errs.KindInvalidArgument, "invalid event_type for lifecycle update")
	}
	timer := logging.StartTimer(logging.CategoryGovernor, "mutate-envelope")
	defer timer.Stop()

	mem, gerr := s.Rel.GetMemory(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if mem == nil {
		return nil, errs.New(errs.KindNotFound, "memory not found: "+id)
	}

	before := mem.Layer
	env := mem.Envelope
	mutate(&env)
	env.UpdatedAt = model.UTCNow()

	evt := model.Event{
		EventID:   model.NewID(),
		EventType: eventType,
		EventTime: env.UpdatedAt,
		MemoryID:  id,
		Payload: map[string]any{
			"reason":       reason,
			"before_layer": string(before),
			"after_layer":  string(env.Layer),
			"envelope":     env,
		},
	}
	if aerr := s.Log.Append(evt); aerr != nil {
		return nil, aerr
	}
	if uerr := s.Rel.UpsertMemory(ctx, env, mem.BodyText); uerr != nil {
		return nil, uerr
	}
	if uerr := s.Rel.UpsertEvent(ctx, evt); uerr != nil {
		return nil, uerr
	}
	return &env, nil
}
