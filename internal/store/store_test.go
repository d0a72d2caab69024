package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnimem/internal/envelope"
	"omnimem/internal/model"
	"omnimem/internal/paths"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	p := paths.Paths{
		Root:         root,
		MarkdownRoot: filepath.Join(root, "markdown"),
		JSONLRoot:    filepath.Join(root, "jsonl"),
		SQLitePath:   filepath.Join(root, "omnimem.db"),
		RuntimeRoot:  filepath.Join(root, "runtime"),
	}
	s, err := Open(p)
	require.Nil(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteMemory_PersistsAcrossAllThreeLayers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	env, err := s.WriteMemory(ctx, envelope.Input{
		Layer:   model.LayerShort,
		Kind:    model.KindNote,
		Summary: "learned the retry helper needs jitter",
		Body:    "bounded exponential backoff without jitter thundering-herds under load",
		Source:  model.Source{Tool: "claude-code", SessionID: "s1"},
		Scope:   model.Scope{ProjectID: "proj1"},
	}, model.EventWrite)
	require.Nil(t, err)

	body, found, rerr := s.MD.Read(env.BodyMDPath)
	require.Nil(t, rerr)
	assert.True(t, found)
	assert.Contains(t, body, "jitter")

	logRes, lerr := s.Log.ReadAll()
	require.NoError(t, lerr)
	require.Len(t, logRes.Events, 1)
	assert.Equal(t, env.ID, logRes.Events[0].MemoryID)

	row, gerr := s.Rel.GetMemory(ctx, env.ID)
	require.Nil(t, gerr)
	require.NotNil(t, row)
	assert.Equal(t, "learned the retry helper needs jitter", row.Summary)
}

func TestWriteMemory_RejectsInvalidLayer(t *testing.T) {
	s := openTestStore(t)
	_, err := s.WriteMemory(context.Background(), envelope.Input{
		Layer:   model.Layer("bogus"),
		Kind:    model.KindNote,
		Summary: "x",
		Body:    "y",
	}, model.EventWrite)
	require.NotNil(t, err)
}

func TestReindex_RebuildsRelationalViewFromEventLogAlone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.WriteMemory(ctx, envelope.Input{
			Layer:   model.LayerShort,
			Kind:    model.KindNote,
			Summary: "note",
			Body:    "body text",
			Scope:   model.Scope{ProjectID: "proj1"},
		}, model.EventWrite)
		require.Nil(t, err)
	}

	before, err := s.Rel.CountMemories(ctx)
	require.Nil(t, err)

	rep, rerr := s.Reindex(ctx, true)
	require.Nil(t, rerr)
	assert.Equal(t, 3, rep.MemoriesIndexed)

	after, err := s.Rel.CountMemories(ctx)
	require.Nil(t, err)
	assert.Equal(t, before, after)
}

func TestLogSystemEvent(t *testing.T) {
	s := openTestStore(t)
	err := s.LogSystemEvent(context.Background(), model.EventSync, map[string]any{"ok": true})
	require.Nil(t, err)

	res, lerr := s.Log.ReadAll()
	require.NoError(t, lerr)
	require.Len(t, res.Events, 1)
	assert.Equal(t, model.SystemMemoryID, res.Events[0].MemoryID)
}
