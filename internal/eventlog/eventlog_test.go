package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnimem/internal/model"
)

func TestAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	when := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	evt := model.Event{
		EventID:   "e1",
		EventType: model.EventWrite,
		EventTime: when,
		MemoryID:  "m1",
		Payload:   map[string]any{"summary": "hello"},
	}
	require.Nil(t, l.Append(evt))

	files, err := l.MonthFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "events-2026-05.jsonl"), files[0])

	res, err := l.ReadAll()
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "e1", res.Events[0].EventID)
	assert.Equal(t, 0, res.CorruptLines)
	assert.Equal(t, 0, res.UnknownTypeSkipped)
}

func TestAppend_RejectsUnknownEventType(t *testing.T) {
	l := New(t.TempDir())
	err := l.Append(model.Event{EventID: "e1", EventType: model.EventType("bogus"), EventTime: time.Now()})
	require.NotNil(t, err)
}

func TestReadAll_TreatsBadLinesAsCorrupt(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	path := filepath.Join(dir, "events-2026-05.jsonl")
	require.NoError(t, writeRawLines(path, []string{
		`{"event_id":"e1","event_type":"memory.write","event_time":"2026-05-10T08:00:00Z","memory_id":"m1","payload":{}}`,
		`not json at all`,
		`{"event_id":"e2","event_type":"totally.unknown","event_time":"2026-05-10T08:00:00Z","memory_id":"m1","payload":{}}`,
		"",
	}))

	res, err := l.ReadAll()
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
	assert.Equal(t, 1, res.CorruptLines)
	assert.Equal(t, 1, res.UnknownTypeSkipped)
	assert.Equal(t, 3, res.LinesRead)
}

func writeRawLines(path string, lines []string) error {
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}
