// Package eventlog implements the append-only, monthly-partitioned JSONL
// event log (spec.md §4.2): the durable source of truth every relational
// row can be rebuilt from.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
)

// Log appends events under root, one file per UTC month.
type Log struct {
	root string
}

// New returns a Log rooted at dir. The directory is created lazily on
// first Append.
func New(dir string) *Log {
	return &Log{root: dir}
}

func (l *Log) filePath(when time.Time) string {
	return filepath.Join(l.root, fmt.Sprintf("events-%s.jsonl", when.UTC().Format("2006-01")))
}

// Append writes evt as one JSON line to the month file for evt.EventTime,
// opening in append mode and flushing before return.
func (l *Log) Append(evt model.Event) *errs.Error {
	if !evt.EventType.Valid() {
		return errs.New(errs.KindInvalidArgument, fmt.Sprintf("unknown event type: %q", evt.EventType))
	}
	timer := logging.StartTimer(logging.CategoryEventLog, "append")
	defer timer.Stop()

	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "creating jsonl root", err)
	}
	path := l.filePath(evt.EventTime)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindPermanentExternal, "opening event file", err)
	}
	defer f.Close()

	line, merr := json.Marshal(evt)
	if merr != nil {
		return errs.Wrap(errs.KindInvalidArgument, "marshalling event", merr)
	}
	if _, werr := f.Write(append(line, '\n')); werr != nil {
		return errs.Wrap(errs.KindPermanentExternal, "writing event line", werr)
	}
	if serr := f.Sync(); serr != nil {
		logging.Get(logging.CategoryEventLog).Warn("fsync failed for %s: %v", path, serr)
	}
	return nil
}

// MonthFiles returns the absolute paths of every events-YYYY-MM.jsonl file
// under root, in lexicographic (== chronological) order.
func (l *Log) MonthFiles() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl") {
			out = append(out, filepath.Join(l.root, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// RawEvent is a loosely-typed view of one parsed JSONL line, used during
// reindex where envelope-bearing events carry a nested payload.envelope.
type RawEvent struct {
	EventID   string
	EventType string
	EventTime time.Time
	MemoryID  string
	Payload   map[string]any
	Envelope  *model.Envelope // non-nil when payload.envelope is a valid envelope object
}

// ReadResult is returned by ReadAll: the successfully parsed events plus
// counts of lines that could not be used.
type ReadResult struct {
	Events         []RawEvent
	LinesRead      int
	CorruptLines   int // not valid JSON at all
	UnknownTypeSkipped int
}

// ReadAll parses every month file under root in order, tolerating
// individual bad lines per spec.md §4.2's reindex contract: JSON-invalid
// lines are counted as corrupt, and lines with an unrecognized event_type
// are counted and skipped, but neither aborts the scan.
func (l *Log) ReadAll() (*ReadResult, error) {
	files, err := l.MonthFiles()
	if err != nil {
		return nil, err
	}
	res := &ReadResult{}
	for _, fp := range files {
		if err := l.readFile(fp, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (l *Log) readFile(path string, res *ReadResult) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		res.LinesRead++

		if !gjson.Valid(line) {
			res.CorruptLines++
			continue
		}

		eventType := gjson.Get(line, "event_type").String()
		if !model.EventType(eventType).Valid() {
			res.UnknownTypeSkipped++
			continue
		}

		var evt model.Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			// Valid JSON but doesn't fit the struct shape: fall back to
			// gjson field extraction so reindex can still place it.
			res.Events = append(res.Events, RawEvent{
				EventID:   gjson.Get(line, "event_id").String(),
				EventType: eventType,
				EventTime: parseTimeLoose(gjson.Get(line, "event_time").String()),
				MemoryID:  gjson.Get(line, "memory_id").String(),
			})
			continue
		}

		raw := RawEvent{
			EventID:   evt.EventID,
			EventType: string(evt.EventType),
			EventTime: evt.EventTime,
			MemoryID:  evt.MemoryID,
			Payload:   evt.Payload,
		}
		if envRaw, ok := evt.Payload["envelope"]; ok {
			if envMap, ok := envRaw.(map[string]any); ok {
				if env, err := decodeEnvelope(envMap); err == nil {
					raw.Envelope = env
				}
			}
		}
		res.Events = append(res.Events, raw)
	}
	return scanner.Err()
}

func decodeEnvelope(m map[string]any) (*model.Envelope, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var env model.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func parseTimeLoose(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
