// Package mdstore implements the markdown body tree (spec.md §4.3):
// <root>/<layer>/<YYYY>/<MM>/<id>.md, written once at creation and never
// rewritten in place outside of that atomic step.
package mdstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
)

// Store roots the markdown tree at dir.
type Store struct {
	root string
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// RelPath computes the layer/YYYY/MM/id.md path a new memory should use.
func RelPath(layer model.Layer, id string, when time.Time) string {
	return filepath.Join(string(layer), when.UTC().Format("2006"), when.UTC().Format("01"), id+".md")
}

// Write creates parent directories and writes contents to relPath under
// root. Returns the absolute path written.
func (s *Store) Write(relPath, contents string) (string, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryMDStore, "write")
	defer timer.Stop()

	full := filepath.Join(s.root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errs.Wrap(errs.KindPermanentExternal, "creating markdown directory", err)
	}
	if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
		return "", errs.Wrap(errs.KindPermanentExternal, "writing markdown file", err)
	}
	return full, nil
}

// Read returns the contents at relPath, or ("", false, nil) if the file is
// absent — a missing body file is tolerated by reindex (spec.md §4.2) and
// recorded as an issue rather than failing outright.
func (s *Store) Read(relPath string) (string, bool, *errs.Error) {
	full := filepath.Join(s.root, relPath)
	b, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap(errs.KindPermanentExternal, "reading markdown file", err)
	}
	return string(b), true, nil
}

// VerifyReport summarizes a walk of the markdown tree for operator-facing
// verify output.
type VerifyReport struct {
	Files       int
	TotalBytes  int64
	HumanSize   string
	OldestFile  time.Time
	NewestFile  time.Time
	HumanOldest string
}

// Verify walks the tree and produces a human-readable summary via
// dustin/go-humanize. This is purely descriptive: it never mutates state.
func (s *Store) Verify() (*VerifyReport, *errs.Error) {
	rep := &VerifyReport{}
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rep.Files++
		rep.TotalBytes += info.Size()
		if rep.OldestFile.IsZero() || info.ModTime().Before(rep.OldestFile) {
			rep.OldestFile = info.ModTime()
		}
		if info.ModTime().After(rep.NewestFile) {
			rep.NewestFile = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "walking markdown tree", err)
	}
	rep.HumanSize = humanize.Bytes(uint64(rep.TotalBytes))
	if !rep.OldestFile.IsZero() {
		rep.HumanOldest = humanize.Time(rep.OldestFile)
	}
	return rep, nil
}

// Summary renders a one-line operator summary, e.g. "482 files, 3.1 MB, oldest 6 months ago".
func (r VerifyReport) Summary() string {
	if r.Files == 0 {
		return "0 files"
	}
	return fmt.Sprintf("%d files, %s, oldest %s", r.Files, r.HumanSize, r.HumanOldest)
}
