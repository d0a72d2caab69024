package mdstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnimem/internal/model"
)

func TestRelPath(t *testing.T) {
	when := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	got := RelPath(model.LayerShort, "abc123", when)
	assert.Equal(t, "short/2026/03/abc123.md", filepathToSlash(got))
}

func TestWriteAndRead(t *testing.T) {
	s := New(t.TempDir())
	full, err := s.Write("short/2026/03/id.md", "# hi\n\nbody\n")
	require.Nil(t, err)
	assert.FileExists(t, full)

	got, found, rerr := s.Read("short/2026/03/id.md")
	require.Nil(t, rerr)
	assert.True(t, found)
	assert.Equal(t, "# hi\n\nbody\n", got)
}

func TestRead_MissingIsTolerated(t *testing.T) {
	s := New(t.TempDir())
	got, found, err := s.Read("nope/2026/01/x.md")
	require.Nil(t, err)
	assert.False(t, found)
	assert.Equal(t, "", got)
}

func TestVerify_EmptyTree(t *testing.T) {
	s := New(t.TempDir())
	rep, err := s.Verify()
	require.Nil(t, err)
	assert.Equal(t, 0, rep.Files)
	assert.Equal(t, "0 files", rep.Summary())
}

func TestVerify_CountsWrittenFiles(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Write("short/2026/03/a.md", "# a\n\nbody\n")
	require.Nil(t, err)
	_, err = s.Write("long/2026/03/b.md", "# b\n\nbody\n")
	require.Nil(t, err)

	rep, verr := s.Verify()
	require.Nil(t, verr)
	assert.Equal(t, 2, rep.Files)
	assert.NotEmpty(t, rep.Summary())
}

func filepathToSlash(p string) string {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '\\' {
			out = append(out, '/')
		} else {
			out = append(out, p[i])
		}
	}
	return string(out)
}
