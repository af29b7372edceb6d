package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestStore opens a fresh migrated store in a per-test temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "venueflow-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
