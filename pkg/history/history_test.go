package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAppendAndForDestination(t *testing.T) {
	db := openTestDB(t)

	r1 := Record{
		Time:        time.Unix(0, 1000),
		Destination: "a.mp4",
		Sources:     []string{"b.mp4"},
		Kind:        KindInPlace,
		ChunksAdded: 3,
		BytesAdded:  12345,
		FreeAfter:   2000,
	}
	r2 := Record{
		Time:        time.Unix(0, 2000),
		Destination: "a.mp4",
		Sources:     []string{"c.mp4"},
		Kind:        KindRewrite,
		ChunksAdded: 1,
		BytesAdded:  500,
		FreeAfter:   8000,
	}
	r3 := Record{
		Time:        time.Unix(0, 1500),
		Destination: "other.mp4",
		Kind:        KindInPlace,
	}

	require.NoError(t, db.Append(r1))
	require.NoError(t, db.Append(r2))
	require.NoError(t, db.Append(r3))

	records, err := db.ForDestination("a.mp4")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, KindInPlace, records[0].Kind)
	require.Equal(t, KindRewrite, records[1].Kind)

	empty, err := db.ForDestination("nonexistent.mp4")
	require.NoError(t, err)
	require.Empty(t, empty)
}
