package utils

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type line struct {
	Class string `json:"class"`
	Bytes int    `json:"bytes"`
}

func TestStreamJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")

	w, err := NewStreamJSONLWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteLine(line{Class: "com.a.Main", Bytes: 10}))
	require.NoError(t, w.WriteLine(line{Class: "com.a.Main$1", Bytes: 20}))
	require.NoError(t, w.Close())

	n, err := CountJSONLLines(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	r, err := NewStreamJSONLReader(path)
	require.NoError(t, err)
	defer r.Close()

	var got []line
	for {
		var l line
		err := r.Next(&l)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, l)
	}
	assert.Equal(t, []line{{"com.a.Main", 10}, {"com.a.Main$1", 20}}, got)
	assert.Equal(t, 2, r.LineNumber())
}

func TestStreamJSONLWriter_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")

	for i := 0; i < 2; i++ {
		w, err := NewStreamJSONLWriter(path)
		require.NoError(t, err)
		require.NoError(t, w.WriteLine(line{Class: "x"}))
		require.NoError(t, w.Close())
	}

	n, err := CountJSONLLines(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountJSONLLines_Missing(t *testing.T) {
	_, err := CountJSONLLines(filepath.Join(t.TempDir(), "none.jsonl"))
	assert.Error(t, err)
}

func TestOptimizeDBPool_SQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, OptimizeDBPool(db, "sqlite"))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}
