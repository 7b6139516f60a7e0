package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoughtAndSold(t *testing.T) {
	s := NewStore("run", decimal.NewFromInt(1000))
	s.Bought(decimal.NewFromInt(1000), decimal.NewFromInt(100))

	snap := s.Snapshot()
	assert.True(t, snap.Balance.IsZero())
	assert.True(t, snap.Shares.Equal(decimal.NewFromInt(100)))

	s.Sold(decimal.NewFromInt(1100))
	snap = s.Snapshot()
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(1100)))
	assert.True(t, snap.Shares.IsZero())
}

func TestSnapshotCopiesTarget(t *testing.T) {
	s := NewStore("run", decimal.NewFromInt(10))
	open := time.Date(2024, 7, 1, 13, 30, 0, 0, time.UTC)
	s.SetPhase("Holding", &Session{Open: open, Close: open.Add(6 * time.Hour)})

	snap := s.Snapshot()
	snap.Target.Open = time.Time{}
	assert.Equal(t, open, s.Snapshot().Target.Open)
}

func TestSaveLoadCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := NewStore("run-1", decimal.RequireFromString("1234.56"))
	s.Bought(decimal.RequireFromString("234.56"), decimal.NewFromInt(3))
	s.SetPhase("AwaitClose", nil)
	require.NoError(t, s.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "AwaitClose", got.Phase)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, got.Shares.Equal(decimal.NewFromInt(3)))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadMissingCheckpoint(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
