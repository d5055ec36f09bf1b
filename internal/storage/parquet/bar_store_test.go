package parquet

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/storage/storagetest"
)

func TestBarStore(t *testing.T) {
	storagetest.TestBarStore(t, NewBarStore(t.TempDir()))
}

func TestBarStore_OneFilePerSymbol(t *testing.T) {
	dir := t.TempDir()
	store := NewBarStore(dir)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, storagetest.Bars(3, "BTC-USDT", "ETH-USDT")))

	for _, sym := range []string{"BTC-USDT", "ETH-USDT"} {
		_, err := os.Stat(filepath.Join(dir, sym+".parquet"))
		assert.NoError(t, err, "missing file for %s", sym)
	}
}

func TestBarStore_AppendsAcrossCalls(t *testing.T) {
	store := NewBarStore(t.TempDir())
	ctx := context.Background()

	bars := storagetest.Bars(4, "BTC-USDT")
	require.NoError(t, store.InsertBulk(ctx, bars[2:]))
	require.NoError(t, store.InsertBulk(ctx, bars[:2]))

	got, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i := range bars {
		assert.True(t, got[i].Timestamp.Equal(bars[i].Timestamp))
	}
}

func TestBarStore_NaNRetNext(t *testing.T) {
	store := NewBarStore(t.TempDir())
	ctx := context.Background()

	bars := storagetest.Bars(1, "BTC-USDT")
	bars[0].RetNext = math.NaN()
	require.NoError(t, store.InsertBulk(ctx, bars))

	got, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, math.IsNaN(got[0].RetNext))
}

func TestBarStore_EmptyDir(t *testing.T) {
	store := NewBarStore(filepath.Join(t.TempDir(), "missing"))

	bars, err := store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bars)

	symbols, err := store.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Empty(t, symbols)
}
