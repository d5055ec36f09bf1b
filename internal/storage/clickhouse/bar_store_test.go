package clickhouse

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/storage/storagetest"
)

func TestBarStore(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	storagetest.TestBarStore(t, NewBarStore(conn))
}

func TestBarStore_NaNRetNext(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBarStore(conn)

	bars := storagetest.Bars(1, "BTC-USDT")
	bars[0].RetNext = math.NaN()
	require.NoError(t, store.InsertBulk(ctx, bars))

	got, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, math.IsNaN(got[0].RetNext))
}
