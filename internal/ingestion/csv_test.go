package ingestion

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
)

func TestReadCSV(t *testing.T) {
	input := `symbol,candle_begin_time,open,high,low,close,volume,ret_next,offset
BTC-USDT,2024-02-01 00:00:00,100,101,99,100.5,12.5,0.01,0
ETH-USDT,2024-02-01T01:00:00Z,,,,,3,,1
`
	bars, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "BTC-USDT", bars[0].Symbol)
	assert.True(t, bars[0].Timestamp.Equal(t0))
	assert.Equal(t, 100.5, bars[0].Close)
	assert.Equal(t, 12.5, bars[0].Volume)
	assert.Equal(t, 0.01, bars[0].RetNext)
	assert.Equal(t, 0.0, bars[0].QuoteVolume)

	assert.True(t, bars[1].Timestamp.Equal(t0.Add(time.Hour)))
	assert.True(t, math.IsNaN(bars[1].Open))
	assert.True(t, math.IsNaN(bars[1].Close))
	assert.True(t, math.IsNaN(bars[1].RetNext))
	assert.Equal(t, 1, bars[1].Offset)
}

func TestReadCSV_MissingRetNextColumnIsNaN(t *testing.T) {
	input := "symbol,candle_begin_time,open,high,low,close\nBTC,2024-02-01,1,1,1,1\n"
	bars, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, math.IsNaN(bars[0].RetNext))
	assert.Equal(t, 0, bars[0].Offset)
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("symbol,open,high,low,close\n"))
	assert.True(t, errors.Is(err, ErrMissingColumn))

	_, err = ReadCSV(strings.NewReader("symbol,candle_begin_time,open,high,low,close\nBTC,yesterday,1,1,1,1\n"))
	assert.True(t, errors.Is(err, ErrInvalidRow))

	_, err = ReadCSV(strings.NewReader("symbol,candle_begin_time,open,high,low,close\nBTC,2024-02-01,x,1,1,1\n"))
	assert.True(t, errors.Is(err, ErrInvalidRow))

	_, err = ReadCSV(strings.NewReader("symbol,candle_begin_time,open,high,low,close\n,2024-02-01,1,1,1,1\n"))
	assert.True(t, errors.Is(err, ErrInvalidRow))
}

func TestWriteCSV_ReadBack(t *testing.T) {
	bars := []domain.Bar{
		{Symbol: "BTC", Timestamp: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, RetNext: 0.02, Offset: 1},
		{Symbol: "ETH", Timestamp: t0, Open: 3, High: 3, Low: 3, Close: 3, RetNext: math.NaN()},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, bars))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, bars[0], got[0])
	assert.True(t, math.IsNaN(got[1].RetNext))
}

func TestCSVSource_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte("symbol,candle_begin_time,open,high,low,close\nBTC,2024-02-01,1,1,1,1\n"), 0o644))

	bars, err := NewCSVSource(path).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, bars, 1)

	_, err = NewCSVSource(filepath.Join(t.TempDir(), "missing.csv")).Fetch(context.Background())
	assert.Error(t, err)
}
