package backend

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/ingestion"
	"factor-lab/internal/storage/storagetest"
)

var discard = log.New(io.Discard, "", 0)

func TestOpen_Defaults(t *testing.T) {
	stores, cleanup, err := Open(context.Background(), Config{}, discard)
	defer cleanup()
	require.NoError(t, err)
	assert.NotNil(t, stores.Bars)
	assert.NotNil(t, stores.Reports)
}

func TestOpen_CSVBars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, ingestion.WriteCSV(f, storagetest.Bars(4, "AAA", "BBB")))
	require.NoError(t, f.Close())

	stores, cleanup, err := Open(context.Background(), Config{Bars: BarsCSV, CSVPath: path}, discard)
	defer cleanup()
	require.NoError(t, err)

	bars, err := stores.Bars.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, bars, 8)
}

func TestOpen_ParquetAndSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Bars:       BarsParquet,
		ParquetDir: filepath.Join(dir, "bars"),
		Reports:    ReportsSQLite,
		SQLitePath: filepath.Join(dir, "reports.db"),
	}
	stores, cleanup, err := Open(context.Background(), cfg, discard)
	defer cleanup()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, stores.Reports.Insert(ctx, storagetest.Report("run1", "alpha", storagetest.T0)))
	got, err := stores.Reports.GetByID(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.StrategyName)
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		unknown bool
	}{
		{"unknown bars", Config{Bars: "redis"}, true},
		{"unknown reports", Config{Reports: "mongo"}, true},
		{"csv without path", Config{Bars: BarsCSV}, false},
		{"parquet without dir", Config{Bars: BarsParquet}, false},
		{"clickhouse without dsn", Config{Bars: BarsClickHouse}, false},
		{"sqlite without path", Config{Reports: ReportsSQLite}, false},
		{"postgres without dsn", Config{Reports: ReportsPostgres}, false},
		{"missing csv file", Config{Bars: BarsCSV, CSVPath: "/nonexistent/bars.csv"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cleanup, err := Open(context.Background(), tt.cfg, discard)
			cleanup()
			require.Error(t, err)
			assert.Equal(t, tt.unknown, errors.Is(err, ErrUnknownBackend))
		})
	}
}
