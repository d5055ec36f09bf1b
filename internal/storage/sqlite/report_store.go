// Package sqlite is a single-file ReportStore for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id          TEXT PRIMARY KEY,
	strategy_name   TEXT NOT NULL,
	coin_num        INTEGER NOT NULL,
	window_size     INTEGER NOT NULL,
	hold_hour       TEXT NOT NULL,
	c_rate          REAL NOT NULL,
	factors         TEXT NOT NULL,
	mean_annual_return_drawdown_ratio REAL,
	created_at_ns   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtest_runs_strategy ON backtest_runs (strategy_name, created_at_ns);
CREATE TABLE IF NOT EXISTS backtest_report_rows (
	run_id                      TEXT NOT NULL REFERENCES backtest_runs (run_id),
	row_index                   INTEGER NOT NULL,
	bar_offset                  INTEGER,
	has_report                  INTEGER NOT NULL,
	cumulative_net_value        REAL,
	maximum_drawdown            REAL,
	maximum_drawdown_start_ns   INTEGER,
	maximum_drawdown_end_ns     INTEGER,
	profit_period_count         INTEGER,
	loss_period_count           INTEGER,
	win_rate                    REAL,
	average_period_return       REAL,
	profit_loss_ratio           REAL,
	maximum_period_profit       REAL,
	maximum_period_loss         REAL,
	max_continuous_profit_count INTEGER,
	max_continuous_loss_count   INTEGER,
	annual_return               REAL,
	annual_return_drawdown_ratio REAL,
	PRIMARY KEY (run_id, row_index)
);
`

// ReportStore implements storage.ReportStore backed by a SQLite database.
type ReportStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ storage.ReportStore = (*ReportStore)(nil)

// NewReportStore opens (or creates) a SQLite database at dbPath and applies
// the schema.
func NewReportStore(ctx context.Context, dbPath string) (*ReportStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &ReportStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *ReportStore) Close() error {
	return s.db.Close()
}

// Insert adds a report and its rows in one transaction.
// Returns ErrDuplicateKey if run_id exists.
func (s *ReportStore) Insert(ctx context.Context, r *domain.BacktestReport) error {
	if err := storage.ValidateReport(r); err != nil {
		return err
	}

	factors, err := json.Marshal(r.Config.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (
			run_id, strategy_name, coin_num, window_size, hold_hour, c_rate,
			factors, mean_annual_return_drawdown_ratio, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RunID, r.StrategyName, r.Config.CoinNum, r.Config.Window, r.Config.HoldHour, r.Config.CRate,
		string(factors), storage.NullFloat(r.MeanAnnualReturnDrawdownRatio), r.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert backtest run: %w", err)
	}

	for i, row := range r.Rows {
		if err := insertRow(ctx, tx, r.RunID, i, row); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertRow(ctx context.Context, tx *sql.Tx, runID string, index int, row domain.ReportRow) error {
	rep := row.Report
	if rep == nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_report_rows (run_id, row_index, bar_offset, has_report)
			VALUES (?, ?, ?, 0)
		`, runID, index, row.Offset)
		if err != nil {
			return fmt.Errorf("insert report row: %w", err)
		}
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO backtest_report_rows (
			run_id, row_index, bar_offset, has_report,
			cumulative_net_value, maximum_drawdown,
			maximum_drawdown_start_ns, maximum_drawdown_end_ns,
			profit_period_count, loss_period_count, win_rate,
			average_period_return, profit_loss_ratio,
			maximum_period_profit, maximum_period_loss,
			max_continuous_profit_count, max_continuous_loss_count,
			annual_return, annual_return_drawdown_ratio
		) VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID, index, row.Offset,
		rep.CumulativeNetValue, rep.MaximumDrawdown,
		rep.MaximumDrawdownStartTime.UnixNano(), rep.MaximumDrawdownEndTime.UnixNano(),
		rep.ProfitPeriodCount, rep.LossPeriodCount, rep.WinRate,
		rep.AveragePeriodReturn, storage.NullFloat(rep.ProfitLossRatio),
		rep.MaximumPeriodProfit, rep.MaximumPeriodLoss,
		rep.MaximumContinuousProfitPeriodCount, rep.MaximumContinuousLossPeriodCount,
		rep.AnnualReturn, storage.NullFloat(rep.AnnualReturnDrawdownRatio),
	)
	if err != nil {
		return fmt.Errorf("insert report row: %w", err)
	}
	return nil
}

const selectRun = `
	SELECT run_id, strategy_name, coin_num, window_size, hold_hour, c_rate,
		factors, mean_annual_return_drawdown_ratio, created_at_ns
	FROM backtest_runs
`

// GetByID retrieves a report by run ID. Returns ErrNotFound if not exists.
func (s *ReportStore) GetByID(ctx context.Context, runID string) (*domain.BacktestReport, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE run_id = ?`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get backtest run: %w", err)
	}
	if r.Rows, err = s.loadRows(ctx, runID); err != nil {
		return nil, err
	}
	return r, nil
}

// ListByStrategy retrieves all reports of a strategy, ordered by created_at ASC.
func (s *ReportStore) ListByStrategy(ctx context.Context, strategyName string) ([]*domain.BacktestReport, error) {
	rows, err := s.db.QueryContext(ctx, selectRun+` WHERE strategy_name = ? ORDER BY created_at_ns ASC, run_id ASC`, strategyName)
	if err != nil {
		return nil, fmt.Errorf("query backtest runs: %w", err)
	}

	var reports []*domain.BacktestReport
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan backtest run: %w", err)
		}
		reports = append(reports, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backtest runs: %w", err)
	}

	for _, r := range reports {
		if r.Rows, err = s.loadRows(ctx, r.RunID); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func (s *ReportStore) loadRows(ctx context.Context, runID string) ([]domain.ReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			bar_offset, has_report,
			cumulative_net_value, maximum_drawdown,
			maximum_drawdown_start_ns, maximum_drawdown_end_ns,
			profit_period_count, loss_period_count, win_rate,
			average_period_return, profit_loss_ratio,
			maximum_period_profit, maximum_period_loss,
			max_continuous_profit_count, max_continuous_loss_count,
			annual_return, annual_return_drawdown_ratio
		FROM backtest_report_rows
		WHERE run_id = ?
		ORDER BY row_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query report rows: %w", err)
	}
	defer rows.Close()

	var result []domain.ReportRow
	for rows.Next() {
		var (
			offset    sql.NullInt64
			hasReport bool

			cnv, mdd, winRate, avg, maxProfit, maxLoss, annual sql.NullFloat64
			plRatio, ddRatio                                   sql.NullFloat64
			startNs, endNs                                     sql.NullInt64
			profits, losses, profitRun, lossRun                sql.NullInt64
		)
		err := rows.Scan(
			&offset, &hasReport,
			&cnv, &mdd,
			&startNs, &endNs,
			&profits, &losses, &winRate,
			&avg, &plRatio,
			&maxProfit, &maxLoss,
			&profitRun, &lossRun,
			&annual, &ddRatio,
		)
		if err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}

		var row domain.ReportRow
		if offset.Valid {
			o := int(offset.Int64)
			row.Offset = &o
		}
		if hasReport {
			row.Report = &domain.PerformanceReport{
				CumulativeNetValue:                 cnv.Float64,
				MaximumDrawdown:                    mdd.Float64,
				MaximumDrawdownStartTime:           time.Unix(0, startNs.Int64).UTC(),
				MaximumDrawdownEndTime:             time.Unix(0, endNs.Int64).UTC(),
				ProfitPeriodCount:                  int(profits.Int64),
				LossPeriodCount:                    int(losses.Int64),
				WinRate:                            winRate.Float64,
				AveragePeriodReturn:                avg.Float64,
				ProfitLossRatio:                    nanIfNull(plRatio),
				MaximumPeriodProfit:                maxProfit.Float64,
				MaximumPeriodLoss:                  maxLoss.Float64,
				MaximumContinuousProfitPeriodCount: int(profitRun.Int64),
				MaximumContinuousLossPeriodCount:   int(lossRun.Int64),
				AnnualReturn:                       annual.Float64,
				AnnualReturnDrawdownRatio:          nanIfNull(ddRatio),
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.BacktestReport, error) {
	var (
		r         domain.BacktestReport
		factors   string
		meanRatio sql.NullFloat64
		createdNs int64
	)
	err := row.Scan(
		&r.RunID, &r.StrategyName, &r.Config.CoinNum, &r.Config.Window, &r.Config.HoldHour, &r.Config.CRate,
		&factors, &meanRatio, &createdNs,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(factors), &r.Config.Factors); err != nil {
		return nil, fmt.Errorf("unmarshal factors: %w", err)
	}
	r.Config.Name = r.StrategyName
	r.CreatedAt = time.Unix(0, createdNs).UTC()
	r.MeanAnnualReturnDrawdownRatio = nanIfNull(meanRatio)
	return &r, nil
}

func nanIfNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// isConstraintError checks for a primary key or unique violation.
func isConstraintError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
