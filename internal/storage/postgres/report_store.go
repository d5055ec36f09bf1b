package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// ReportStore implements storage.ReportStore using PostgreSQL.
type ReportStore struct {
	pool *Pool
}

// NewReportStore creates a new ReportStore.
func NewReportStore(pool *Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReportStore = (*ReportStore)(nil)

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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO backtest_runs (
			run_id, strategy_name, coin_num, window_size, hold_hour, c_rate,
			factors, mean_annual_return_drawdown_ratio, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		r.RunID, r.StrategyName, r.Config.CoinNum, r.Config.Window, r.Config.HoldHour, r.Config.CRate,
		factors, storage.NullFloat(r.MeanAnnualReturnDrawdownRatio), r.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert backtest run: %w", err)
	}

	batch := &pgx.Batch{}
	for i, row := range r.Rows {
		rep := row.Report
		if rep == nil {
			batch.Queue(`
				INSERT INTO backtest_report_rows (run_id, row_index, bar_offset, has_report)
				VALUES ($1, $2, $3, FALSE)
			`, r.RunID, i, row.Offset)
			continue
		}
		batch.Queue(`
			INSERT INTO backtest_report_rows (
				run_id, row_index, bar_offset, has_report,
				cumulative_net_value, maximum_drawdown,
				maximum_drawdown_start_time, maximum_drawdown_end_time,
				profit_period_count, loss_period_count, win_rate,
				average_period_return, profit_loss_ratio,
				maximum_period_profit, maximum_period_loss,
				max_continuous_profit_count, max_continuous_loss_count,
				annual_return, annual_return_drawdown_ratio
			) VALUES (
				$1, $2, $3, TRUE,
				$4, $5,
				$6, $7,
				$8, $9, $10,
				$11, $12,
				$13, $14,
				$15, $16,
				$17, $18
			)
		`,
			r.RunID, i, row.Offset,
			rep.CumulativeNetValue, rep.MaximumDrawdown,
			rep.MaximumDrawdownStartTime.UTC(), rep.MaximumDrawdownEndTime.UTC(),
			rep.ProfitPeriodCount, rep.LossPeriodCount, rep.WinRate,
			rep.AveragePeriodReturn, storage.NullFloat(rep.ProfitLossRatio),
			rep.MaximumPeriodProfit, rep.MaximumPeriodLoss,
			rep.MaximumContinuousProfitPeriodCount, rep.MaximumContinuousLossPeriodCount,
			rep.AnnualReturn, storage.NullFloat(rep.AnnualReturnDrawdownRatio),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert report rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const selectRun = `
	SELECT run_id, strategy_name, coin_num, window_size, hold_hour, c_rate,
		factors, mean_annual_return_drawdown_ratio, created_at
	FROM backtest_runs
`

// GetByID retrieves a report by run ID. Returns ErrNotFound if not exists.
func (s *ReportStore) GetByID(ctx context.Context, runID string) (*domain.BacktestReport, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, selectRun+` WHERE run_id = $1`, runID))
	if err != nil {
		if isNotFoundError(err) {
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
	rows, err := s.pool.Query(ctx, selectRun+` WHERE strategy_name = $1 ORDER BY created_at ASC, run_id ASC`, strategyName)
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
	rows, err := s.pool.Query(ctx, `
		SELECT
			bar_offset, has_report,
			cumulative_net_value, maximum_drawdown,
			maximum_drawdown_start_time, maximum_drawdown_end_time,
			profit_period_count, loss_period_count, win_rate,
			average_period_return, profit_loss_ratio,
			maximum_period_profit, maximum_period_loss,
			max_continuous_profit_count, max_continuous_loss_count,
			annual_return, annual_return_drawdown_ratio
		FROM backtest_report_rows
		WHERE run_id = $1
		ORDER BY row_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query report rows: %w", err)
	}
	defer rows.Close()

	var result []domain.ReportRow
	for rows.Next() {
		var (
			offset    *int
			hasReport bool

			cnv, mdd, winRate, avg, maxProfit, maxLoss, annual *float64
			plRatio, ddRatio                                   *float64
			start, end                                         *time.Time
			profits, losses, profitRun, lossRun                *int
		)
		err := rows.Scan(
			&offset, &hasReport,
			&cnv, &mdd,
			&start, &end,
			&profits, &losses, &winRate,
			&avg, &plRatio,
			&maxProfit, &maxLoss,
			&profitRun, &lossRun,
			&annual, &ddRatio,
		)
		if err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}

		row := domain.ReportRow{Offset: offset}
		if hasReport {
			row.Report = &domain.PerformanceReport{
				CumulativeNetValue:                 deref(cnv),
				MaximumDrawdown:                    deref(mdd),
				MaximumDrawdownStartTime:           derefTime(start),
				MaximumDrawdownEndTime:             derefTime(end),
				ProfitPeriodCount:                  derefInt(profits),
				LossPeriodCount:                    derefInt(losses),
				WinRate:                            deref(winRate),
				AveragePeriodReturn:                deref(avg),
				ProfitLossRatio:                    storage.FloatOrNaN(plRatio),
				MaximumPeriodProfit:                deref(maxProfit),
				MaximumPeriodLoss:                  deref(maxLoss),
				MaximumContinuousProfitPeriodCount: derefInt(profitRun),
				MaximumContinuousLossPeriodCount:   derefInt(lossRun),
				AnnualReturn:                       deref(annual),
				AnnualReturnDrawdownRatio:          storage.FloatOrNaN(ddRatio),
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return result, nil
}

// scanRun scans one backtest_runs row.
func scanRun(row pgx.Row) (*domain.BacktestReport, error) {
	var (
		r         domain.BacktestReport
		factors   []byte
		meanRatio *float64
	)
	err := row.Scan(
		&r.RunID, &r.StrategyName, &r.Config.CoinNum, &r.Config.Window, &r.Config.HoldHour, &r.Config.CRate,
		&factors, &meanRatio, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(factors, &r.Config.Factors); err != nil {
		return nil, fmt.Errorf("unmarshal factors: %w", err)
	}
	r.Config.Name = r.StrategyName
	r.MeanAnnualReturnDrawdownRatio = storage.FloatOrNaN(meanRatio)
	return &r, nil
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefTime(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}
