package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/meterman/internal/model"
)

// PostgresReadingRepo はPostgreSQLを使用した残高履歴リポジトリ。
// 履歴は追記専用であり、更新・削除のメソッドは意図的に提供しない。
type PostgresReadingRepo struct {
	db *sql.DB
}

// NewPostgresReadingRepo はPostgresReadingRepoを生成する。
func NewPostgresReadingRepo(db *sql.DB) *PostgresReadingRepo {
	return &PostgresReadingRepo{db: db}
}

// Append は残高観測を追記する。
func (r *PostgresReadingRepo) Append(ctx context.Context, reading *model.Reading) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO balance_history (id, meter_id, balance, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		reading.ID, reading.MeterID, reading.Balance, reading.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append balance reading: %w", err)
	}
	return nil
}

func (r *PostgresReadingRepo) queryOne(ctx context.Context, query string, args ...any) (*model.Reading, error) {
	reading := &model.Reading{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&reading.ID, &reading.MeterID, &reading.Balance, &reading.RecordedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return reading, nil
}

// LatestAtOrBefore は指定時刻以前で最新の観測を返す。見つからない場合はnilを返す。
func (r *PostgresReadingRepo) LatestAtOrBefore(ctx context.Context, meterID string, at time.Time) (*model.Reading, error) {
	reading, err := r.queryOne(ctx,
		`SELECT id, meter_id, balance, recorded_at FROM balance_history
		 WHERE meter_id = $1 AND recorded_at <= $2
		 ORDER BY recorded_at DESC LIMIT 1`,
		meterID, at,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find reading at or before: %w", err)
	}
	return reading, nil
}

// ListSince は指定時刻以降の観測を古い順で返す。
func (r *PostgresReadingRepo) ListSince(ctx context.Context, meterID string, since time.Time) ([]*model.Reading, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, meter_id, balance, recorded_at FROM balance_history
		 WHERE meter_id = $1 AND recorded_at >= $2
		 ORDER BY recorded_at ASC`,
		meterID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()

	var readings []*model.Reading
	for rows.Next() {
		reading := &model.Reading{}
		if err := rows.Scan(&reading.ID, &reading.MeterID, &reading.Balance, &reading.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

// compile-time interface check
var _ ReadingRepository = (*PostgresReadingRepo)(nil)
