package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/meterman/internal/model"
)

// PostgresStatsRepo はPostgreSQLを使用したダッシュボード集計リポジトリ。
type PostgresStatsRepo struct {
	db *sql.DB
}

// NewPostgresStatsRepo はPostgresStatsRepoを生成する。
func NewPostgresStatsRepo(db *sql.DB) *PostgresStatsRepo {
	return &PostgresStatsRepo{db: db}
}

// Summary はユーザー/メーター数、24時間アクティブ数、直近のレコードを集計して返す。
func (r *PostgresStatsRepo) Summary(ctx context.Context, limit int) (*StatsSummary, error) {
	if limit <= 0 {
		limit = 5
	}
	summary := &StatsSummary{}

	err := r.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM users),
		   (SELECT COUNT(*) FROM meters),
		   (SELECT COUNT(*) FROM users WHERE reminder_enabled = TRUE),
		   (SELECT COUNT(DISTINCT m.user_id)
		      FROM meters m
		      JOIN balance_history bh ON bh.meter_id = m.id
		      WHERE bh.recorded_at >= $1)`,
		time.Now().Add(-24*time.Hour),
	).Scan(&summary.TotalUsers, &summary.TotalMeters, &summary.RemindersEnabled, &summary.ActiveUsers24h)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate counts: %w", err)
	}

	if summary.LatestUsers, err = r.latestUsers(ctx, limit); err != nil {
		return nil, err
	}
	if summary.LatestMeters, err = r.latestMeters(ctx, limit); err != nil {
		return nil, err
	}
	if summary.LatestReadings, err = r.latestReadings(ctx, limit); err != nil {
		return nil, err
	}

	return summary, nil
}

func (r *PostgresStatsRepo) latestUsers(ctx context.Context, limit int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, display_name, reminder_enabled, reminder_time, last_active_at, created_at, updated_at
		 FROM users ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user := &model.User{}
		if err := rows.Scan(
			&user.ID, &user.DisplayName, &user.ReminderEnabled, &user.ReminderTime,
			&user.LastActiveAt, &user.CreatedAt, &user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *PostgresStatsRepo) latestMeters(ctx context.Context, limit int) ([]*model.Meter, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+meterColumns+` FROM meters ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest meters: %w", err)
	}
	defer rows.Close()

	var meters []*model.Meter
	for rows.Next() {
		meter, err := scanMeter(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meter: %w", err)
		}
		meters = append(meters, meter)
	}
	return meters, rows.Err()
}

func (r *PostgresStatsRepo) latestReadings(ctx context.Context, limit int) ([]ReadingWithMeter, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT bh.id, bh.meter_id, bh.balance, bh.recorded_at, m.name, m.number, u.display_name
		 FROM balance_history bh
		 JOIN meters m ON m.id = bh.meter_id
		 JOIN users u ON u.id = m.user_id
		 ORDER BY bh.recorded_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest readings: %w", err)
	}
	defer rows.Close()

	var readings []ReadingWithMeter
	for rows.Next() {
		var rec ReadingWithMeter
		if err := rows.Scan(
			&rec.ID, &rec.MeterID, &rec.Balance, &rec.RecordedAt,
			&rec.MeterName, &rec.MeterNumber, &rec.OwnerName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, rec)
	}
	return readings, rows.Err()
}

// compile-time interface check
var _ StatsRepository = (*PostgresStatsRepo)(nil)
