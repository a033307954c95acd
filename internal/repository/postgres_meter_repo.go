package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/meterman/internal/model"
)

// PostgresMeterRepo はPostgreSQLを使用したメーターリポジトリ。
type PostgresMeterRepo struct {
	db *sql.DB
}

// NewPostgresMeterRepo はPostgresMeterRepoを生成する。
func NewPostgresMeterRepo(db *sql.DB) *PostgresMeterRepo {
	return &PostgresMeterRepo{db: db}
}

const meterColumns = `id, user_id, number, name, min_balance, last_balance, last_checked_at, created_at, updated_at`

func scanMeter(scan func(dest ...any) error) (*model.Meter, error) {
	meter := &model.Meter{}
	var lastChecked sql.NullTime
	err := scan(
		&meter.ID, &meter.UserID, &meter.Number, &meter.Name,
		&meter.MinBalance, &meter.LastBalance, &lastChecked,
		&meter.CreatedAt, &meter.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		meter.LastCheckedAt = &t
	}
	return meter, nil
}

// FindByID は指定IDのメーターを取得する。見つからない場合はnilを返す。
func (r *PostgresMeterRepo) FindByID(ctx context.Context, id string) (*model.Meter, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+meterColumns+` FROM meters WHERE id = $1`, id,
	)
	meter, err := scanMeter(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find meter by ID: %w", err)
	}
	return meter, nil
}

// FindByUserAndNumber はユーザーIDとメーター番号でメーターを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresMeterRepo) FindByUserAndNumber(ctx context.Context, userID, number string) (*model.Meter, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+meterColumns+` FROM meters WHERE user_id = $1 AND number = $2`,
		userID, number,
	)
	meter, err := scanMeter(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find meter by user and number: %w", err)
	}
	return meter, nil
}

// ListByUserID はユーザーの全メーターを作成順で返す。
func (r *PostgresMeterRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Meter, error) {
	return r.list(ctx,
		`SELECT `+meterColumns+` FROM meters WHERE user_id = $1 ORDER BY created_at`, userID)
}

// ListAll は全メーターを返す。スイープで使用する。
func (r *PostgresMeterRepo) ListAll(ctx context.Context) ([]*model.Meter, error) {
	return r.list(ctx, `SELECT `+meterColumns+` FROM meters ORDER BY created_at`)
}

func (r *PostgresMeterRepo) list(ctx context.Context, query string, args ...any) ([]*model.Meter, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list meters: %w", err)
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

// Create はメーターを作成する。
func (r *PostgresMeterRepo) Create(ctx context.Context, meter *model.Meter) error {
	var lastChecked any
	if meter.LastCheckedAt != nil {
		lastChecked = *meter.LastCheckedAt
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO meters (id, user_id, number, name, min_balance, last_balance, last_checked_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		meter.ID, meter.UserID, meter.Number, meter.Name,
		meter.MinBalance, meter.LastBalance, lastChecked,
		meter.CreatedAt, meter.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert meter: %w", err)
	}
	return nil
}

// UpdateBalance は最終残高と最終確認時刻を更新する。
func (r *PostgresMeterRepo) UpdateBalance(ctx context.Context, meterID string, balance decimal.Decimal, checkedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE meters SET last_balance = $2, last_checked_at = $3, updated_at = now() WHERE id = $1`,
		meterID, balance, checkedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update meter balance: %w", err)
	}
	return nil
}

// UpdateMinBalance は低残高アラート閾値を更新する。
func (r *PostgresMeterRepo) UpdateMinBalance(ctx context.Context, meterID string, min decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE meters SET min_balance = $2, updated_at = now() WHERE id = $1`,
		meterID, min,
	)
	if err != nil {
		return fmt.Errorf("failed to update min balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("meter not found: %s", meterID)
	}
	return nil
}

// Delete は指定IDのメーターを削除する。関連する残高履歴はCASCADE削除される。
func (r *PostgresMeterRepo) Delete(ctx context.Context, meterID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM meters WHERE id = $1`, meterID)
	if err != nil {
		return fmt.Errorf("failed to delete meter: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("meter not found: %s", meterID)
	}
	return nil
}

// compile-time interface check
var _ MeterRepository = (*PostgresMeterRepo)(nil)
