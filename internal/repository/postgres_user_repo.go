package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/meterman/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, display_name, reminder_enabled, reminder_time, last_active_at, created_at, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.DisplayName, &user.ReminderEnabled, &user.ReminderTime,
		&user.LastActiveAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByChannelIdentity は(channel, external_id)でユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByChannelIdentity(ctx context.Context, channel model.Channel, externalID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT u.id, u.display_name, u.reminder_enabled, u.reminder_time, u.last_active_at, u.created_at, u.updated_at
		 FROM users u
		 JOIN channel_identities ci ON ci.user_id = u.id
		 WHERE ci.channel = $1 AND ci.external_id = $2`,
		string(channel), externalID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by channel identity: %w", err)
	}
	return user, nil
}

// CreateWithIdentity はユーザーとチャネルアイデンティティを同一トランザクションで作成する。
// 一意制約違反の場合はmodel.ErrIdentityExistsを返す。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.ChannelIdentity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, display_name, reminder_enabled, reminder_time, last_active_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.DisplayName, user.ReminderEnabled, user.ReminderTime,
		user.LastActiveAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO channel_identities (id, user_id, channel, external_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, string(identity.Channel), identity.ExternalID, identity.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrIdentityExists
		}
		return fmt.Errorf("failed to insert channel identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return model.ErrIdentityExists
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// TouchLastActive はユーザーの最終アクティビティ時刻を更新する。
func (r *PostgresUserRepo) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_active_at = $2, updated_at = $2 WHERE id = $1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to touch last active: %w", err)
	}
	return nil
}

// SetReminderEnabled は日次リマインダーの有効フラグを更新する。
func (r *PostgresUserRepo) SetReminderEnabled(ctx context.Context, userID string, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET reminder_enabled = $2, updated_at = now() WHERE id = $1`,
		userID, enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to update reminder flag: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// ListReminderEnabled はリマインダー有効な全ユーザーを返す。
func (r *PostgresUserRepo) ListReminderEnabled(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE reminder_enabled = TRUE ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder-enabled users: %w", err)
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

// ListIdentitiesByUserID は指定ユーザーの全チャネルアイデンティティを返す。
func (r *PostgresUserRepo) ListIdentitiesByUserID(ctx context.Context, userID string) ([]*model.ChannelIdentity, error) {
	return r.listIdentities(ctx,
		`SELECT id, user_id, channel, external_id, created_at
		 FROM channel_identities WHERE user_id = $1 ORDER BY created_at`, userID)
}

// ListAllIdentities は既知の全(ユーザー, チャネル)対を返す。
func (r *PostgresUserRepo) ListAllIdentities(ctx context.Context) ([]*model.ChannelIdentity, error) {
	return r.listIdentities(ctx,
		`SELECT id, user_id, channel, external_id, created_at
		 FROM channel_identities ORDER BY created_at`)
}

func (r *PostgresUserRepo) listIdentities(ctx context.Context, query string, args ...any) ([]*model.ChannelIdentity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel identities: %w", err)
	}
	defer rows.Close()

	var identities []*model.ChannelIdentity
	for rows.Next() {
		ident := &model.ChannelIdentity{}
		var channel string
		if err := rows.Scan(&ident.ID, &ident.UserID, &channel, &ident.ExternalID, &ident.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel identity: %w", err)
		}
		ident.Channel = model.Channel(channel)
		identities = append(identities, ident)
	}
	return identities, rows.Err()
}

// isUniqueViolation はlib/pqの一意制約違反エラーかどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
