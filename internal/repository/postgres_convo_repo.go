package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/meterman/internal/model"
)

// PostgresConvoRepo はPostgreSQLを使用した会話状態リポジトリ。
// (user_id, channel)を主キーとしたUPSERTで冪等に保存する。
type PostgresConvoRepo struct {
	db *sql.DB
}

// NewPostgresConvoRepo はPostgresConvoRepoを生成する。
func NewPostgresConvoRepo(db *sql.DB) *PostgresConvoRepo {
	return &PostgresConvoRepo{db: db}
}

// Find は(user_id, channel)の会話状態を取得する。見つからない場合はnilを返す。
func (r *PostgresConvoRepo) Find(ctx context.Context, userID string, channel model.Channel) (*model.Conversation, error) {
	convo := &model.Conversation{}
	var state, ch string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, channel, state, pending_meter_number, pending_meter_id, updated_at
		 FROM conversation_states WHERE user_id = $1 AND channel = $2`,
		userID, string(channel),
	).Scan(&convo.UserID, &ch, &state, &convo.PendingMeterNumber, &convo.PendingMeterID, &convo.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation state: %w", err)
	}
	convo.Channel = model.Channel(ch)
	convo.State = model.ConvoState(state)
	return convo, nil
}

// Save は会話状態を冪等にUPSERTする。
func (r *PostgresConvoRepo) Save(ctx context.Context, convo *model.Conversation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversation_states (user_id, channel, state, pending_meter_number, pending_meter_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, channel) DO UPDATE SET
		   state = EXCLUDED.state,
		   pending_meter_number = EXCLUDED.pending_meter_number,
		   pending_meter_id = EXCLUDED.pending_meter_id,
		   updated_at = EXCLUDED.updated_at`,
		convo.UserID, string(convo.Channel), string(convo.State),
		convo.PendingMeterNumber, convo.PendingMeterID, convo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	return nil
}

// Clear は(user_id, channel)の会話状態を削除する。存在しなくてもエラーにしない。
func (r *PostgresConvoRepo) Clear(ctx context.Context, userID string, channel model.Channel) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM conversation_states WHERE user_id = $1 AND channel = $2`,
		userID, string(channel),
	)
	if err != nil {
		return fmt.Errorf("failed to clear conversation state: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConvoRepo)(nil)
