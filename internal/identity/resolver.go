// Package identity はチャネル上のハンドルと内部ユーザーの対応付けを提供する。
package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/meterman/internal/model"
	"github.com/hitoshi/meterman/internal/repository"
	"github.com/hitoshi/meterman/internal/security"
)

// ResolverService はアイデンティティ解決機能のインターフェースを定義する。
// 受信イベントごとに呼び出され、(channel, external_id)を内部ユーザーに解決する。
type ResolverService interface {
	// Resolve は(channel, externalID)に対応するユーザーを返す。
	// 未知のハンドルの場合はユーザーとアイデンティティを新規作成する。
	// 同一ハンドルの並行初回メッセージは一意制約違反を再取得で回復し、
	// 必ず同一ユーザーに収束する。
	Resolve(ctx context.Context, channel model.Channel, externalID, displayName string) (*model.User, error)
}

// Resolver はResolverServiceの実装。
type Resolver struct {
	users     repository.UserRepository
	sanitizer security.TextSanitizerService
	logger    *slog.Logger
}

// NewResolver はResolverの新しいインスタンスを生成する。
func NewResolver(users repository.UserRepository, sanitizer security.TextSanitizerService, logger *slog.Logger) *Resolver {
	return &Resolver{
		users:     users,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Resolve は(channel, externalID)に対応するユーザーを返す。
func (r *Resolver) Resolve(ctx context.Context, channel model.Channel, externalID, displayName string) (*model.User, error) {
	if !channel.IsValid() {
		return nil, model.NewValidationError("unknown channel: %s", channel)
	}
	if externalID == "" {
		return nil, model.NewValidationError("empty external ID")
	}

	user, err := r.users.FindByChannelIdentity(ctx, channel, externalID)
	if err != nil {
		return nil, model.NewStorageError("find channel identity", err)
	}
	if user != nil {
		r.touch(ctx, user.ID)
		return user, nil
	}

	now := time.Now()
	user = &model.User{
		ID:          uuid.NewString(),
		DisplayName: r.sanitizer.SanitizeLine(displayName),
		// 日次リマインダーは初期状態で有効。/reminderでいつでも切り替えられる
		ReminderEnabled: true,
		ReminderTime:    "20:00",
		LastActiveAt:    now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ident := &model.ChannelIdentity{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Channel:    channel,
		ExternalID: externalID,
		CreatedAt:  now,
	}

	err = r.users.CreateWithIdentity(ctx, user, ident)
	if err == nil {
		r.logger.Info("新規ユーザーを登録しました",
			slog.String("user_id", user.ID),
			slog.String("channel", string(channel)),
		)
		return user, nil
	}

	// 同一ハンドルからの並行初回メッセージ: 先勝ちの行を読み直す
	if errors.Is(err, model.ErrIdentityExists) {
		user, err = r.users.FindByChannelIdentity(ctx, channel, externalID)
		if err != nil {
			return nil, model.NewStorageError("refetch channel identity", err)
		}
		if user == nil {
			return nil, model.NewStorageError("refetch channel identity", errors.New("identity vanished after unique violation"))
		}
		r.touch(ctx, user.ID)
		return user, nil
	}

	return nil, model.NewStorageError("create user with identity", err)
}

// touch は最終アクティビティ時刻をベストエフォートで更新する。
// 失敗しても受信イベントの処理は継続する。
func (r *Resolver) touch(ctx context.Context, userID string) {
	if err := r.users.TouchLastActive(ctx, userID, time.Now()); err != nil {
		r.logger.Warn("最終アクティビティ時刻の更新に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// compile-time interface check
var _ ResolverService = (*Resolver)(nil)
