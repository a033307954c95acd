package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/meterman/internal/convo"
	"github.com/hitoshi/meterman/internal/dispatch"
	"github.com/hitoshi/meterman/internal/identity"
	"github.com/hitoshi/meterman/internal/model"
)

// maxWebhookBody はWebhookリクエストボディの最大サイズ。
const maxWebhookBody = 1 << 20 // 1MiB

// msgGenericError はエンジン処理が失敗した場合のフォールバック応答。
const msgGenericError = "❌ Something went wrong. Please try again later."

// eventProcessor は正規化済みイベントの処理フローを共通化する。
// ユーザー解決 → 会話エンジン → 応答送信の順に実行し、
// 失敗はログに残してユーザーには一般的なエラーメッセージを返す。
type eventProcessor struct {
	resolver   identity.ResolverService
	engine     convo.EngineService
	dispatcher dispatch.DispatcherService
	logger     *slog.Logger
}

// processEvent はイベントを会話エンジンに適用し、応答を送信する。
func (p *eventProcessor) processEvent(ctx context.Context, event model.InboundEvent) {
	user, err := p.resolver.Resolve(ctx, event.Channel, event.ExternalID, event.DisplayName)
	if err != nil {
		// 検証エラーは不正なペイロードによるもので、インフラ障害とは区別する
		level := slog.LevelError
		if model.IsValidationError(err) {
			level = slog.LevelWarn
		}
		p.logger.Log(ctx, level, "ユーザー解決に失敗しました",
			slog.String("channel", string(event.Channel)),
			slog.String("error", err.Error()),
		)
		return
	}

	reply, err := p.engine.Handle(ctx, user, event)
	if err != nil {
		p.logger.Error("イベント処理に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		reply = &model.Reply{Text: msgGenericError}
	}

	if reply != nil {
		if err := p.dispatcher.Send(ctx, event.Channel, event.ExternalID, reply); err != nil {
			p.logger.Error("応答の送信に失敗しました",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// writeOK はWebhook用の200応答を書き込む。
func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"ok":true}`))
}
