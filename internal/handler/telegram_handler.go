// Package handler はHTTPエンドポイントのハンドラーとルーティングを提供する。
// Webhookハンドラーはプラットフォーム固有のペイロードを内部表現に正規化する
// 境界であり、会話エンジンにはチャネルの知識を持ち込ませない。
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/meterman/internal/convo"
	"github.com/hitoshi/meterman/internal/dispatch"
	"github.com/hitoshi/meterman/internal/identity"
	"github.com/hitoshi/meterman/internal/model"
)

// TelegramHandler はTelegram Bot APIのWebhookを処理する。
type TelegramHandler struct {
	eventProcessor
}

// NewTelegramHandler はTelegramHandlerの新しいインスタンスを生成する。
func NewTelegramHandler(resolver identity.ResolverService, engine convo.EngineService, dispatcher dispatch.DispatcherService, logger *slog.Logger) *TelegramHandler {
	return &TelegramHandler{
		eventProcessor: eventProcessor{
			resolver:   resolver,
			engine:     engine,
			dispatcher: dispatcher,
			logger:     logger,
		},
	}
}

// telegramUpdate はBot APIのUpdateオブジェクトの必要部分。
type telegramUpdate struct {
	Message       *telegramInbound  `json:"message"`
	CallbackQuery *telegramCallback `json:"callback_query"`
}

type telegramInbound struct {
	Text string       `json:"text"`
	Chat telegramChat `json:"chat"`
	From telegramFrom `json:"from"`
}

type telegramCallback struct {
	Data    string           `json:"data"`
	From    telegramFrom     `json:"from"`
	Message *telegramInbound `json:"message"`
}

type telegramChat struct {
	ID int64 `json:"id"`
}

type telegramFrom struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// displayName はベストエフォートの表示名を組み立てる。
func (f telegramFrom) displayName() string {
	name := strings.TrimSpace(strings.TrimSpace(f.FirstName) + " " + strings.TrimSpace(f.LastName))
	if name == "" {
		name = f.Username
	}
	return name
}

// Webhook はPOST /webhook/telegramを処理する。
// 処理結果に関わらず200を返し、プラットフォーム側の再送を抑止する。
func (h *TelegramHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var update telegramUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&update); err != nil {
		h.logger.Warn("Telegram更新のデコードに失敗しました",
			slog.String("error", err.Error()),
		)
		writeOK(w)
		return
	}

	event, ok := normalizeTelegramUpdate(update)
	if !ok {
		// テキストでもコールバックでもない更新（編集、参加通知など）は無視する
		writeOK(w)
		return
	}

	h.processEvent(r.Context(), event)
	writeOK(w)
}

// normalizeTelegramUpdate はUpdateをチャネル非依存のInboundEventに変換する。
func normalizeTelegramUpdate(update telegramUpdate) (model.InboundEvent, bool) {
	if update.CallbackQuery != nil {
		cb := update.CallbackQuery
		if cb.Message == nil || cb.Data == "" {
			return model.InboundEvent{}, false
		}
		return model.InboundEvent{
			Channel:     model.ChannelTelegram,
			ExternalID:  strconv.FormatInt(cb.Message.Chat.ID, 10),
			DisplayName: cb.From.displayName(),
			Postback:    cb.Data,
		}, true
	}

	if update.Message != nil && strings.TrimSpace(update.Message.Text) != "" {
		return model.InboundEvent{
			Channel:     model.ChannelTelegram,
			ExternalID:  strconv.FormatInt(update.Message.Chat.ID, 10),
			DisplayName: update.Message.From.displayName(),
			Text:        update.Message.Text,
		}, true
	}

	return model.InboundEvent{}, false
}
