package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/meterman/internal/convo"
	"github.com/hitoshi/meterman/internal/dispatch"
	"github.com/hitoshi/meterman/internal/identity"
	"github.com/hitoshi/meterman/internal/model"
)

// MessengerHandler はFacebook MessengerのWebhookを処理する。
// GETは購読時の検証ハンドシェイク、POSTはメッセージイベントの受信。
type MessengerHandler struct {
	eventProcessor
	verifyToken string
	appSecret   string // 空の場合は署名検証をスキップ
}

// NewMessengerHandler はMessengerHandlerの新しいインスタンスを生成する。
func NewMessengerHandler(resolver identity.ResolverService, engine convo.EngineService, dispatcher dispatch.DispatcherService, logger *slog.Logger, verifyToken, appSecret string) *MessengerHandler {
	return &MessengerHandler{
		eventProcessor: eventProcessor{
			resolver:   resolver,
			engine:     engine,
			dispatcher: dispatcher,
			logger:     logger,
		},
		verifyToken: verifyToken,
		appSecret:   appSecret,
	}
}

// Verify はGET /webhook/messengerの検証ハンドシェイクを処理する。
// hub.verify_tokenが一致した場合のみhub.challengeをそのまま返す。
func (h *MessengerHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		h.logger.Warn("Messenger検証ハンドシェイクに失敗しました",
			slog.String("mode", q.Get("hub.mode")),
		)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(q.Get("hub.challenge")))
}

// messengerEvent はWebhookペイロードの必要部分。
type messengerEvent struct {
	Entry []struct {
		Messaging []messengerMessaging `json:"messaging"`
	} `json:"entry"`
}

type messengerMessaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message *struct {
		Text       string `json:"text"`
		QuickReply *struct {
			Payload string `json:"payload"`
		} `json:"quick_reply"`
	} `json:"message"`
	Postback *struct {
		Payload string `json:"payload"`
	} `json:"postback"`
}

// Webhook はPOST /webhook/messengerを処理する。
// 署名が不正な場合を除き、処理結果に関わらず200を返す。
func (h *MessengerHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("Messengerリクエストボディの読み取りに失敗しました",
			slog.String("error", err.Error()),
		)
		writeOK(w)
		return
	}

	if !h.validSignature(r.Header.Get("X-Hub-Signature-256"), body) {
		h.logger.Warn("Messenger署名検証に失敗しました")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var payload messengerEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("Messengerペイロードのデコードに失敗しました",
			slog.String("error", err.Error()),
		)
		writeOK(w)
		return
	}

	for _, entry := range payload.Entry {
		for _, msg := range entry.Messaging {
			event, ok := normalizeMessengerEvent(msg)
			if !ok {
				continue
			}
			h.processEvent(r.Context(), event)
		}
	}
	writeOK(w)
}

// validSignature はX-Hub-Signature-256のHMACを検証する。
// appSecret未設定の場合は常にtrueを返す。
func (h *MessengerHandler) validSignature(header string, body []byte) bool {
	if h.appSecret == "" {
		return true
	}

	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// normalizeMessengerEvent はmessagingエントリをInboundEventに変換する。
// Messengerは表示名をWebhookに含めないためDisplayNameは空になる。
func normalizeMessengerEvent(msg messengerMessaging) (model.InboundEvent, bool) {
	if msg.Sender.ID == "" {
		return model.InboundEvent{}, false
	}

	event := model.InboundEvent{
		Channel:    model.ChannelMessenger,
		ExternalID: msg.Sender.ID,
	}

	switch {
	case msg.Message != nil && msg.Message.QuickReply != nil:
		event.Postback = msg.Message.QuickReply.Payload
	case msg.Postback != nil:
		event.Postback = msg.Postback.Payload
	case msg.Message != nil && strings.TrimSpace(msg.Message.Text) != "":
		event.Text = msg.Message.Text
	default:
		return model.InboundEvent{}, false
	}
	return event, true
}
