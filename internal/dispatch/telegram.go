// Package dispatch は応答・通知メッセージをチャットプラットフォームへ送信する機能を提供する。
// 会話エンジンが生成したチャネル非依存のReplyを、各プラットフォームの
// API呼び出しへ変換する。
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/meterman/internal/model"
)

// telegramEndpoint はTelegram Bot APIのベースURL。
const telegramEndpoint = "https://api.telegram.org"

// Sender は単一チャネルへのメッセージ送信のインターフェースを定義する。
type Sender interface {
	// Channel はこのSenderが担当するチャネルを返す。
	Channel() model.Channel
	// Send は指定ハンドル宛にメッセージを送信する。
	Send(ctx context.Context, externalID string, reply *model.Reply) error
}

// TelegramSender はTelegram Bot API経由のSender実装。
// クイックリプライはコールバックデータ付きインラインキーボードに変換される。
type TelegramSender struct {
	httpClient *http.Client
	logger     *slog.Logger
	token      string
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewTelegramSender はTelegramSenderの新しいインスタンスを生成する。
func NewTelegramSender(httpClient *http.Client, logger *slog.Logger, token string) *TelegramSender {
	return &TelegramSender{
		httpClient: httpClient,
		logger:     logger,
		token:      token,
		endpoint:   telegramEndpoint,
	}
}

// Channel はtelegramを返す。
func (s *TelegramSender) Channel() model.Channel {
	return model.ChannelTelegram
}

// telegramMessage はsendMessage APIのリクエストボディ。
type telegramMessage struct {
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text"`
	ReplyMarkup *telegramMarkup `json:"reply_markup,omitempty"`
}

type telegramMarkup struct {
	InlineKeyboard [][]telegramButton `json:"inline_keyboard"`
}

type telegramButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Send はsendMessage APIでメッセージを送信する。
func (s *TelegramSender) Send(ctx context.Context, externalID string, reply *model.Reply) error {
	msg := telegramMessage{
		ChatID: externalID,
		Text:   reply.Text,
	}
	if len(reply.QuickReplies) > 0 {
		markup := &telegramMarkup{}
		// ラベルが長くなりがちなので1行1ボタンで並べる
		for _, qr := range reply.QuickReplies {
			markup.InlineKeyboard = append(markup.InlineKeyboard, []telegramButton{
				{Text: qr.Label, CallbackData: qr.Payload},
			})
		}
		msg.ReplyMarkup = markup
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.endpoint, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call telegram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Bot APIはエラー詳細をJSONで返すためログに残す
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.logger.Error("Telegram APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("detail", string(detail)),
		)
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// compile-time interface check
var _ Sender = (*TelegramSender)(nil)
