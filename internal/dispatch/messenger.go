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

// messengerEndpoint はFacebook Graph APIのベースURL。
const messengerEndpoint = "https://graph.facebook.com/v19.0"

// MessengerSender はFacebook Messenger Send API経由のSender実装。
// クイックリプライはMessengerネイティブのquick_repliesに変換される。
type MessengerSender struct {
	httpClient *http.Client
	logger     *slog.Logger
	pageToken  string
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewMessengerSender はMessengerSenderの新しいインスタンスを生成する。
func NewMessengerSender(httpClient *http.Client, logger *slog.Logger, pageToken string) *MessengerSender {
	return &MessengerSender{
		httpClient: httpClient,
		logger:     logger,
		pageToken:  pageToken,
		endpoint:   messengerEndpoint,
	}
}

// Channel はmessengerを返す。
func (s *MessengerSender) Channel() model.Channel {
	return model.ChannelMessenger
}

// messengerMessage はSend APIのリクエストボディ。
type messengerMessage struct {
	Recipient messengerRecipient `json:"recipient"`
	Message   messengerContent   `json:"message"`
}

type messengerRecipient struct {
	ID string `json:"id"`
}

type messengerContent struct {
	Text         string               `json:"text"`
	QuickReplies []messengerQuickItem `json:"quick_replies,omitempty"`
}

type messengerQuickItem struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

// Send はSend APIでメッセージを送信する。
func (s *MessengerSender) Send(ctx context.Context, externalID string, reply *model.Reply) error {
	msg := messengerMessage{
		Recipient: messengerRecipient{ID: externalID},
		Message:   messengerContent{Text: reply.Text},
	}
	for _, qr := range reply.QuickReplies {
		msg.Message.QuickReplies = append(msg.Message.QuickReplies, messengerQuickItem{
			ContentType: "text",
			Title:       qr.Label,
			Payload:     qr.Payload,
		})
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal messenger message: %w", err)
	}

	url := fmt.Sprintf("%s/me/messages?access_token=%s", s.endpoint, s.pageToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build messenger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call messenger API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.logger.Error("Messenger APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("detail", string(detail)),
		)
		return fmt.Errorf("messenger API returned status %d", resp.StatusCode)
	}
	return nil
}

// compile-time interface check
var _ Sender = (*MessengerSender)(nil)
