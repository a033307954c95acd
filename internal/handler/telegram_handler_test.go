package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/meterman/internal/dispatch"
	"github.com/hitoshi/meterman/internal/model"
)

// --- 共通スタブ ---

type stubResolver struct {
	user *model.User
	err  error
}

func (s *stubResolver) Resolve(ctx context.Context, channel model.Channel, externalID, displayName string) (*model.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.user != nil {
		return s.user, nil
	}
	return &model.User{ID: "user-1", DisplayName: displayName}, nil
}

type stubEngine struct {
	events []model.InboundEvent
	reply  *model.Reply
	err    error
}

func (s *stubEngine) Handle(ctx context.Context, user *model.User, event model.InboundEvent) (*model.Reply, error) {
	s.events = append(s.events, event)
	if s.err != nil {
		return nil, s.err
	}
	if s.reply != nil {
		return s.reply, nil
	}
	return &model.Reply{Text: "ok"}, nil
}

type stubDispatcher struct {
	sent []dispatchedReply
}

type dispatchedReply struct {
	channel    model.Channel
	externalID string
	text       string
}

func (s *stubDispatcher) Send(ctx context.Context, channel model.Channel, externalID string, reply *model.Reply) error {
	s.sent = append(s.sent, dispatchedReply{channel: channel, externalID: externalID, text: reply.Text})
	return nil
}
func (s *stubDispatcher) SendToUser(ctx context.Context, userID string, reply *model.Reply) error {
	return nil
}
func (s *stubDispatcher) Broadcast(ctx context.Context, text string) (*dispatch.BroadcastResult, error) {
	return &dispatch.BroadcastResult{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

// --- 正規化 ---

func TestNormalizeTelegramUpdate_Message(t *testing.T) {
	update := telegramUpdate{
		Message: &telegramInbound{
			Text: "/add",
			Chat: telegramChat{ID: 987654321},
			From: telegramFrom{FirstName: "Rahim", LastName: "Uddin"},
		},
	}

	event, ok := normalizeTelegramUpdate(update)
	if !ok {
		t.Fatal("テキストメッセージは正規化されるべき")
	}
	if event.Channel != model.ChannelTelegram {
		t.Errorf("Channel = %q", event.Channel)
	}
	if event.ExternalID != "987654321" {
		t.Errorf("ExternalID = %q, want 987654321", event.ExternalID)
	}
	if event.Text != "/add" {
		t.Errorf("Text = %q", event.Text)
	}
	if event.DisplayName != "Rahim Uddin" {
		t.Errorf("DisplayName = %q", event.DisplayName)
	}
}

func TestNormalizeTelegramUpdate_Callback(t *testing.T) {
	update := telegramUpdate{
		CallbackQuery: &telegramCallback{
			Data:    "remove:m-1",
			From:    telegramFrom{Username: "rahim_u"},
			Message: &telegramInbound{Chat: telegramChat{ID: 987654321}},
		},
	}

	event, ok := normalizeTelegramUpdate(update)
	if !ok {
		t.Fatal("コールバッククエリは正規化されるべき")
	}
	if event.Postback != "remove:m-1" {
		t.Errorf("Postback = %q", event.Postback)
	}
	if event.ExternalID != "987654321" {
		t.Errorf("ExternalID = %q", event.ExternalID)
	}
	if event.DisplayName != "rahim_u" {
		t.Errorf("名前がない場合はユーザー名を使うべき: %q", event.DisplayName)
	}
}

func TestNormalizeTelegramUpdate_Ignored(t *testing.T) {
	tests := []struct {
		name   string
		update telegramUpdate
	}{
		{"空の更新", telegramUpdate{}},
		{"テキストなしメッセージ", telegramUpdate{Message: &telegramInbound{Chat: telegramChat{ID: 1}}}},
		{"メッセージなしコールバック", telegramUpdate{CallbackQuery: &telegramCallback{Data: "cancel"}}},
		{"データなしコールバック", telegramUpdate{CallbackQuery: &telegramCallback{Message: &telegramInbound{}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := normalizeTelegramUpdate(tt.update); ok {
				t.Error("処理対象外の更新は無視されるべき")
			}
		})
	}
}

// --- Webhook ---

func TestTelegramHandler_Webhook(t *testing.T) {
	engine := &stubEngine{reply: &model.Reply{Text: "📝 Let's add a new meter!"}}
	dispatcher := &stubDispatcher{}
	h := NewTelegramHandler(&stubResolver{}, engine, dispatcher, discardLogger())

	body := `{"message":{"text":"/add","chat":{"id":987654321},"from":{"first_name":"Rahim"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータス = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("ボディ = %q", rec.Body.String())
	}
	if len(engine.events) != 1 || engine.events[0].Text != "/add" {
		t.Errorf("エンジンにイベントが渡されるべき: %+v", engine.events)
	}
	if len(dispatcher.sent) != 1 || dispatcher.sent[0].externalID != "987654321" {
		t.Errorf("応答が送信されるべき: %+v", dispatcher.sent)
	}
}

func TestTelegramHandler_Webhook_MalformedJSON(t *testing.T) {
	h := NewTelegramHandler(&stubResolver{}, &stubEngine{}, &stubDispatcher{}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	// 再送を抑止するため壊れたペイロードにも200を返す
	if rec.Code != http.StatusOK {
		t.Errorf("ステータス = %d, want 200", rec.Code)
	}
}

func TestTelegramHandler_Webhook_EngineErrorSendsGenericReply(t *testing.T) {
	engine := &stubEngine{err: model.NewStorageError("find conversation state", context.DeadlineExceeded)}
	dispatcher := &stubDispatcher{}
	h := NewTelegramHandler(&stubResolver{}, engine, dispatcher, discardLogger())

	body := `{"message":{"text":"/list","chat":{"id":1},"from":{}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータス = %d, want 200", rec.Code)
	}
	if len(dispatcher.sent) != 1 || !strings.Contains(dispatcher.sent[0].text, "Something went wrong") {
		t.Errorf("エンジン失敗時は一般的なエラーメッセージを送信すべき: %+v", dispatcher.sent)
	}
}
