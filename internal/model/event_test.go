package model

import "testing"

func TestInboundEvent_Command(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"単純なコマンド", "/add", "add"},
		{"大文字を含む", "/Add", "add"},
		{"引数付き", "/add 31041051783", "add"},
		{"グループ表記", "/check@NescoMeterBot", "check"},
		{"前後の空白", "  /list  ", "list"},
		{"コマンドでない", "balance please", ""},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := InboundEvent{Text: tt.text}
			if got := e.Command(); got != tt.want {
				t.Errorf("Command() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInboundEvent_IsCommand(t *testing.T) {
	if !(InboundEvent{Text: "/help"}).IsCommand() {
		t.Error("/help はコマンドと判定されるべき")
	}
	if (InboundEvent{Text: "help"}).IsCommand() {
		t.Error("help はコマンドと判定されてはならない")
	}
	if (InboundEvent{Postback: "cancel"}).IsCommand() {
		t.Error("ポストバックはコマンドと判定されてはならない")
	}
}

func TestChannel_IsValid(t *testing.T) {
	if !ChannelTelegram.IsValid() {
		t.Error("telegram は有効なチャネル")
	}
	if !ChannelMessenger.IsValid() {
		t.Error("messenger は有効なチャネル")
	}
	if Channel("whatsapp").IsValid() {
		t.Error("whatsapp は無効なチャネル")
	}
	if Channel("").IsValid() {
		t.Error("空文字列は無効なチャネル")
	}
}
