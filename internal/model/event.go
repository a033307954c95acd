// Package model はドメインモデルを定義する。
package model

import "strings"

// InboundEvent はチャットプラットフォームから届いたイベントを
// チャネル非依存の内部表現に正規化したもの。
// 各Webhookハンドラーが境界で生成し、会話エンジンはこの型だけを受け取る。
type InboundEvent struct {
	Channel     Channel
	ExternalID  string // プラットフォーム固有のハンドル（チャットID、ページスコープID）
	DisplayName string // ベストエフォートの表示名ヒント（空の場合あり）
	Text        string // テキストメッセージ本文（ポストバックの場合は空）
	Postback    string // クイックリプライ/コールバックのペイロード（テキストの場合は空）
}

// IsCommand はテキストがトップレベルコマンド（"/"始まり）かどうかを返す。
func (e InboundEvent) IsCommand() bool {
	return strings.HasPrefix(strings.TrimSpace(e.Text), "/")
}

// Command はコマンド名を小文字で返す（例: "/Add 123" → "add"）。
// コマンドでない場合は空文字列を返す。
func (e InboundEvent) Command() string {
	text := strings.TrimSpace(e.Text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	// Telegramのグループ表記 "/add@BotName" を許容する
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(strings.TrimPrefix(cmd, "/"))
}

// QuickReply は送信メッセージに添付する選択肢ボタンを表す。
// Telegramではインラインキーボード、MessengerではQuick Replyに変換される。
type QuickReply struct {
	Label   string
	Payload string
}

// Reply は会話エンジンが生成する応答メッセージ。
// ディスパッチャーがチャネル固有のAPI呼び出しへ変換する。
type Reply struct {
	Text         string
	QuickReplies []QuickReply
}
