// Package model はドメインモデルを定義する。
package model

import "time"

// Channel はユーザーがやり取りするチャットプラットフォームを表す。
type Channel string

const (
	// ChannelTelegram はTelegram Botプラットフォーム。
	ChannelTelegram Channel = "telegram"
	// ChannelMessenger はFacebook Messengerプラットフォーム。
	ChannelMessenger Channel = "messenger"
)

// IsValid はサポート対象のチャネルかどうかを返す。
func (c Channel) IsValid() bool {
	return c == ChannelTelegram || c == ChannelMessenger
}

// User はサービス利用者の正規化されたアイデンティティを表す。
// チャネルごとの外部ハンドルはChannelIdentityで紐付けられ、
// 少なくとも1つのチャネルにハンドルを持つ。
// ユーザーは物理削除しない（ソフト状態のみ）。
type User struct {
	ID              string
	DisplayName     string
	ReminderEnabled bool
	ReminderTime    string // "HH:MM" ローカル時刻。日次ティックに対する意図として評価される
	LastActiveAt    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ChannelIdentity はチャネル固有の外部ハンドルと内部ユーザーの対応を表す。
// (channel, external_id) の組は全ユーザーを通じて一意。
type ChannelIdentity struct {
	ID         string
	UserID     string
	Channel    Channel
	ExternalID string
	CreatedAt  time.Time
}
