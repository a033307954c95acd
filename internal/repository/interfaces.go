// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/meterman/internal/model"
)

// UserRepository はユーザーとチャネルアイデンティティの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByChannelIdentity は(channel, external_id)でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByChannelIdentity(ctx context.Context, channel model.Channel, externalID string) (*model.User, error)

	// CreateWithIdentity はユーザーとチャネルアイデンティティを同一トランザクションで作成する。
	// (channel, external_id)の一意制約違反の場合はmodel.ErrIdentityExistsを返す。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.ChannelIdentity) error

	// TouchLastActive はユーザーの最終アクティビティ時刻を更新する。
	TouchLastActive(ctx context.Context, userID string, at time.Time) error

	// SetReminderEnabled は日次リマインダーの有効フラグを更新する。
	SetReminderEnabled(ctx context.Context, userID string, enabled bool) error

	// ListReminderEnabled はリマインダー有効な全ユーザーを返す。
	ListReminderEnabled(ctx context.Context) ([]*model.User, error)

	// ListIdentitiesByUserID は指定ユーザーの全チャネルアイデンティティを返す。
	ListIdentitiesByUserID(ctx context.Context, userID string) ([]*model.ChannelIdentity, error)

	// ListAllIdentities は既知の全(ユーザー, チャネル)対を返す。ブロードキャストで使用する。
	ListAllIdentities(ctx context.Context) ([]*model.ChannelIdentity, error)
}

// MeterRepository はメーターデータの永続化インターフェース。
type MeterRepository interface {
	// FindByID は指定IDのメーターを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Meter, error)

	// FindByUserAndNumber はユーザーIDとメーター番号でメーターを検索する。
	// 見つからない場合はnilを返す。
	FindByUserAndNumber(ctx context.Context, userID, number string) (*model.Meter, error)

	// ListByUserID はユーザーの全メーターを作成順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Meter, error)

	// ListAll は全メーターを返す。スイープで使用する。
	ListAll(ctx context.Context) ([]*model.Meter, error)

	// Create はメーターを作成する。
	Create(ctx context.Context, meter *model.Meter) error

	// UpdateBalance は最終残高と最終確認時刻を更新する。
	UpdateBalance(ctx context.Context, meterID string, balance decimal.Decimal, checkedAt time.Time) error

	// UpdateMinBalance は低残高アラート閾値を更新する。
	UpdateMinBalance(ctx context.Context, meterID string, min decimal.Decimal) error

	// Delete は指定IDのメーターを削除する。関連する残高履歴はCASCADE削除される。
	Delete(ctx context.Context, meterID string) error
}

// ReadingRepository は残高履歴（追記専用）の永続化インターフェース。
type ReadingRepository interface {
	// Append は残高観測を追記する。既存レコードの更新・削除は提供しない。
	Append(ctx context.Context, reading *model.Reading) error

	// LatestAtOrBefore は指定時刻以前で最新の観測を返す。見つからない場合はnilを返す。
	LatestAtOrBefore(ctx context.Context, meterID string, at time.Time) (*model.Reading, error)

	// ListSince は指定時刻以降の観測を古い順で返す。使用量レポートで使用する。
	ListSince(ctx context.Context, meterID string, since time.Time) ([]*model.Reading, error)
}

// ConversationRepository は会話状態の永続化インターフェース。
// 会話状態は(user_id, channel)ごとに高々1件の一時レコード。
type ConversationRepository interface {
	// Find は(user_id, channel)の会話状態を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID string, channel model.Channel) (*model.Conversation, error)

	// Save は会話状態を冪等にUPSERTする。
	Save(ctx context.Context, convo *model.Conversation) error

	// Clear は(user_id, channel)の会話状態を削除する。存在しなくてもエラーにしない。
	Clear(ctx context.Context, userID string, channel model.Channel) error
}

// StatsSummary は運用ダッシュボード向けの集計サマリー。
type StatsSummary struct {
	TotalUsers       int                `json:"total_users"`
	TotalMeters      int                `json:"total_meters"`
	RemindersEnabled int                `json:"reminders_enabled"`
	ActiveUsers24h   int                `json:"active_users_24h"`
	LatestUsers      []*model.User      `json:"latest_users"`
	LatestMeters     []*model.Meter     `json:"latest_meters"`
	LatestReadings   []ReadingWithMeter `json:"latest_readings"`
}

// ReadingWithMeter は観測とメーター情報を結合した表示用レコード。
type ReadingWithMeter struct {
	model.Reading
	MeterName   string `json:"meter_name"`
	MeterNumber string `json:"meter_number"`
	OwnerName   string `json:"owner_name"`
}

// StatsRepository はダッシュボード集計クエリのインターフェース。
type StatsRepository interface {
	// Summary はユーザー/メーター数、24時間アクティブ数、
	// 直近のユーザー・メーター・観測（各limit件）を集計して返す。
	Summary(ctx context.Context, limit int) (*StatsSummary, error)
}
