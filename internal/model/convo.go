// Package model はドメインモデルを定義する。
package model

import "time"

// ConvoState は(ユーザー, チャネル)ごとの会話ステートマシンの状態を表す。
type ConvoState string

const (
	// ConvoIdle はフロー進行中でない状態。
	ConvoIdle ConvoState = "idle"
	// ConvoAwaitingMeterNumber はメーター追加フローでメーター番号の入力待ち。
	ConvoAwaitingMeterNumber ConvoState = "awaiting_meter_number"
	// ConvoAwaitingMeterNickname はメーター追加フローでニックネームの入力待ち。
	ConvoAwaitingMeterNickname ConvoState = "awaiting_meter_nickname"
	// ConvoAwaitingMinBalance は最低残高設定フローで金額の入力待ち。
	ConvoAwaitingMinBalance ConvoState = "awaiting_min_balance"
)

// Conversation は進行中のマルチステップフローの一時レコードを表す。
// フローの完了・キャンセル・フロー外コマンドで破棄される。
// (UserID, Channel) ごとに高々1件しか存在しない。
type Conversation struct {
	UserID             string
	Channel            Channel
	State              ConvoState
	PendingMeterNumber string // add_meterフローで収集済みのメーター番号
	PendingMeterID     string // set_min_balanceフローの対象メーターID
	UpdatedAt          time.Time
}
