// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// meterNumberMinLen はプロバイダのメーター番号の最小桁数。
	meterNumberMinLen = 6
	// meterNumberMaxLen はプロバイダのメーター番号の最大桁数。
	meterNumberMaxLen = 16
)

// Meter はユーザーが所有するプリペイド電力メーターを表す。
// 1つのメーターは1ユーザーに排他的に所有される。
type Meter struct {
	ID            string
	UserID        string
	Number        string // プロバイダのメーター番号（数字のみ）
	Name          string // ユーザーが付けた表示名（例: Home, Shop）
	MinBalance    decimal.NullDecimal // 低残高アラート閾値。未設定の場合はアラートなし
	LastBalance   decimal.NullDecimal
	LastCheckedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ShouldAlert は低残高アラートを発火すべきかを返す。
// 閾値が未設定（NULL）の場合は残高に関わらずfalseを返す。
func (m *Meter) ShouldAlert() bool {
	if !m.MinBalance.Valid || !m.LastBalance.Valid {
		return false
	}
	return m.LastBalance.Decimal.Cmp(m.MinBalance.Decimal) <= 0
}

// ValidMeterNumber はプロバイダ形式のメーター番号かどうかを検証する。
// 数字のみで構成され、桁数が範囲内であることを要求する。
func ValidMeterNumber(number string) bool {
	if len(number) < meterNumberMinLen || len(number) > meterNumberMaxLen {
		return false
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Reading は1回の残高観測を表す。イミュータブルな追記専用レコードであり、
// 使用量レポートの算出基盤となる。作成後の更新・削除は行わない。
type Reading struct {
	ID         string
	MeterID    string
	Balance    decimal.Decimal // BDT
	RecordedAt time.Time
}
