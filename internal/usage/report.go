// Package usage は残高履歴からの使用量集計を提供する。
// プリペイドメーターの残高は減少が使用、増加がリチャージを意味するため、
// 連続する観測間の正の減少分のみを使用量として数える。
package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/meterman/internal/model"
	"github.com/hitoshi/meterman/internal/repository"
)

// DayUsage は1日分の使用量。
type DayUsage struct {
	Date string          // YYYY-MM-DD
	Used decimal.Decimal // BDT
}

// MonthlyReport は当月の使用量レポート。
type MonthlyReport struct {
	Rows       []DayUsage
	Total      decimal.Decimal
	MonthLabel string // 例: "August 2026"
}

// ReporterService は使用量レポート機能のインターフェースを定義する。
type ReporterService interface {
	// MonthlyReport は指定ユーザーの全メーターを合算した当月の
	// 日別使用量レポートを返す。メーターが1件もない場合はnilを返す。
	MonthlyReport(ctx context.Context, userID string) (*MonthlyReport, error)
}

// Reporter はReporterServiceの実装。
type Reporter struct {
	meters   repository.MeterRepository
	readings repository.ReadingRepository
	location *time.Location
}

// NewReporter はReporterの新しいインスタンスを生成する。
// locationは日付の区切りに使用するタイムゾーン。
func NewReporter(meters repository.MeterRepository, readings repository.ReadingRepository, location *time.Location) *Reporter {
	return &Reporter{
		meters:   meters,
		readings: readings,
		location: location,
	}
}

// MonthlyReport は当月の日別使用量レポートを構築する。
func (r *Reporter) MonthlyReport(ctx context.Context, userID string) (*MonthlyReport, error) {
	meters, err := r.meters.ListByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewStorageError("list meters", err)
	}
	if len(meters) == 0 {
		return nil, nil
	}

	now := time.Now().In(r.location)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, r.location)

	usageByDate := make(map[string]decimal.Decimal)
	total := decimal.Zero

	for _, meter := range meters {
		// 月初直前の観測を基準にして、月をまたぐ減少分も初日に計上する
		prev, err := r.readings.LatestAtOrBefore(ctx, meter.ID, monthStart.Add(-time.Nanosecond))
		if err != nil {
			return nil, model.NewStorageError("find previous reading", err)
		}

		records, err := r.readings.ListSince(ctx, meter.ID, monthStart)
		if err != nil {
			return nil, model.NewStorageError("list readings", err)
		}

		var lastBalance *decimal.Decimal
		if prev != nil {
			b := prev.Balance
			lastBalance = &b
		}

		for _, record := range records {
			if lastBalance != nil {
				used := lastBalance.Sub(record.Balance)
				// 増加はリチャージなので使用量には数えない
				if used.IsPositive() {
					day := record.RecordedAt.In(r.location).Format("2006-01-02")
					usageByDate[day] = usageByDate[day].Add(used)
					total = total.Add(used)
				}
			}
			b := record.Balance
			lastBalance = &b
		}
	}

	report := &MonthlyReport{
		Total:      total,
		MonthLabel: fmt.Sprintf("%s %d", now.Month().String(), now.Year()),
	}
	for day, used := range usageByDate {
		report.Rows = append(report.Rows, DayUsage{Date: day, Used: used})
	}
	sort.Slice(report.Rows, func(i, j int) bool {
		return report.Rows[i].Date < report.Rows[j].Date
	})
	return report, nil
}

// DailyDelta は24時間前の残高と現在残高から前日使用量を計算する。
// リチャージで残高が増えた場合は0を返す。
func DailyDelta(previous, current decimal.Decimal) decimal.Decimal {
	delta := previous.Sub(current)
	if delta.IsNegative() {
		return decimal.Zero
	}
	return delta
}

// compile-time interface check
var _ ReporterService = (*Reporter)(nil)
