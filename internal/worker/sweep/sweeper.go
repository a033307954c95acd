// Package sweep は全メーターの定期残高チェックと通知送信を提供する。
// 日次スケジューラ、並列フェッチ、リマインダー/低残高アラートの配送を含む。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/meterman/internal/dispatch"
	"github.com/hitoshi/meterman/internal/metrics"
	"github.com/hitoshi/meterman/internal/model"
	"github.com/hitoshi/meterman/internal/provider"
	"github.com/hitoshi/meterman/internal/repository"
	"github.com/hitoshi/meterman/internal/usage"
)

// SweeperService はスイープ実行のインターフェース。
type SweeperService interface {
	// RunOnce は全メーターの残高を更新し、リマインダーとアラートを送信する。
	// 個別メーターの失敗はスキップして続行する。
	RunOnce(ctx context.Context) error
}

// Sweeper はSweeperServiceの実装。
type Sweeper struct {
	users      repository.UserRepository
	meters     repository.MeterRepository
	readings   repository.ReadingRepository
	fetcher    provider.FetcherService
	dispatcher dispatch.DispatcherService
	collector  metrics.MetricsCollector
	logger     *slog.Logger

	fetchTimeout   time.Duration
	debounce       time.Duration // この窓内に確認済みのメーターは再フェッチしない
	maxConcurrency int
}

// SweeperDeps はSweeperの依存関係。
type SweeperDeps struct {
	Users      repository.UserRepository
	Meters     repository.MeterRepository
	Readings   repository.ReadingRepository
	Fetcher    provider.FetcherService
	Dispatcher dispatch.DispatcherService
	Collector  metrics.MetricsCollector
	Logger     *slog.Logger

	FetchTimeout   time.Duration
	Debounce       time.Duration
	MaxConcurrency int
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// MaxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewSweeper(deps SweeperDeps) *Sweeper {
	if deps.MaxConcurrency <= 0 {
		deps.MaxConcurrency = 4
	}
	return &Sweeper{
		users:          deps.Users,
		meters:         deps.Meters,
		readings:       deps.Readings,
		fetcher:        deps.Fetcher,
		dispatcher:     deps.Dispatcher,
		collector:      deps.Collector,
		logger:         deps.Logger,
		fetchTimeout:   deps.FetchTimeout,
		debounce:       deps.Debounce,
		maxConcurrency: deps.MaxConcurrency,
	}
}

// RunOnce はスイープを1回実行する。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.collector.RecordSweepDuration(time.Since(start))
	}()

	meters, err := s.meters.ListAll(ctx)
	if err != nil {
		return model.NewStorageError("list all meters", err)
	}
	if len(meters) == 0 {
		s.logger.Info("スイープ対象のメーターはありません")
		return nil
	}

	s.logger.Info("スイープを開始します",
		slog.Int("meter_count", len(meters)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.refreshAll(ctx, meters)
	s.sendAlerts(ctx, meters)
	s.sendReminders(ctx, meters)

	s.logger.Info("スイープが完了しました",
		slog.Int("meter_count", len(meters)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// refreshAll は全メーターの残高を並列で更新する。
// semaphoreパターンで最大並列数を制御する。
func (s *Sweeper) refreshAll(ctx context.Context, meters []*model.Meter) {
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, meter := range meters {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(m *model.Meter) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.refreshMeter(ctx, m); err != nil {
				s.logger.Warn("メーターの残高更新に失敗しました",
					slog.String("meter_id", m.ID),
					slog.String("meter_number", m.Number),
					slog.String("error", err.Error()),
				)
			}
		}(meter)
	}

	wg.Wait()
}

// refreshMeter は1メーターの残高を取得して永続化する。
// デバウンス窓内に確認済みの場合は前回値を信頼してスキップする。
func (s *Sweeper) refreshMeter(ctx context.Context, meter *model.Meter) error {
	if meter.LastCheckedAt != nil && time.Since(*meter.LastCheckedAt) < s.debounce {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	fetchStart := time.Now()
	reading, err := s.fetcher.Fetch(fetchCtx, meter.Number)
	s.collector.RecordFetchLatency(time.Since(fetchStart))
	if err != nil {
		if model.IsParseError(err) {
			s.collector.RecordParseFailure()
		} else {
			s.collector.RecordFetchFailure()
		}
		// 記録は行わない: 次のスイープで再訪される
		return err
	}
	s.collector.RecordFetchSuccess()

	if err := s.meters.UpdateBalance(ctx, meter.ID, reading.Balance, reading.RecordedAt); err != nil {
		return model.NewStorageError("update meter balance", err)
	}

	reading.ID = uuid.NewString()
	reading.MeterID = meter.ID
	if err := s.readings.Append(ctx, reading); err != nil {
		return model.NewStorageError("append balance reading", err)
	}
	s.collector.RecordReadingRecorded()

	// 後続のアラート/リマインダー判定のためにメモリ上の値も更新する
	meter.LastBalance = decimal.NewNullDecimal(reading.Balance)
	meter.LastCheckedAt = &reading.RecordedAt
	return nil
}

// sendAlerts は閾値を下回ったメーターの所有者へ低残高アラートを送信する。
// リマインダーの有効/無効に関わらず送信される。
func (s *Sweeper) sendAlerts(ctx context.Context, meters []*model.Meter) {
	for _, meter := range meters {
		if !meter.ShouldAlert() {
			continue
		}

		reply := &model.Reply{
			Text: fmt.Sprintf("⚠️ Low balance alert!\n\n%s (%s)\nBalance: %s BDT (threshold: %s BDT)\n\nPlease recharge soon.",
				meter.Name, meter.Number,
				meter.LastBalance.Decimal.StringFixed(2),
				meter.MinBalance.Decimal.StringFixed(2)),
		}
		if err := s.dispatcher.SendToUser(ctx, meter.UserID, reply); err != nil {
			s.logger.Warn("低残高アラートの送信に失敗しました",
				slog.String("meter_id", meter.ID),
				slog.String("user_id", meter.UserID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.collector.RecordAlertSent()
	}
}

// sendReminders はリマインダー有効ユーザーへ日次の残高サマリーを送信する。
func (s *Sweeper) sendReminders(ctx context.Context, meters []*model.Meter) {
	users, err := s.users.ListReminderEnabled(ctx)
	if err != nil {
		s.logger.Error("リマインダー対象ユーザーの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	byUser := make(map[string][]*model.Meter)
	for _, meter := range meters {
		byUser[meter.UserID] = append(byUser[meter.UserID], meter)
	}

	for _, user := range users {
		owned := byUser[user.ID]
		if len(owned) == 0 {
			continue
		}

		reply := &model.Reply{Text: s.buildReminder(ctx, owned)}
		if err := s.dispatcher.SendToUser(ctx, user.ID, reply); err != nil {
			s.logger.Warn("日次リマインダーの送信に失敗しました",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.collector.RecordReminderSent()
	}
}

// buildReminder は1ユーザー分の日次サマリー本文を構築する。
// 前日比はリチャージによる増加を使用量に数えないよう0でクランプする。
func (s *Sweeper) buildReminder(ctx context.Context, meters []*model.Meter) string {
	var b strings.Builder
	b.WriteString("🔔 Daily balance reminder:")

	for i, meter := range meters {
		fmt.Fprintf(&b, "\n\n%d. %s (%s)", i+1, meter.Name, meter.Number)
		if !meter.LastBalance.Valid {
			b.WriteString("\nBalance: not checked yet")
			continue
		}
		fmt.Fprintf(&b, "\nBalance: %s BDT", meter.LastBalance.Decimal.StringFixed(2))

		if used, ok := s.yesterdayUsage(ctx, meter); ok {
			fmt.Fprintf(&b, "\nUsed in last 24h: %s BDT", used.StringFixed(2))
		}
	}
	return b.String()
}

// yesterdayUsage は24時間前時点の残高との差分から前日使用量を求める。
// 比較対象の観測が存在しない場合はfalseを返す。
func (s *Sweeper) yesterdayUsage(ctx context.Context, meter *model.Meter) (decimal.Decimal, bool) {
	previous, err := s.readings.LatestAtOrBefore(ctx, meter.ID, time.Now().Add(-24*time.Hour))
	if err != nil {
		s.logger.Warn("前日残高の取得に失敗しました",
			slog.String("meter_id", meter.ID),
			slog.String("error", err.Error()),
		)
		return decimal.Zero, false
	}
	if previous == nil || !meter.LastBalance.Valid {
		return decimal.Zero, false
	}
	return usage.DailyDelta(previous.Balance, meter.LastBalance.Decimal), true
}

// compile-time interface check
var _ SweeperService = (*Sweeper)(nil)
