package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/meterman/internal/config"
)

// tickInterval は発火時刻の判定間隔。
const tickInterval = time.Minute

// Scheduler は日次スイープの発火を制御する。
// 設定されたローカル時刻（例: 20:00 Asia/Dhaka）を1分間隔のティッカーで監視し、
// 1日1回だけRunOnceを実行する。起動時点で当日の発火時刻をすでに過ぎていた
// 場合は最初のティックで発火する（当日分の取りこぼし防止）。
type Scheduler struct {
	sweeper  SweeperService
	logger   *slog.Logger
	at       config.TimeOfDay
	location *time.Location

	lastFired string // 最後に発火した日付 YYYY-MM-DD
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(sweeper SweeperService, logger *slog.Logger, at config.TimeOfDay, location *time.Location) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		logger:   logger,
		at:       at,
		location: location,
	}
}

// Start はスケジューラを起動する。コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.logger.Info("スイープスケジューラを開始しました",
		slog.Int("hour", s.at.Hour),
		slog.Int("minute", s.at.Minute),
		slog.String("timezone", s.location.String()),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("スイープスケジューラを停止しました")
			return
		case now := <-ticker.C:
			s.maybeFire(ctx, now)
		}
	}
}

// maybeFire は現在時刻が発火時刻に達していればスイープを実行する。
// 同日の再発火は抑止する。
func (s *Scheduler) maybeFire(ctx context.Context, now time.Time) {
	local := now.In(s.location)
	day := local.Format("2006-01-02")
	if s.lastFired == day {
		return
	}
	if local.Hour() < s.at.Hour || (local.Hour() == s.at.Hour && local.Minute() < s.at.Minute) {
		return
	}

	s.lastFired = day
	s.logger.Info("日次スイープを発火します", slog.String("date", day))
	if err := s.sweeper.RunOnce(ctx); err != nil {
		s.logger.Error("日次スイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
