package sweep

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/meterman/internal/config"
)

// countingSweeper はRunOnceの実行回数を数える。
type countingSweeper struct {
	runs int
}

func (s *countingSweeper) RunOnce(ctx context.Context) error {
	s.runs++
	return nil
}

func newTestScheduler(sweeper SweeperService, hour, minute int) *Scheduler {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	return NewScheduler(sweeper, logger, config.TimeOfDay{Hour: hour, Minute: minute}, time.UTC)
}

func TestScheduler_MaybeFire_BeforeScheduledTime(t *testing.T) {
	sweeper := &countingSweeper{}
	s := newTestScheduler(sweeper, 20, 0)

	now := time.Date(2026, 8, 25, 19, 59, 0, 0, time.UTC)
	s.maybeFire(context.Background(), now)

	if sweeper.runs != 0 {
		t.Errorf("発火時刻前は実行しないべき: runs = %d", sweeper.runs)
	}
}

func TestScheduler_MaybeFire_AtScheduledTime(t *testing.T) {
	sweeper := &countingSweeper{}
	s := newTestScheduler(sweeper, 20, 0)

	now := time.Date(2026, 8, 25, 20, 0, 0, 0, time.UTC)
	s.maybeFire(context.Background(), now)

	if sweeper.runs != 1 {
		t.Errorf("発火時刻ちょうどで実行されるべき: runs = %d", sweeper.runs)
	}
}

func TestScheduler_MaybeFire_OncePerDay(t *testing.T) {
	sweeper := &countingSweeper{}
	s := newTestScheduler(sweeper, 20, 0)

	day := time.Date(2026, 8, 25, 20, 0, 0, 0, time.UTC)
	s.maybeFire(context.Background(), day)
	s.maybeFire(context.Background(), day.Add(time.Minute))
	s.maybeFire(context.Background(), day.Add(2*time.Hour))

	if sweeper.runs != 1 {
		t.Errorf("同日は1回だけ発火すべき: runs = %d", sweeper.runs)
	}
}

func TestScheduler_MaybeFire_NextDayFiresAgain(t *testing.T) {
	sweeper := &countingSweeper{}
	s := newTestScheduler(sweeper, 20, 0)

	s.maybeFire(context.Background(), time.Date(2026, 8, 25, 20, 0, 0, 0, time.UTC))
	s.maybeFire(context.Background(), time.Date(2026, 8, 26, 20, 0, 0, 0, time.UTC))

	if sweeper.runs != 2 {
		t.Errorf("翌日は再び発火すべき: runs = %d", sweeper.runs)
	}
}

func TestScheduler_MaybeFire_RespectsLocation(t *testing.T) {
	sweeper := &countingSweeper{}
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	dhaka, err := time.LoadLocation("Asia/Dhaka")
	if err != nil {
		t.Fatalf("タイムゾーンのロードに失敗した: %v", err)
	}
	s := NewScheduler(sweeper, logger, config.TimeOfDay{Hour: 20, Minute: 0}, dhaka)

	// 14:00 UTC = 20:00 Asia/Dhaka (+06:00)
	s.maybeFire(context.Background(), time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC))

	if sweeper.runs != 1 {
		t.Errorf("設定タイムゾーンのローカル時刻で判定すべき: runs = %d", sweeper.runs)
	}
}
