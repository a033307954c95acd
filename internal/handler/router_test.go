package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/meterman/internal/middleware"
	"github.com/hitoshi/meterman/internal/model"
	"github.com/hitoshi/meterman/internal/repository"
)

type stubStatsRepo struct{}

func (s *stubStatsRepo) Summary(ctx context.Context, limit int) (*repository.StatsSummary, error) {
	return &repository.StatsSummary{TotalUsers: 3, TotalMeters: 5}, nil
}

type stubSweeper struct {
	runs int
}

func (s *stubSweeper) RunOnce(ctx context.Context) error {
	s.runs++
	return nil
}

type stubFetcher struct{}

func (s *stubFetcher) Fetch(ctx context.Context, meterNumber string) (*model.Reading, error) {
	return nil, model.NewFetchError("fetch", context.DeadlineExceeded)
}

func newTestRouter(t *testing.T, authEnabled bool) http.Handler {
	t.Helper()
	logger := discardLogger()
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(600))
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		Logger:        logger,
		RateLimiter:   rl,
		Telegram:      NewTelegramHandler(&stubResolver{}, &stubEngine{}, &stubDispatcher{}, logger),
		Messenger:     NewMessengerHandler(&stubResolver{}, &stubEngine{}, &stubDispatcher{}, logger, "verify-me", ""),
		Admin:         NewAdminHandler(&stubStatsRepo{}, &stubDispatcher{}, logger),
		Ops:           NewOpsHandler(&stubSweeper{}, &stubFetcher{}, logger, time.Second),
		AdminUsername: "admin",
		AdminPassword: "secret",
		AuthEnabled:   authEnabled,
	})
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータス = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("ボディ = %q", rec.Body.String())
	}
}

func TestRouter_WebhookReachableWithoutAuth(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Webhookは認証なしで到達できるべき: got %d", rec.Code)
	}
}

func TestRouter_AdminRequiresAuth(t *testing.T) {
	router := newTestRouter(t, true)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/admin/api/stats"},
		{http.MethodPost, "/admin/api/broadcast"},
		{http.MethodPost, "/api/sweep"},
		{http.MethodPost, "/api/fetch"},
	}
	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: 認証なしは401を返すべき: got %d", p.method, p.path, rec.Code)
		}
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("%s %s: WWW-Authenticateヘッダーを含むべき", p.method, p.path)
		}
	}
}

func TestRouter_AdminWithCredentials(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("正しい認証情報では200を返すべき: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "total_users") {
		t.Errorf("ボディ = %q", rec.Body.String())
	}
}

func TestRouter_AdminAuthDisabled(t *testing.T) {
	router := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("認証無効時は素通しすべき: got %d", rec.Code)
	}
}

func TestRouter_SweepTrigger(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/sweep", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("スイープトリガーは202を返すべき: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "started") {
		t.Errorf("ボディ = %q", rec.Body.String())
	}
}

func TestRouter_MessengerVerifyHandshake(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/messenger?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=c-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "c-1" {
		t.Errorf("検証ハンドシェイク: status = %d, body = %q", rec.Code, rec.Body.String())
	}
}
