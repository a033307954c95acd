package handler

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meterman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	DB          *sql.DB
	RateLimiter *middleware.RateLimiter

	// ハンドラー
	Telegram  *TelegramHandler
	Messenger *MessengerHandler
	Admin     *AdminHandler
	Ops       *OpsHandler

	// Prometheusスクレイプ用ハンドラー
	Metrics http.Handler

	// 管理API/運用APIのBasic認証
	AdminUsername string
	AdminPassword string
	AuthEnabled   bool
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → (Webhookのみ)RateLimitMiddleware
//
// 管理ルート（/admin/*, /api/*）はBasic認証で保護する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	// --- 認証不要のルート ---

	r.Get("/health", newHealthHandler(deps.DB))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// Webhook受信（送信元IPごとのレート制限付き）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.WebhookMiddleware())

		r.Post("/webhook/telegram", deps.Telegram.Webhook)
		r.Get("/webhook/messenger", deps.Messenger.Verify)
		r.Post("/webhook/messenger", deps.Messenger.Webhook)
	})

	// --- Basic認証が必要なルート ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBasicAuthMiddleware(deps.AdminUsername, deps.AdminPassword, deps.AuthEnabled))

		// 管理API
		r.Route("/admin/api", func(r chi.Router) {
			r.Get("/stats", deps.Admin.Stats)
			r.Post("/broadcast", deps.Admin.Broadcast)
		})

		// 運用トリガー
		r.Route("/api", func(r chi.Router) {
			r.Post("/sweep", deps.Ops.TriggerSweep)
			r.Post("/fetch", deps.Ops.FetchNow)
		})
	})

	return r
}

// newHealthHandler はGET /healthのハンドラーを返す。
// データベース接続を確認し、異常時は503を返す。
func newHealthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				status = "database unreachable"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
