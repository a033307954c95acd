// Package app はアプリケーションの起動とサブコマンドの振り分けを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/meterman/internal/config"
	"github.com/hitoshi/meterman/internal/convo"
	"github.com/hitoshi/meterman/internal/database"
	"github.com/hitoshi/meterman/internal/dispatch"
	"github.com/hitoshi/meterman/internal/handler"
	"github.com/hitoshi/meterman/internal/identity"
	"github.com/hitoshi/meterman/internal/logger"
	"github.com/hitoshi/meterman/internal/metrics"
	"github.com/hitoshi/meterman/internal/middleware"
	"github.com/hitoshi/meterman/internal/provider"
	"github.com/hitoshi/meterman/internal/repository"
	"github.com/hitoshi/meterman/internal/security"
	"github.com/hitoshi/meterman/internal/usage"
	"github.com/hitoshi/meterman/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("timezone", cfg.Timezone),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg, false)
	case CommandSweep:
		return runWorker(cfg, true)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// services はserve/workerモードで共有するワイヤリング済みコンポーネント群。
type services struct {
	db         *sql.DB
	users      *repository.PostgresUserRepo
	meters     *repository.PostgresMeterRepo
	readings   *repository.PostgresReadingRepo
	convos     *repository.PostgresConvoRepo
	stats      *repository.PostgresStatsRepo
	collector  *metrics.Collector
	registry   *prometheus.Registry
	fetcher    *provider.Client
	sanitizer  security.TextSanitizerService
	resolver   *identity.Resolver
	reporter   *usage.Reporter
	dispatcher *dispatch.Dispatcher
	sweeper    *sweep.Sweeper
}

// buildServices はDB接続を開き、全コンポーネントをワイヤリングする。
func buildServices(cfg *config.Config) (*services, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	meterRepo := repository.NewPostgresMeterRepo(db)
	readingRepo := repository.NewPostgresReadingRepo(db)
	convoRepo := repository.NewPostgresConvoRepo(db)
	statsRepo := repository.NewPostgresStatsRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. セキュリティサービスとプロバイダークライアントの初期化
	ssrfGuard := security.NewSSRFGuard()
	if err := ssrfGuard.ValidateURL(cfg.ProviderPanelURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid provider panel URL: %w", err)
	}
	sanitizer := security.NewTextSanitizer()
	fetcher := provider.NewClient(
		ssrfGuard.NewSafeClient(cfg.FetchTimeout),
		slog.Default(), cfg.ProviderPanelURL, cfg.ProviderBalanceIndex,
	)

	// 5. ドメインサービスの初期化
	resolver := identity.NewResolver(userRepo, sanitizer, slog.Default())
	reporter := usage.NewReporter(meterRepo, readingRepo, cfg.Location())

	// 6. ディスパッチャーの初期化
	chatClient := &http.Client{Timeout: 10 * time.Second}
	senders := []dispatch.Sender{
		dispatch.NewTelegramSender(chatClient, slog.Default(), cfg.TelegramBotToken),
	}
	if cfg.MessengerPageToken != "" {
		senders = append(senders,
			dispatch.NewMessengerSender(chatClient, slog.Default(), cfg.MessengerPageToken))
	}
	dispatcher := dispatch.NewDispatcher(userRepo, collector, slog.Default(), senders...)

	// 7. スイープワーカーの初期化
	sweeper := sweep.NewSweeper(sweep.SweeperDeps{
		Users:          userRepo,
		Meters:         meterRepo,
		Readings:       readingRepo,
		Fetcher:        fetcher,
		Dispatcher:     dispatcher,
		Collector:      collector,
		Logger:         slog.Default(),
		FetchTimeout:   cfg.FetchTimeout,
		Debounce:       cfg.FetchDebounce,
		MaxConcurrency: cfg.SweepMaxConcurrent,
	})

	return &services{
		db:         db,
		users:      userRepo,
		meters:     meterRepo,
		readings:   readingRepo,
		convos:     convoRepo,
		stats:      statsRepo,
		collector:  collector,
		registry:   registry,
		fetcher:    fetcher,
		sanitizer:  sanitizer,
		resolver:   resolver,
		reporter:   reporter,
		dispatcher: dispatcher,
		sweeper:    sweeper,
	}, nil
}

// runServe はWebhookサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ENABLE_INTERNAL_SCHEDULERが有効な場合は日次スイープスケジューラを同居させる。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.db.Close()

	// 会話エンジンの初期化
	engine := convo.NewEngine(convo.EngineDeps{
		Users:              svc.users,
		Meters:             svc.meters,
		Readings:           svc.readings,
		Convos:             svc.convos,
		Fetcher:            svc.fetcher,
		Reporter:           svc.reporter,
		Sanitizer:          svc.sanitizer,
		Collector:          svc.collector,
		Logger:             slog.Default(),
		InteractiveTimeout: cfg.InteractiveTimeout,
		FetchDebounce:      cfg.FetchDebounce,
	})

	// ハンドラーとルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitWebhook))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:      slog.Default(),
		DB:          svc.db,
		RateLimiter: rateLimiter,

		Telegram: handler.NewTelegramHandler(svc.resolver, engine, svc.dispatcher, slog.Default()),
		Messenger: handler.NewMessengerHandler(
			svc.resolver, engine, svc.dispatcher, slog.Default(),
			cfg.MessengerVerifyToken, cfg.MessengerAppSecret,
		),
		Admin: handler.NewAdminHandler(svc.stats, svc.dispatcher, slog.Default()),
		Ops:   handler.NewOpsHandler(svc.sweeper, svc.fetcher, slog.Default(), cfg.FetchTimeout),

		Metrics: metrics.Handler(svc.registry),

		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
		AuthEnabled:   cfg.AdminAuthEnabled && cfg.AdminUsername != "",
	}

	router := handler.NewRouter(deps)

	// HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// 内部日次スケジューラの起動（任意）
	if cfg.EnableScheduler {
		scheduler := sweep.NewScheduler(svc.sweeper, slog.Default(), cfg.SweepTimeOfDay(), cfg.Location())
		go scheduler.Start(ctx)
	}

	go func() {
		slog.Info("webhook server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down webhook server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("webhook server stopped gracefully")
	return nil
}

// runWorker はスイープワーカーモードで起動する。
// onceがtrueの場合はスイープを1回実行して終了する（外部cron用）。
// それ以外は日次スケジューラを起動し、SIGINT/SIGTERMで停止する。
func runWorker(cfg *config.Config, once bool) error {
	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.db.Close()

	if once {
		return svc.sweeper.RunOnce(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.String("sweep_time", cfg.SweepTime),
		slog.Int("max_concurrent", cfg.SweepMaxConcurrent),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler := sweep.NewScheduler(svc.sweeper, slog.Default(), cfg.SweepTimeOfDay(), cfg.Location())
	scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
