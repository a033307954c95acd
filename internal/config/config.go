// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Telegram
	TelegramBotToken string

	// Messenger（任意のセカンダリチャネル。トークン未設定なら無効）
	MessengerPageToken   string
	MessengerVerifyToken string
	MessengerAppSecret   string // 設定時はWebhook署名検証を行う

	// Provider
	ProviderPanelURL     string
	ProviderBalanceIndex int // 残高が入るdisabled inputのインデックス
	FetchTimeout         time.Duration
	InteractiveTimeout   time.Duration // 対話パスでのフェッチ上限
	FetchDebounce        time.Duration // スイープと/checkの二重フェッチ抑止窓

	// Sweep
	SweepTime          string // "HH:MM" ローカル時刻
	Timezone           string
	SweepMaxConcurrent int
	EnableScheduler    bool // serveモードに内部日次スケジューラを同居させるか

	// Admin
	AdminUsername    string
	AdminPassword    string
	AdminAuthEnabled bool

	// Rate Limit
	RateLimitWebhook int // Webhook受信のレート（req/min/送信元）

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envはあれば使う程度の扱い。無くてもエラーにしない
	_ = godotenv.Load()

	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MessengerPageToken = getEnvString("MESSENGER_PAGE_TOKEN", "")
	cfg.MessengerVerifyToken = getEnvString("MESSENGER_VERIFY_TOKEN", "")
	cfg.MessengerAppSecret = getEnvString("MESSENGER_APP_SECRET", "")
	cfg.ProviderPanelURL = getEnvString("PROVIDER_PANEL_URL", "https://customer.nesco.gov.bd/pre/panel")
	cfg.ProviderBalanceIndex = getEnvInt("PROVIDER_BALANCE_INPUT_INDEX", 14)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 15*time.Second)
	cfg.InteractiveTimeout = getEnvDuration("INTERACTIVE_FETCH_TIMEOUT", 5*time.Second)
	cfg.FetchDebounce = getEnvDuration("FETCH_DEBOUNCE", 10*time.Minute)
	cfg.SweepTime = getEnvString("SWEEP_TIME", "20:00")
	cfg.Timezone = getEnvString("TIMEZONE", "Asia/Dhaka")
	cfg.SweepMaxConcurrent = getEnvInt("SWEEP_MAX_CONCURRENT", 4)
	cfg.EnableScheduler = getEnvBool("ENABLE_INTERNAL_SCHEDULER", true)
	cfg.AdminUsername = getEnvString("ADMIN_USERNAME", "")
	cfg.AdminPassword = getEnvString("ADMIN_PASSWORD", "")
	cfg.AdminAuthEnabled = getEnvBool("ADMIN_AUTH_ENABLED", true)
	cfg.RateLimitWebhook = getEnvInt("RATE_LIMIT_WEBHOOK", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if _, err := ParseTimeOfDay(cfg.SweepTime); err != nil {
		return nil, fmt.Errorf("invalid SWEEP_TIME: %w", err)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	return cfg, nil
}

// Location は設定されたタイムゾーンのLocationを返す。
// Loadで検証済みのため通常は失敗しない。失敗時はUTCにフォールバックする。
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TimeOfDay は日次スイープの発火時刻（時・分）を表す。
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay は"HH:MM"形式の文字列をTimeOfDayにパースする。
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day must be HH:MM: %w", err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// SweepTimeOfDay はSweepTimeをパースして返す。
func (c *Config) SweepTimeOfDay() TimeOfDay {
	tod, err := ParseTimeOfDay(c.SweepTime)
	if err != nil {
		return TimeOfDay{Hour: 20}
	}
	return tod
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
