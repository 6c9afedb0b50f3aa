// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"spotmirror/internal/ledger"
	"spotmirror/internal/mirror"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds the process settings.
type Config struct {
	Address string

	// ConfigPath is the shared configuration document (users, profiles, active credential).
	ConfigPath    string
	LedgerPath    string
	LedgerBackend string
	JournalPath   string

	DryRun       bool // paper connector only, nothing reaches the exchange
	PaperBalance decimal.Decimal

	// JWTSecret overrides api_server.jwt_secret_key from the document when set.
	JWTSecret            string
	AllowLegacyPlaintext bool

	MirrorConcurrency    int
	MirrorOrderTimeout   time.Duration
	MirrorSessionTimeout time.Duration
	MirrorExitPolicy     mirror.ExitPolicy

	ExchangeRateLimit float64
	ExchangeBaseURL   string

	TelegramToken  string
	TelegramChatID int64

	LogFile  string
	LogLevel slog.Level
}

// Load reads .env (when present) and the environment.
func Load(logger *slog.Logger) (*Config, error) {
	_ = godotenv.Load()

	var errs []error

	// DRY_RUN stays on unless explicitly disabled
	dryRun := true
	if strings.EqualFold(os.Getenv("DRY_RUN"), "false") {
		dryRun = false

		logger.Warn("⚠️  DRY_RUN disabled - REAL TRADES WILL BE EXECUTED!")
	} else {
		logger.Info("🔍 DRY_RUN enabled - only logging, no real trades")
	}

	exitPolicy, err := mirror.ParseExitPolicy(os.Getenv("MIRROR_EXIT_POLICY"))
	if err != nil {
		errs = append(errs, fmt.Errorf("MIRROR_EXIT_POLICY: %w", err))
	}

	ledgerBackend := strings.ToLower(getEnv("LEDGER_BACKEND", ledger.BackendJSON))
	ledgerPath := os.Getenv("LEDGER_PATH")
	if ledgerPath == "" {
		ledgerPath = "./copy_trades.json"
		if ledgerBackend == ledger.BackendSQLite {
			ledgerPath = "./copy_trades.db"
		}
	}

	allowLegacy := getEnvBool("AUTH_ALLOW_LEGACY_PLAINTEXT", false, &errs)
	if allowLegacy {
		logger.Warn("⚠️  Plaintext passwords accepted (AUTH_ALLOW_LEGACY_PLAINTEXT)")
	}

	cfg := &Config{
		Address:              getEnv("ADDRESS", "0.0.0.0:8080"),
		ConfigPath:           getEnv("CONFIG_PATH", "./config.json"),
		LedgerPath:           ledgerPath,
		LedgerBackend:        ledgerBackend,
		JournalPath:          getEnv("JOURNAL_PATH", "./mirror_journal.db"),
		DryRun:               dryRun,
		PaperBalance:         getEnvDecimal("PAPER_BALANCE", decimal.NewFromInt(1000), &errs),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		AllowLegacyPlaintext: allowLegacy,
		MirrorConcurrency:    getEnvInt("MIRROR_CONCURRENCY", 8, &errs),
		MirrorOrderTimeout:   getEnvDuration("MIRROR_ORDER_TIMEOUT", 15*time.Second, &errs),
		MirrorSessionTimeout: getEnvDuration("MIRROR_SESSION_TIMEOUT", 10*time.Second, &errs),
		MirrorExitPolicy:     exitPolicy,
		ExchangeRateLimit:    getEnvFloat("EXCHANGE_RATE_LIMIT", 10, &errs),
		ExchangeBaseURL:      os.Getenv("EXCHANGE_BASE_URL"),
		TelegramToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		LogFile:              getEnv("LOG_FILE", "./mirror_server.log"),
		LogLevel:             slog.LevelInfo,
	}

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err))
		}
		cfg.TelegramChatID = id
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		logger.Warn("⚠️  TELEGRAM_BOT_TOKEN set without TELEGRAM_CHAT_ID, notifications disabled")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
		}
	}

	if cfg.MirrorConcurrency < 1 {
		errs = append(errs, fmt.Errorf("MIRROR_CONCURRENCY must be at least 1, got %d", cfg.MirrorConcurrency))
	}
	if ledgerBackend != ledger.BackendJSON && ledgerBackend != ledger.BackendSQLite {
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND must be %s or %s, got %q", ledger.BackendJSON, ledger.BackendSQLite, ledgerBackend))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// NotificationsEnabled reports whether follower failures go to Telegram.
func (c *Config) NotificationsEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return i
}

func getEnvFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func getEnvBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func getEnvDecimal(key string, def decimal.Decimal, errs *[]error) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	d, err := decimal.NewFromString(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
