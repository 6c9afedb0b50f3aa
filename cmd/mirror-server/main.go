package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spotmirror/internal/api"
	"spotmirror/internal/auth"
	"spotmirror/internal/config"
	"spotmirror/internal/exchange"
	"spotmirror/internal/ledger"
	"spotmirror/internal/logger"
	"spotmirror/internal/mirror"
	"spotmirror/internal/notify"
	"spotmirror/internal/ownership"
	"spotmirror/internal/profiles"
	"spotmirror/internal/storage"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
)

const insecureJWTSecret = "default-secret-change-me-in-production"

func main() {
	bootstrap := slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.Kitchen}))

	cfg, err := config.Load(bootstrap)
	if err != nil {
		bootstrap.Error("❌ Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log, logFile, err := logger.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		bootstrap.Error("❌ Failed to set up logging", slog.Any("error", err))
		os.Exit(1)
	}
	defer logFile.Close()

	if err := run(cfg, log); err != nil {
		log.Error("❌ Server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	log.Info("=== Spot Mirror Control Plane ===")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Storage ===

	configStore, err := storage.OpenConfig(cfg.ConfigPath, log)
	if err != nil {
		return err
	}
	doc := configStore.Snapshot()

	led, err := ledger.Open(cfg.LedgerBackend, cfg.LedgerPath, log)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer led.Close()

	journal, err := storage.OpenJournal(cfg.JournalPath, log)
	if err != nil {
		return err
	}
	defer journal.Close()

	// === Identity ===

	store := profiles.New(configStore, log)

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = doc.APIServer.JWTSecretKey
	}
	if jwtSecret == "" {
		jwtSecret = insecureJWTSecret

		log.Warn("⚠️  JWT_SECRET not set, using default (insecure!)")
	}

	authService := auth.NewService(jwtSecret, store, auth.Options{
		AllowLegacyPlaintext: cfg.AllowLegacyPlaintext,
		Logger:               log,
	})

	// === Exchange ===

	registry := exchange.NewRegistry(exchange.Options{
		Logger:         log,
		RequestsPerSec: cfg.ExchangeRateLimit,
		HTTPTimeout:    cfg.MirrorOrderTimeout,
		BaseURL:        cfg.ExchangeBaseURL,
		PaperBalance:   cfg.PaperBalance,
		PaperStep:      decimal.New(1, -6),
	})

	connector := doc.Exchange.Name
	if connector == "" {
		connector = exchange.NameBinance
	}
	if cfg.DryRun {
		connector = exchange.NamePaper
	}

	factory, err := registry.Resolve(connector)
	if err != nil {
		return fmt.Errorf("failed to resolve connector: %w", err)
	}
	log.Info("🔌 Connector selected", slog.String("connector", connector))

	// === Mirroring ===

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sessions := mirror.NewSessionCache(factory, cfg.MirrorSessionTimeout, log)
	defer sessions.Close()

	hub := api.NewHub(log)
	defer hub.Close()

	deps := mirror.Dependencies{
		Followers: store,
		Sessions:  sessions,
		Ledger:    led,
		Journal:   journal,
		Publisher: hub,
		Metrics:   mirror.NewMetrics(metricsRegistry),
	}

	if cfg.NotificationsEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log)
		if err != nil {
			log.Warn("⚠️  Telegram notifications disabled", slog.Any("error", err))
		} else {
			deps.Notifier = tg
		}
	}

	coordinator := mirror.NewCoordinator(deps, mirror.Config{
		Concurrency:  cfg.MirrorConcurrency,
		OrderTimeout: cfg.MirrorOrderTimeout,
		ExitPolicy:   cfg.MirrorExitPolicy,
	}, log)

	activator := ownership.NewActivator(configStore, log)
	go consumeReloads(ctx, activator, store, sessions, log)

	// === HTTP ===

	handler := api.New(api.Services{
		Auth:        authService,
		Profiles:    store,
		Config:      configStore,
		Guard:       ownership.NewGuard(configStore),
		Activator:   activator,
		Exchange:    factory,
		Coordinator: coordinator,
		Journal:     journal,
		Hub:         hub,
	}, log)

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      handler.SetupRouter(metricsRegistry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("🚀 Server starting...", slog.String("address", cfg.Address))
		log.Info(fmt.Sprintf("📡 API available at http://%s/api/v1", cfg.Address))
		log.Info(fmt.Sprintf("🏥 Health check at http://%s/health", cfg.Address))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", slog.Any("error", err))
	}

	log.Info("✅ Server stopped")

	return nil
}

// consumeReloads drops cached sessions of profiles that stopped being followers
// whenever the active credential changes.
func consumeReloads(ctx context.Context, activator *ownership.Activator, store *profiles.Store, sessions *mirror.SessionCache, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case reload := <-activator.Reloads():
			followers, err := store.Followers(ctx)
			if err != nil {
				log.Error("Failed to list followers after reload", slog.Any("error", err))
				continue
			}

			keep := make(map[string]bool)
			for _, p := range followers {
				keep[p.ID] = true
			}

			closed := sessions.Retain(keep)
			log.Info("🔄 Engine reconfigured",
				slog.String("user", reload.User),
				slog.String("trading_mode", reload.TradingMode),
				slog.Int("sessions_closed", closed))
		}
	}
}
