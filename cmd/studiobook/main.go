package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studiobook/internal/api"
	"studiobook/internal/booking"
	"studiobook/internal/config"
	"studiobook/internal/conflicts"
	"studiobook/internal/db"
	"studiobook/internal/events"
	"studiobook/internal/metrics"
	"studiobook/internal/notify"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("STUDIOBOOK_CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	database, err := db.NewDB(cfg.Database.Path, loc, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.WatchStudios(ctx, cfg.Studios.Path, cfg.StudiosReloadInterval(), database, &logger); err != nil {
		logger.Fatal().Err(err).Msg("load studios config")
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	cached := conflicts.NewCachedSource(database, rdb, cfg.CacheTTL(), &logger)
	source := conflicts.NewResilientSource(cached, cfg.ResilientConfig(), &logger)

	bus := events.NewEventBus(&logger)
	bus.Subscribe("*", func(e events.Event) error {
		logger.Debug().Str("type", e.Type).Int64("event_id", e.ID).RawJSON("payload", e.Payload).Msg("event")
		return nil
	})

	validator := booking.NewValidator(cfg.WindowPolicy(), cfg.BookingRules(), source, &logger)
	service := booking.NewService(database, validator, bus, newNotifier(cfg, &logger), booking.ServiceConfig{
		ConflictTimeout: cfg.ConflictTimeout(),
		SeriesMode:      cfg.SeriesMode(),
	}, &logger)
	service.UseCacheInvalidator(cached)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
		go reportBookingCounts(ctx, database, time.Minute, &logger)
	}

	backups := db.NewBackupService(database, cfg.Database.Backup, cfg.BackupInterval(), &logger)
	go backups.Start(ctx)

	server := api.NewHTTPServer(service, database, cfg.API.APIKey, loc, &logger,
		api.WithWriteLimit(cfg.WriteLimit(), time.Minute))
	logger.Info().
		Str("weekday_window", cfg.WindowPolicy().Weekday.String()).
		Str("weekend_window", cfg.WindowPolicy().Weekend.String()).
		Str("timezone", loc.String()).
		Msg("studiobook started")
	if err := server.Start(ctx, cfg.API.Address); err != nil {
		logger.Error().Err(err).Msg("api server error")
	}
	service.Wait()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Logging.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(out).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func newNotifier(cfg *config.Config, logger *zerolog.Logger) booking.Notifier {
	token := cfg.Telegram.BotToken
	if token == "" || token == "YOUR_BOT_TOKEN_HERE" || len(cfg.Telegram.AdminChatIDs) == 0 {
		logger.Info().Msg("telegram notifications disabled")
		return notify.Nop{}
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error().Err(err).Msg("telegram bot init failed, notifications disabled")
		return notify.Nop{}
	}
	bot.Debug = cfg.Telegram.Debug
	logger.Info().Str("bot", bot.Self.UserName).Int("admins", len(cfg.Telegram.AdminChatIDs)).Msg("telegram notifications enabled")
	return notify.NewTelegramNotifier(bot, cfg.Telegram.AdminChatIDs, cfg.TelegramRate(), logger)
}

func reportBookingCounts(ctx context.Context, database *db.DB, every time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		counts, err := database.CountBookings(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("count bookings")
		}
		for _, st := range []booking.Status{booking.StatusPending, booking.StatusApproved, booking.StatusRejected, booking.StatusCancelled} {
			metrics.SetBookingsByStatus(string(st), counts[st])
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
