package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dennisukpong/transport-booking/internal/audit"
	"github.com/dennisukpong/transport-booking/internal/booking"
	"github.com/dennisukpong/transport-booking/internal/catalog"
	"github.com/dennisukpong/transport-booking/internal/config"
	"github.com/dennisukpong/transport-booking/internal/database"
	"github.com/dennisukpong/transport-booking/internal/engine"
	"github.com/dennisukpong/transport-booking/internal/events"
	"github.com/dennisukpong/transport-booking/internal/metrics"
	"github.com/dennisukpong/transport-booking/internal/payment"
	"github.com/dennisukpong/transport-booking/internal/reply"
	"github.com/dennisukpong/transport-booking/internal/session"
	"github.com/dennisukpong/transport-booking/internal/transport"
	"github.com/dennisukpong/transport-booking/internal/transport/httpapi"
	"github.com/dennisukpong/transport-booking/internal/transport/telegram"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("TRIP_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid booking timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	routes := catalog.New(db, &logger)
	if rdb != nil && cfg.CatalogCacheTTL() > 0 {
		routes.UseRedisCache(rdb, cfg.CatalogCacheTTL())
	}

	err = config.WatchCatalog(ctx, cfg.Catalog.SeedPath, cfg.CatalogReloadInterval(), &logger, func(c *config.CatalogConfig) error {
		if err := db.SyncCatalog(ctx, c); err != nil {
			return err
		}
		if err := routes.Invalidate(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to invalidate catalog cache")
		}
		return nil
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("load catalog error")
	}

	var store session.Store = session.NewMemoryStore(cfg.SessionTimeout())
	if rdb != nil {
		primary := session.NewRedisStore(rdb, cfg.SessionTimeout(), cfg.SessionRetention())
		store = session.NewFailoverStore(primary, store, &logger)
	}

	bus := events.NewEventBus(&logger)
	for _, t := range []string{events.BookingCreated, events.PaymentLinkIssued, events.PaymentConfirmed} {
		bus.Subscribe(t, logEvent(&logger))
	}

	gateway := payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.PaymentTimeout())
	bookings := booking.NewService(db, gateway, bus, booking.Config{
		Currency:            cfg.Booking.Currency,
		CallbackURL:         cfg.Payment.CallbackURL,
		CustomerEmailDomain: cfg.Payment.CustomerEmailDomain,
		PaymentTimeout:      cfg.PaymentTimeout(),
	}, &logger)

	formatter := reply.NewFormatter(loc, cfg.Booking.Currency, cfg.Booking.SupportContact)
	eng := engine.New(store, routes, db, bookings, formatter, engine.Config{
		Location:       loc,
		MaxAdvanceDays: cfg.MaxAdvanceDays(),
		MaxPassengers:  cfg.MaxPassengers(),
	}, &logger)

	perSecond, burst := cfg.ThrottleRate()
	throttle := transport.NewThrottle(perSecond, burst)
	go sweepThrottle(ctx, throttle)

	api := httpapi.NewServer(eng, eng, audit.NewExporter(db, loc), throttle, httpapi.Options{
		PaymentSecret:  cfg.Payment.SecretKey,
		AdminKey:       cfg.HTTP.AdminKey,
		Location:       loc,
		ThrottledReply: formatter.Throttled(),
	}, &logger)
	api.AddReadyCheck("sqlite", db.PingContext)
	if rdb != nil {
		api.AddReadyCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, cfg.BackupInterval(), &logger).Start(ctx)
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Telegram.BotToken != "" {
		bot, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.Debug, eng, throttle, formatter.Throttled(), &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram bot error")
		}
		api.AddNotifier(bot)
		go bot.Start(ctx)
	} else {
		logger.Info().Msg("telegram.bot_token not set; serving HTTP webhook only")
	}

	logger.Info().Msg("Trip booking service started")
	if err := api.Run(ctx, cfg.HTTP.Port); err != nil {
		logger.Fatal().Err(err).Msg("http server error")
	}
}

func logEvent(logger *zerolog.Logger) events.EventHandler {
	return func(ev events.Event) error {
		logger.Info().
			Str("event", ev.Type).
			RawJSON("payload", ev.Payload).
			Msg("Booking event")
		return nil
	}
}

func sweepThrottle(ctx context.Context, t *transport.Throttle) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 10 * time.Second}
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
