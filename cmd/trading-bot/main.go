package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/minwoocho/stock-auto-trader/internal/bot"
	"github.com/minwoocho/stock-auto-trader/internal/broker"
	"github.com/minwoocho/stock-auto-trader/internal/config"
	"github.com/minwoocho/stock-auto-trader/internal/monitoring"
	"github.com/minwoocho/stock-auto-trader/internal/notifications"
	"github.com/minwoocho/stock-auto-trader/internal/recorder"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., config.json)")
		envFile    = flag.String("env", ".env", "Environment file path")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// A misconfigured risk control is worse than no process at all.
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	log.Info().
		Str("environment", cfg.Environment).
		Bool("sandbox", cfg.Broker.Sandbox).
		Msg("stock auto trader starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kis := broker.NewKISClient(cfg.Broker, log)

	var rec recorder.Recorder = recorder.Noop{}
	if cfg.Recorder.Enabled {
		sqlRec, err := recorder.NewSQLiteRecorder(cfg.Recorder.DBPath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("trade recorder init failed")
		}
		defer sqlRec.Close()
		rec = sqlRec
	}

	var notifier notifications.Notifier = notifications.Noop{}
	if cfg.Notifications.TelegramToken != "" {
		notifier = notifications.NewTelegramNotifier(
			cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID, log)
	}

	health := monitoring.NewHealthChecker()
	health.SetBrokerConnected(true)
	startServers(cfg, health, log)

	b := bot.NewLiveBot(cfg, kis, rec, notifier, health, log)
	if err := b.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("bot terminated")
	}
	log.Info().Msg("shutdown complete")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = zerolog.New(os.Stdout)
	if cfg.Environment == "development" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	return out.Level(level).With().Timestamp().Logger()
}

// startServers exposes the Prometheus metrics and health endpoints on their
// own ports. Failures here are logged, not fatal: trading can run blind.
func startServers(cfg *config.Config, health *monitoring.HealthChecker, log zerolog.Logger) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", monitoring.NewMetricsHandler())
	go serve(fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), metricsMux, "metrics", log)

	healthMux := http.NewServeMux()
	healthMux.Handle("/health", health)
	go serve(fmt.Sprintf(":%d", cfg.Monitoring.HealthPort), healthMux, "health", log)
}

func serve(addr string, handler http.Handler, name string, log zerolog.Logger) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", addr).Msgf("%s server listening", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", addr).Msgf("%s server failed", name)
	}
}
