package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ksred/klear-gateway/internal/config"
	"github.com/ksred/klear-gateway/internal/database"
	"github.com/ksred/klear-gateway/internal/exchange"
	"github.com/ksred/klear-gateway/internal/stream"
	"github.com/ksred/klear-gateway/internal/trading"
	"github.com/ksred/klear-gateway/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main loads configuration, wires the exchange adapter into the services and
// runs the gateway until SIGINT or SIGTERM
func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logFile := configureLogging(cfg)
	if logFile != nil {
		defer logFile.Close()
	}
	zlog.Info().Interface("config", cfg.Redacted()).Msg("Configuration loaded")

	// One adapter instance is shared by every request
	client, signer, err := newExchangeClient(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize exchange client")
	}

	db, err := database.NewDatabase(cfg.Storage.DSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	streamConfig := stream.Config{
		URL:              cfg.Exchange.WSURL,
		DefaultChannel:   cfg.Stream.DefaultChannel,
		MaxSubscriptions: cfg.Stream.MaxSubscriptions,
		RecentMessages:   cfg.Stream.RecentMessages,
		Heartbeats:       cfg.Stream.Heartbeats,
		ReadTimeout:      cfg.Stream.ReadTimeout,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		Tap:              stream.LogSink{Logger: zlog.With().Str("component", "stream").Logger()},
	}
	if signer != nil {
		streamConfig.Tokens = signer
	}
	manager := stream.NewManager(streamConfig)

	limiter := middleware.NewLimiter(cfg.Server.RateLimit)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go runLimiterCleanup(cleanupCtx, limiter)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           newHandler(cfg, client, trading.NewDatabase(db), manager, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown setup
	go func() {
		zlog.Info().Int("port", cfg.Server.Port).Str("exchange", cfg.Exchange.Mode).Msg("Gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Subscriptions did not close in time")
	}
	if err := database.Close(db); err != nil {
		zlog.Error().Err(err).Msg("Failed to close database")
	}

	zlog.Info().Msg("Server exiting")
}

func configPath() string {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return path
	}
	return "config.yaml"
}

// configureLogging applies the configured level and, when a log file is
// set, tees output into a rotating file. The returned closer may be nil.
func configureLogging(cfg *config.Config) io.Closer {
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	var console io.Writer = os.Stdout
	if !cfg.Production() {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	if cfg.Log.File == "" {
		zlog.Logger = zerolog.New(console).With().Timestamp().Logger()
		return nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	}
	zlog.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).With().Timestamp().Logger()
	return file
}

// newExchangeClient builds the adapter selected by exchange.mode. The signer
// is nil in paper mode.
func newExchangeClient(cfg *config.Config) (exchange.Client, *exchange.Signer, error) {
	if cfg.Exchange.Mode == config.ModePaper {
		paper, err := exchange.NewPaper(cfg.Exchange.Paper)
		if err != nil {
			return nil, nil, err
		}
		return paper, nil, nil
	}

	signer, err := exchange.NewSigner(cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	if err != nil {
		return nil, nil, err
	}
	client, err := exchange.NewCoinbase(exchange.CoinbaseConfig{
		BaseURL: cfg.Exchange.BaseURL,
		Timeout: cfg.Exchange.Timeout,
		Signer:  signer,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, signer, nil
}

func runLimiterCleanup(ctx context.Context, limiter *middleware.Limiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Cleanup()
		}
	}
}
