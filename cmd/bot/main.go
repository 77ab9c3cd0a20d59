package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/thedetect/UTB2/internal/app"
	"github.com/thedetect/UTB2/internal/config"
	"github.com/thedetect/UTB2/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet.
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	log.Info("config loaded",
		zap.String("db", cfg.DBPath),
		zap.String("default_tz", cfg.DefaultTZ),
		zap.Duration("tick", cfg.TickInterval),
		zap.Int("workers", cfg.Workers),
		zap.Strings("bodies", cfg.TrackedBodies),
		zap.Bool("payments", cfg.PriceMinor > 0 && (cfg.ProviderToken != "" || cfg.Currency == "XTR")),
	)

	application, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("app init failed", zap.Error(err))
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatal("app run failed", zap.Error(err))
	}
}
