package main

import (
	"context"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/raakeshmj/activationplane/internal/config"
	"github.com/raakeshmj/activationplane/internal/server"
)

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.Environment == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Printf("logger init failed: %v", err)
		os.Exit(1)
	}
	defer logger.Sync()

	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("server init failed", zap.Error(err))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
}
