package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"quotegate/config"
	"quotegate/internal/gateway"
	"quotegate/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	// run gateway
	gw, err := gateway.Start(cfg, log)
	if err != nil {
		log.Fatal("gateway failed", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	gw.Shutdown(context.Background())
}
