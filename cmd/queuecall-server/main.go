// Command queuecall-server runs the counter-call coordination server: the
// REST API for tickets and the WebSocket gateway for consoles and displays.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	log.WithFields(logrus.Fields{
		"version":  config.Version,
		"addr":     cfg.Addr(),
		"database": cfg.UsesDatabase(),
		"relay":    cfg.RedisURL != "",
	}).Info("starting queuecall")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("queuecall exited")
		os.Exit(1)
	}

	log.Info("queuecall stopped")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if cfg.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	// validated by config.Load
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	return log
}
