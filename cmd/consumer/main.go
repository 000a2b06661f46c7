package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iliyamo/parkqr/internal/config"
	"github.com/iliyamo/parkqr/internal/queue"
)

// The consumer appends every ticket event published by the server to
// logs/tickets.log.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logPath := queue.TicketLogPath
	if p := os.Getenv("TICKET_LOG_PATH"); p != "" {
		logPath = p
	}
	logger.Info("ticket consumer starting", "queue", queue.TicketQueueName, "log", logPath)
	if err := queue.StartTicketConsumer(ctx, cfg.AMQPURL, logPath); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ticket consumer stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("ticket consumer exiting")
}
