package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/suPer8Hu/hackgpt/internal/chat"
	"github.com/suPer8Hu/hackgpt/internal/config"
	"github.com/suPer8Hu/hackgpt/internal/db"
	"github.com/suPer8Hu/hackgpt/internal/logx"
	"github.com/suPer8Hu/hackgpt/internal/store/rabbitmq"
)

// worker applies chat persistence events published by the API when
// PERSIST_MODE=queue.
func main() {
	cfg := config.Load()
	log := logx.Setup(os.Stdout, cfg.LogLevel).With("component", "worker")
	if err := run(cfg, log); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb, db.Schema()...); err != nil {
		return err
	}
	rec := chat.NewRecorder(chat.NewRepo(gdb))

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, rabbitmq.ConsumerOptions{
		Concurrency: cfg.WorkerConcurrency,
		MaxRetries:  3,
	})
	if err != nil {
		return err
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return consumer.Run(logx.WithLogger(ctx, log), rec.Apply)
}
