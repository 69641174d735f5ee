package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/hackgpt/internal/ai"
	"github.com/suPer8Hu/hackgpt/internal/auth"
	"github.com/suPer8Hu/hackgpt/internal/chat"
	"github.com/suPer8Hu/hackgpt/internal/config"
	"github.com/suPer8Hu/hackgpt/internal/db"
	"github.com/suPer8Hu/hackgpt/internal/httpapi"
	"github.com/suPer8Hu/hackgpt/internal/httpapi/handlers"
	"github.com/suPer8Hu/hackgpt/internal/logx"
	"github.com/suPer8Hu/hackgpt/internal/store/rabbitmq"
	"github.com/suPer8Hu/hackgpt/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	log := logx.Setup(os.Stdout, cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	gin.SetMode(gin.ReleaseMode)

	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb, db.Schema()...); err != nil {
		return err
	}
	repo := chat.NewRepo(gdb)

	var sink chat.Sink
	switch cfg.PersistMode {
	case "queue":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		defer pub.Close()
		queue := chat.NewQueueSink(pub, 5*time.Second)
		// runs before pub.Close
		defer queue.Close()
		sink = queue
	default:
		async := chat.NewAsyncSink(chat.NewRecorder(repo), 4, 10*time.Second)
		defer async.Close()
		sink = async
	}

	opts := httpapi.RouterOptions{
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}
	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rds.Close()
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rds.Ping(pctx); err != nil {
			// rate limiting fails open
			log.Warn("redis unreachable", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		opts.Limiter = rds
	}

	reg := ai.NewRegistryFromConfig(cfg)
	chatSvc := chat.NewService(repo, reg, sink, chat.Options{
		ContextWindowSize: cfg.ChatContextWindowSize,
		DefaultProvider:   cfg.AIProvider,
		StreamMaxDuration: cfg.StreamMaxDuration,
		KeepaliveInterval: cfg.StreamKeepalive,
	})
	authSvc := auth.NewService(gdb, cfg.JWTSecret, cfg.JWTTTL)
	h := handlers.NewHandler(authSvc, chatSvc, cfg.CodeUnlockKey)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "provider", cfg.AIProvider,
			"providers", reg.Names(), "persist_mode", cfg.PersistMode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
