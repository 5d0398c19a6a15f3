package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/voicechess/internal/builder"
	"github.com/park285/voicechess/internal/config"
	"github.com/park285/voicechess/internal/obslog"
)

func main() {
	obslog.InitFromEnv()
	logger := obslog.L()
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := builder.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init error: %v", err)
	}
	defer deps.Close()

	httpServer := &fasthttp.Server{
		Handler:            deps.Server.Handler(),
		Name:               "voicechess",
		ReadTimeout:        30 * time.Second,
		MaxRequestBodySize: 32 * 1024 * 1024,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		return httpServer.ListenAndServe(cfg.ListenAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("stopped")
}
