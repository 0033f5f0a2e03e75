package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pillbox/common/logger"
	"pillbox/internal/config"
	httpapi "pillbox/internal/http"
	"pillbox/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "pillbox")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	svc, err := service.NewPillboxService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create pillbox service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		cancel()
		_ = svc.Stop()
		log.Fatal("Failed to start pillbox service", zap.Error(err))
	}

	// 4. HTTP
	router := httpapi.NewRouter(log)
	router.RegisterHealthRoutes()
	router.RegisterPillboxRoutes(httpapi.NewPillboxHandler(svc.Services, svc.Clock(), cfg.Location, log))
	router.HandleHandler("/metrics", svc.Metrics().Handler())

	srv := service.NewServer(cfg.HTTP.Addr, router, log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// 5. 等待信号（优雅关闭）
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)

	cancel()
	_ = svc.Stop()
	log.Info("Pillbox service stopped")
}
