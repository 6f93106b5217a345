package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "commodity-forecast-api/configs"
	"commodity-forecast-api/pkg/logger"
	"commodity-forecast-api/pkg/server"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// .envファイルを読み込み
	envErr := godotenv.Load()

	// 設定の読み込み
	cfg := config.LoadConfig()
	log := logger.Configure(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile}).WithComponent("main")
	if envErr != nil {
		log.WithError(envErr).Debug(".env ファイルは読み込まれませんでした")
	}

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("設定が不正です")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	deps, closeDeps, err := server.BuildDependencies(ctx, cfg)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("依存関係の初期化に失敗しました")
	}
	defer closeDeps()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting commodity forecast API on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("シャットダウンしています")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("シャットダウンに失敗しました")
	}
}
