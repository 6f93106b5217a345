// Package server は依存関係の組み立てとルーティングを行います。
// cmd/server と api/index.go の両方から使われます。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	config "commodity-forecast-api/configs"
	"commodity-forecast-api/pkg/auth"
	"commodity-forecast-api/pkg/handlers"
	"commodity-forecast-api/pkg/kvstore"
	"commodity-forecast-api/pkg/logger"
	"commodity-forecast-api/pkg/n8n"
	"commodity-forecast-api/pkg/services"
	"commodity-forecast-api/pkg/storage"
	"commodity-forecast-api/pkg/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Dependencies はルーターが使う外部依存です。
type Dependencies struct {
	Predictions store.PredictionStore
	Sessions    kvstore.Store
	Objects     storage.ObjectStorage
	Forecaster  services.Forecaster
	Verifier    auth.Verifier
	Pingers     map[string]handlers.Pinger
}

// BuildDependencies は設定に従って依存を初期化します。
// DATABASE_URL や S3_BUCKET が未設定の場合はメモリ実装を使います。
// 返される close 関数でデータベース接続を閉じます。
func BuildDependencies(ctx context.Context, cfg *config.Config) (Dependencies, func(), error) {
	log := logger.GetLogger().WithComponent("server")
	deps := Dependencies{
		Forecaster: n8n.NewClient(cfg.N8nWebhookURL, cfg.N8nWebhookSecret, cfg.N8nTimeout),
		Pingers:    map[string]handlers.Pinger{},
	}
	closeFn := func() {}

	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return Dependencies{}, closeFn, err
		}
		deps.Predictions = pg
		deps.Sessions = pg.KV()
		deps.Pingers["database"] = pg
		closeFn = func() {
			if err := pg.Close(); err != nil {
				log.WithError(err).Warn("データベース接続のクローズに失敗しました")
			}
		}
		log.Info("PostgreSQLストアを使用します")
	} else {
		deps.Predictions = store.NewMemoryStore()
		deps.Sessions = kvstore.NewMemoryStore()
		log.Warn("DATABASE_URL が未設定のため、メモリストアを使用します")
	}

	if cfg.S3.Enabled() {
		s3Storage, err := storage.NewS3Storage(ctx, storage.S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
		if err != nil {
			closeFn()
			return Dependencies{}, func() {}, err
		}
		deps.Objects = s3Storage
		deps.Pingers["objectStorage"] = s3Storage
	} else {
		deps.Objects = storage.NewMemoryStorage("http://localhost:" + cfg.Port + "/reports")
		log.Warn("S3_BUCKET が未設定のため、レポートはメモリに保存されます")
	}

	switch {
	case cfg.AuthVerifyURL != "":
		deps.Verifier = auth.NewHTTPVerifier(cfg.AuthVerifyURL)
	case cfg.AuthStaticTokens != "" && !cfg.IsProduction():
		deps.Verifier = auth.NewStaticVerifier(cfg.AuthStaticTokens)
		log.Warn("静的トークンで認証しています（開発用）")
	default:
		closeFn()
		return Dependencies{}, func() {}, errors.New("認証の設定がありません: AUTH_VERIFY_URL を設定してください")
	}

	return deps, closeFn, nil
}

// NewRouter はGinルーターを組み立てます。
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	monitoringService := services.NewMonitoringService()
	r.Use(monitoringService.LoggingMiddleware())
	r.Use(cors.New(corsConfig(cfg.CORSAllowOrigins)))
	r.Use(handlers.MaintenanceGuard())

	predictionService := services.NewPredictionService(
		deps.Forecaster,
		deps.Predictions,
		services.NewUserRateLimiter(cfg.PredictRatePerMinute),
	)
	reportService := services.NewReportService(deps.Predictions, deps.Objects, cfg.S3.PresignTTL)

	predictionHandler := handlers.NewPredictionHandler(predictionService, deps.Predictions)
	reportHandler := handlers.NewReportHandler(reportService)
	sessionHandler := handlers.NewSessionHandler(deps.Sessions, cfg.SessionMaxAge)
	adminHandler := handlers.NewAdminHandler(cfg, deps.Pingers)
	monitoringHandler := handlers.NewMonitoringHandler(monitoringService)

	// ヘルスチェックエンドポイント
	r.GET("/health", handlers.HealthCheck)
	r.GET("/ready", adminHandler.Readiness)

	v1 := r.Group("/api/v1")
	{
		// 管理者向けAPI（管理者の資格情報で保護）
		admin := v1.Group("/admin")
		{
			admin.GET("/health-status", adminHandler.GetHealthStatus)
			admin.POST("/maintenance/start", adminHandler.StartMaintenance)
			admin.POST("/maintenance/stop", adminHandler.StopMaintenance)
		}

		authorized := v1.Group("")
		authorized.Use(auth.Middleware(deps.Verifier))

		// モニタリングAPI
		authorized.GET("/monitoring/logs", monitoringHandler.GetLogs)

		// 予測API
		predictions := authorized.Group("/predictions")
		{
			predictions.POST("", predictionHandler.CreatePrediction)
			predictions.GET("", predictionHandler.ListPredictions)
			predictions.GET("/:id", predictionHandler.GetPrediction)
			predictions.DELETE("/:id", predictionHandler.DeletePrediction)
			predictions.GET("/:id/justification", predictionHandler.GetJustification)
		}

		// レポートAPI
		reports := authorized.Group("/reports")
		{
			reports.POST("", reportHandler.CreateReport)
			reports.GET("", reportHandler.ListReports)
			reports.GET("/url", reportHandler.GetReportURL)
			reports.DELETE("", reportHandler.DeleteReport)
		}

		// セッションキャッシュAPI
		sessions := authorized.Group("/sessions")
		{
			sessions.PUT("", sessionHandler.SaveSession)
			sessions.POST("/restore", sessionHandler.RestoreSession)
			sessions.DELETE("", sessionHandler.DeleteSession)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not Found"})
	})

	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	c.AddAllowHeaders("Authorization")
	c.MaxAge = 12 * time.Hour
	return c
}
