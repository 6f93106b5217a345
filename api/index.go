package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	config "commodity-forecast-api/configs"
	"commodity-forecast-api/pkg/logger"
	"commodity-forecast-api/pkg/server"

	"github.com/gin-gonic/gin"
)

var (
	app  *gin.Engine
	once sync.Once
)

// setupApp はGinアプリケーションを初期化します。
// サーバーレス環境では、リクエストごとに初期化が走らないようsync.Onceで一度だけ実行します。
func setupApp() *gin.Engine {
	once.Do(func() {
		// 環境変数はデプロイ先の設定から読み込まれるため、ここではgodotenvを呼び出しません。
		cfg := config.LoadConfig()
		log := logger.Configure(logger.Options{Level: cfg.LogLevel}).WithComponent("serverless")

		if err := cfg.Validate(); err != nil {
			log.WithError(err).Error("設定が不正です")
			app = unavailable(err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		// 接続はプロセスが生きている間再利用するため閉じない
		deps, _, err := server.BuildDependencies(ctx, cfg)
		if err != nil {
			log.WithError(err).Error("依存関係の初期化に失敗しました")
			app = unavailable(err)
			return
		}

		gin.SetMode(gin.ReleaseMode)
		app = server.NewRouter(cfg, deps)
		log.Info("Ginアプリケーションを初期化しました")
	})
	return app
}

// unavailable は初期化に失敗した場合にすべてのリクエストへ 503 を返すルーターです。
func unavailable(cause error) *gin.Engine {
	r := gin.New()
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "service unavailable: " + cause.Error()})
	})
	return r
}

// Handler はサーバーレス環境からのすべてのリクエストを処理するエントリーポイントです。
func Handler(w http.ResponseWriter, r *http.Request) {
	setupApp().ServeHTTP(w, r)
}
