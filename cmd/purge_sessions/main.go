package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	config "commodity-forecast-api/configs"
	"commodity-forecast-api/pkg/logger"
	"commodity-forecast-api/pkg/store"

	"github.com/joho/godotenv"
)

// 期限切れのセッションキャッシュを session_cache テーブルから削除します。
func main() {
	yes := flag.Bool("yes", false, "確認せずに削除する")
	flag.Parse()

	// .env.localファイルを優先的に読み込み（本番環境用）
	if err := godotenv.Load(".env.local"); err != nil {
		_ = godotenv.Load()
	}

	cfg := config.LoadConfig()
	log := logger.Configure(logger.Options{Level: cfg.LogLevel}).WithComponent("purge_sessions")

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL が設定されていません")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("データベースへの接続に失敗しました")
	}
	defer pg.Close()

	kv := pg.KV()
	cutoff := time.Now().Add(-cfg.SessionMaxAge)

	count, err := kv.CountOlderThan(ctx, cutoff)
	if err != nil {
		log.WithError(err).Fatal("対象件数の取得に失敗しました")
	}
	if count == 0 {
		log.Info("期限切れのセッションはありません")
		return
	}
	log.WithFields(logger.Fields{"count": count, "cutoff": cutoff.Format(time.RFC3339)}).Info("削除対象のセッションがあります")

	if !*yes {
		fmt.Printf("\n%d件のセッションを削除してもよろしいですか？ (yes/no): ", count)
		var response string
		fmt.Scanln(&response)
		if strings.ToLower(response) != "yes" {
			log.Info("削除をキャンセルしました")
			os.Exit(0)
		}
	}

	deleted, err := kv.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		log.WithError(err).Fatal("セッションの削除に失敗しました")
	}
	log.WithFields(logger.Fields{"deleted": deleted}).Info("クリーンアップ完了")
}
