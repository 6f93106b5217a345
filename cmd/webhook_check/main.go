package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	config "commodity-forecast-api/configs"
	"commodity-forecast-api/pkg/logger"
	"commodity-forecast-api/pkg/models"
	"commodity-forecast-api/pkg/n8n"
	"commodity-forecast-api/pkg/services"

	"github.com/joho/godotenv"
)

// 設定済みのn8nワークフローに予測を1回依頼し、正規化後の結果を表示します。
// 本番のWebhookが期待どおりの形の応答を返すかを確認するための道具です。
func main() {
	commodity := flag.String("commodity", "urea", "商品")
	basis := flag.String("basis", "middle east", "basis キー")
	futureDate := flag.String("date", time.Now().AddDate(0, 1, 0).Format("2006-01-02"), "予測日 (YYYY-MM-DD)")
	flag.Parse()

	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: .env file not found or could not be loaded: %v\n", err)
	}

	cfg := config.LoadConfig()
	log := logger.Configure(logger.Options{Level: cfg.LogLevel}).WithComponent("webhook_check")

	if cfg.N8nWebhookURL == "" {
		log.Fatal("N8N_WEBHOOK_URL が設定されていません")
	}

	client := n8n.NewClient(cfg.N8nWebhookURL, cfg.N8nWebhookSecret, cfg.N8nTimeout)
	request := models.WebhookRequest{
		Commodity:   *commodity,
		FutureDate:  *futureDate,
		BasisKeys:   []string{services.NormalizeBasisKey(*basis)},
		BasisLabels: []string{*basis},
		BasePrices:  []float64{},
		UID:         "webhook-check",
	}

	log.WithFields(logger.Fields{"url": cfg.N8nWebhookURL, "commodity": *commodity, "basis": *basis}).Info("リクエストを送信します")
	start := time.Now()
	resp, err := client.Forecast(context.Background(), request)
	if err != nil {
		log.WithError(err).Fatal("ワークフローの呼び出しに失敗しました")
	}
	views, multi := services.BuildForecastViews(resp.Raw)
	log.WithFields(logger.Fields{"elapsed_ms": time.Since(start).Milliseconds(), "multi": multi}).Info("応答を受信しました")

	out, _ := json.MarshalIndent(views, "", "  ")
	fmt.Println(string(out))
}
