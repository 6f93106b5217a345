package services

import (
	"time"

	"commodity-forecast-api/pkg/models"
)

// ForecastDefaults は正規化・サマリー・セッションキャッシュで使うフォールバック値です。
// 既定値の変更はこの構造体だけで行います。
type ForecastDefaults struct {
	TenderAction  string
	Unit          string
	Confidence    string
	Rationale     string
	RiskLevel     string
	SessionMaxAge time.Duration
}

// DefaultForecastDefaults 標準のフォールバック値
var DefaultForecastDefaults = ForecastDefaults{
	TenderAction:  models.ActionPass,
	Unit:          "USD/t",
	Confidence:    models.ConfidenceMedium,
	Rationale:     "",
	RiskLevel:     models.ConfidenceMedium, // リスクモデルは存在しないため固定値
	SessionMaxAge: 24 * time.Hour,
}
