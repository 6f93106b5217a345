package services

import (
	"regexp"
	"strconv"

	"commodity-forecast-api/pkg/models"
)

var looseNumberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

// ParseLooseNumber は数値、または数値を含む文字列から最初の数値を取り出します。
func ParseLooseNumber(v any) (float64, bool) {
	if f, ok := toFloat(v); ok {
		return f, isFinite(f)
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	match := looseNumberPattern.FindString(s)
	if match == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// MapResult は正規化済みペイロードを簡易サマリーに変換します。
// riskLevel はリスクモデルが無いため常に固定値です。
func MapResult(payload *models.N8nPayload) models.Result {
	return mapResultWith(payload, DefaultForecastDefaults)
}

func mapResultWith(payload *models.N8nPayload, defaults ForecastDefaults) models.Result {
	result := models.Result{
		Currency:      defaults.Unit,
		RiskLevel:     defaults.RiskLevel,
		Notes:         []string{},
		Justification: BuildJustification(payload, models.PerspectiveDrivers),
	}
	if payload == nil {
		return result
	}

	if price, ok := ParseLooseNumber(payload.Tender.TenderPredictedPrice); ok {
		result.TenderPredictedPrice = price
	}
	if payload.Tender.Unit != "" {
		result.Currency = payload.Tender.Unit
	}
	if payload.Notes != nil {
		result.Notes = append([]string{}, payload.Notes...)
	}
	return result
}
