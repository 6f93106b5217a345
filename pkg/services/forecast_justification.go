package services

import (
	"fmt"
	"math"
	"strings"

	"commodity-forecast-api/pkg/models"
)

const (
	maxEvidenceRows  = 6
	commentSeparator = " • "

	genericRiskDisclaimer = "Forecast is model-derived and indicative only. Confirm against live market quotes and counterparty terms before committing."
	noEvidenceComment     = "No evidence returned."
)

// ParsePerspective は観点名を検証します。空文字は drivers として扱います。
func ParsePerspective(s string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case "", models.PerspectiveDrivers:
		return models.PerspectiveDrivers, nil
	case models.PerspectiveRisk, models.PerspectiveEvidence:
		return p, nil
	default:
		return "", fmt.Errorf("無効な観点です: %s", s)
	}
}

// BuildJustification は指定した観点の根拠行を生成します。
// payload が nil でも行を返します。入力を書き換えることはありません。
func BuildJustification(payload *models.N8nPayload, perspective string) []models.JustificationRow {
	switch perspective {
	case models.PerspectiveRisk:
		return buildRiskRows(payload)
	case models.PerspectiveEvidence:
		return buildEvidenceRows(payload)
	default:
		return buildDriverRows(payload)
	}
}

// ImpactForAction は tenderAction を impact に対応付けます。
func ImpactForAction(action string) string {
	switch action {
	case models.ActionBuyBid, models.ActionBid:
		return models.ImpactUp
	case models.ActionSellOffer, models.ActionOffer:
		return models.ImpactDown
	default:
		return models.ImpactRisk
	}
}

// NormalizeConfidence は信頼度ラベルを High / Medium / Low に揃えます。
func NormalizeConfidence(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "high":
		return models.ConfidenceHigh
	case "low":
		return models.ConfidenceLow
	default:
		return models.ConfidenceMedium
	}
}

func buildDriverRows(payload *models.N8nPayload) []models.JustificationRow {
	var tender models.Tender
	if payload != nil {
		tender = payload.Tender
	}

	confidence := tender.DecisionConfidence
	if confidence == "" {
		confidence = tender.Confidence
	}

	var parts []string
	if tender.Rationale != "" {
		parts = append(parts, tender.Rationale)
	}
	if s := tender.Signals; s != nil {
		if s.Trend != "" {
			parts = append(parts, "Signals: "+s.Trend)
		}
		if s.SentimentScore != nil && isFinite(*s.SentimentScore) {
			parts = append(parts, fmt.Sprintf("Sentiment: %.2f", *s.SentimentScore))
		}
	}

	return []models.JustificationRow{{
		Factor:     "Tender Action",
		Impact:     ImpactForAction(tender.TenderAction),
		Confidence: NormalizeConfidence(confidence),
		Comment:    strings.Join(parts, commentSeparator),
	}}
}

func buildRiskRows(payload *models.N8nPayload) []models.JustificationRow {
	var p models.N8nPayload
	if payload != nil {
		p = *payload
	}

	var reasons []string
	// 空の {} でも返ってきていれば「あり」とみなす
	if p.ExpectedRange == nil {
		reasons = append(reasons, "no expected range (p10/p90) returned")
	}
	if isBlank(p.ExpectedSellingPrice) {
		reasons = append(reasons, "no expected selling price")
	}
	if strings.TrimSpace(p.SpotPricesText) == "" {
		reasons = append(reasons, "no spot price context")
	}
	if p.CaliBidTable == nil {
		reasons = append(reasons, "no cali bid table")
	}

	comment := genericRiskDisclaimer
	if len(reasons) > 0 {
		sentence := strings.Join(reasons, ", ")
		comment = strings.ToUpper(sentence[:1]) + sentence[1:] + "."
	}

	return []models.JustificationRow{{
		Factor:     "Model Limits",
		Impact:     models.ImpactRisk,
		Confidence: models.ConfidenceMedium,
		Comment:    comment,
	}}
}

// buildEvidenceRows は短期センチメント、evidence、notes の順に根拠を集めます。
// news.events はフォールバックに使わない。
func buildEvidenceRows(payload *models.N8nPayload) []models.JustificationRow {
	var rows []models.JustificationRow
	if payload == nil {
		return []models.JustificationRow{noEvidenceRow()}
	}

	if payload.News != nil && payload.News.ShortTermSentiment != nil {
		rows = append(rows, sentimentRows(payload.News.ShortTermSentiment)...)
	}

	if len(payload.Evidence) > 0 {
		for i, ev := range payload.Evidence {
			if i >= maxEvidenceRows {
				break
			}
			rows = append(rows, eventRow(ev))
		}
	} else {
		count := 0
		for _, note := range payload.Notes {
			if count >= maxEvidenceRows {
				break
			}
			if strings.TrimSpace(note) == "" {
				continue
			}
			factor := "Note"
			if count == 0 {
				factor = "Evidence Notes"
			}
			rows = append(rows, models.JustificationRow{
				Factor:     factor,
				Impact:     models.ImpactRisk,
				Confidence: models.ConfidenceLow,
				Comment:    note,
			})
			count++
		}
	}

	if len(rows) == 0 {
		return []models.JustificationRow{noEvidenceRow()}
	}
	return rows
}

func sentimentRows(s *models.Sentiment) []models.JustificationRow {
	impact := impactForDirection(s.Category)
	confidence := models.ConfidenceMedium
	if s.Score != nil && isFinite(*s.Score) {
		confidence = confidenceForScore(math.Abs(*s.Score), 0.6, 0.3)
	}

	var rows []models.JustificationRow
	if s.Category != "" || s.Score != nil {
		comment := s.Category
		if s.Score != nil && isFinite(*s.Score) {
			if comment == "" {
				comment = fmt.Sprintf("score %.2f", *s.Score)
			} else {
				comment = fmt.Sprintf("%s (score %.2f)", comment, *s.Score)
			}
		}
		rows = append(rows, models.JustificationRow{
			Factor:     "Short-term Sentiment",
			Impact:     impact,
			Confidence: confidence,
			Comment:    comment,
		})
	}
	if strings.TrimSpace(s.Rationale) != "" {
		rows = append(rows, models.JustificationRow{
			Factor:     "Sentiment Rationale",
			Impact:     impact,
			Confidence: confidence,
			Comment:    s.Rationale,
		})
	}
	return rows
}

func eventRow(ev models.EventRecord) models.JustificationRow {
	factor := ev.Headline
	if factor == "" {
		factor = ev.EventType
	}
	if factor == "" {
		factor = "Event"
	}

	confidence := models.ConfidenceLow
	if ev.ImportanceScore != nil {
		confidence = confidenceForScore(*ev.ImportanceScore, 0.7, 0.4)
	}

	var parts []string
	if ev.EventType != "" && ev.EventType != factor {
		parts = append(parts, ev.EventType)
	}
	if ev.EventDate != "" {
		parts = append(parts, ev.EventDate)
	}
	if len(ev.Regions) > 0 {
		parts = append(parts, strings.Join(ev.Regions, ", "))
	}

	return models.JustificationRow{
		Factor:     factor,
		Impact:     impactForDirection(ev.ImpactDirection),
		Confidence: confidence,
		Comment:    strings.Join(parts, commentSeparator),
	}
}

func noEvidenceRow() models.JustificationRow {
	return models.JustificationRow{
		Factor:     "Evidence",
		Impact:     models.ImpactRisk,
		Confidence: models.ConfidenceLow,
		Comment:    noEvidenceComment,
	}
}

func impactForDirection(direction string) string {
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "bullish":
		return models.ImpactUp
	case "bearish":
		return models.ImpactDown
	default:
		return models.ImpactRisk
	}
}

func confidenceForScore(score, high, medium float64) string {
	switch {
	case score >= high:
		return models.ConfidenceHigh
	case score >= medium:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}
