package services

import (
	"testing"

	"commodity-forecast-api/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func TestImpactForAction(t *testing.T) {
	testCases := map[string]string{
		"BUY BID":    models.ImpactUp,
		"BID":        models.ImpactUp,
		"SELL OFFER": models.ImpactDown,
		"OFFER":      models.ImpactDown,
		"PASS":       models.ImpactRisk,
		"":           models.ImpactRisk,
		"bid":        models.ImpactRisk,
	}
	for action, expected := range testCases {
		assert.Equal(t, expected, ImpactForAction(action), "action=%q", action)
	}
}

func TestNormalizeConfidence(t *testing.T) {
	assert.Equal(t, models.ConfidenceHigh, NormalizeConfidence("HIGH"))
	assert.Equal(t, models.ConfidenceLow, NormalizeConfidence(" low "))
	assert.Equal(t, models.ConfidenceMedium, NormalizeConfidence(""))
	assert.Equal(t, models.ConfidenceMedium, NormalizeConfidence("very"))
}

func TestDriverRowComment(t *testing.T) {
	payload := &models.N8nPayload{Tender: models.Tender{
		TenderAction:       "SELL OFFER",
		Confidence:         "high",
		DecisionConfidence: "Low",
		Rationale:          "Oversupplied",
		Signals:            &models.Signals{Trend: "down", SentimentScore: floatPtr(-0.456)},
	}}

	rows := BuildJustification(payload, models.PerspectiveDrivers)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ImpactDown, rows[0].Impact)
	assert.Equal(t, models.ConfidenceLow, rows[0].Confidence)
	assert.Equal(t, "Oversupplied • Signals: down • Sentiment: -0.46", rows[0].Comment)
}

func TestDriversWithNilPayload(t *testing.T) {
	rows := BuildJustification(nil, "")
	require.Len(t, rows, 1)
	assert.Equal(t, models.ImpactRisk, rows[0].Impact)
	assert.Equal(t, models.ConfidenceMedium, rows[0].Confidence)
}

func TestRiskRows(t *testing.T) {
	empty := BuildJustification(&models.N8nPayload{}, models.PerspectiveRisk)
	require.Len(t, empty, 1)
	assert.Equal(t, "Model Limits", empty[0].Factor)
	assert.Equal(t, models.ImpactRisk, empty[0].Impact)
	assert.Equal(t, "No expected range (p10/p90) returned, no expected selling price, no spot price context, no cali bid table.", empty[0].Comment)

	complete := &models.N8nPayload{
		ExpectedRange:        map[string]any{"p10": 390.0, "p90": 420.0},
		ExpectedSellingPrice: 415.0,
		SpotPricesText:       "Spot 408",
		CaliBidTable:         []models.CaliBidRow{},
	}
	rows := BuildJustification(complete, models.PerspectiveRisk)
	require.Len(t, rows, 1)
	assert.Equal(t, genericRiskDisclaimer, rows[0].Comment)
}

func TestRiskRowsEmptyRangeCountsAsPresent(t *testing.T) {
	payload := NormalizeJSON([]byte(`{"tenderAction":"BID","expectedRange":{},"expectedSellingPrice":415,"spotPricesText":"Spot 408","caliBidTable":[]}`))
	require.NotNil(t, payload.ExpectedRange)

	rows := BuildJustification(&payload, models.PerspectiveRisk)
	require.Len(t, rows, 1)
	assert.Equal(t, genericRiskDisclaimer, rows[0].Comment)

	missing := NormalizeJSON([]byte(`{"tenderAction":"BID","expectedSellingPrice":415,"spotPricesText":"Spot 408","caliBidTable":[]}`))
	rows = BuildJustification(&missing, models.PerspectiveRisk)
	assert.Equal(t, "No expected range (p10/p90) returned.", rows[0].Comment)
}

func TestEvidenceFromNotes(t *testing.T) {
	payload := &models.N8nPayload{Notes: []string{"a", "b", "c"}}

	rows := BuildJustification(payload, models.PerspectiveEvidence)
	require.Len(t, rows, 3)
	assert.Equal(t, "Evidence Notes", rows[0].Factor)
	assert.Equal(t, "Note", rows[1].Factor)
	assert.Equal(t, "Note", rows[2].Factor)
	for _, row := range rows {
		assert.Equal(t, models.ImpactRisk, row.Impact)
	}
}

func TestEvidencePrefersEvents(t *testing.T) {
	events := make([]models.EventRecord, 0, 8)
	for i := 0; i < 8; i++ {
		events = append(events, models.EventRecord{Headline: "event", ImpactDirection: "Bearish", ImportanceScore: floatPtr(0.5)})
	}
	payload := &models.N8nPayload{
		News: &models.News{
			ShortTermSentiment: &models.Sentiment{Category: "bullish", Score: floatPtr(0.65), Rationale: "Demand pickup"},
			Events:             []models.EventRecord{{Headline: "ignored"}},
		},
		Notes:    []string{"ignored"},
		Evidence: events,
	}

	rows := BuildJustification(payload, models.PerspectiveEvidence)
	require.Len(t, rows, 2+maxEvidenceRows)
	assert.Equal(t, "Short-term Sentiment", rows[0].Factor)
	assert.Equal(t, models.ImpactUp, rows[0].Impact)
	assert.Equal(t, models.ConfidenceHigh, rows[0].Confidence)
	assert.Equal(t, "Sentiment Rationale", rows[1].Factor)
	assert.Equal(t, models.ImpactDown, rows[2].Impact)
	assert.Equal(t, models.ConfidenceMedium, rows[2].Confidence)
}

func TestEvidenceIgnoresNewsEvents(t *testing.T) {
	payload := &models.N8nPayload{News: &models.News{Events: []models.EventRecord{{Headline: "only news"}}}}

	rows := BuildJustification(payload, models.PerspectiveEvidence)
	assert.Equal(t, []models.JustificationRow{noEvidenceRow()}, rows)
}

func TestBuildJustificationDoesNotMutate(t *testing.T) {
	payload := &models.N8nPayload{Notes: []string{"", "kept"}}
	BuildJustification(payload, models.PerspectiveEvidence)
	assert.Equal(t, []string{"", "kept"}, payload.Notes)
}

func TestParsePerspective(t *testing.T) {
	p, err := ParsePerspective("")
	require.NoError(t, err)
	assert.Equal(t, models.PerspectiveDrivers, p)

	p, err = ParsePerspective("Evidence")
	require.NoError(t, err)
	assert.Equal(t, models.PerspectiveEvidence, p)

	_, err = ParsePerspective("macro")
	assert.Error(t, err)
}
