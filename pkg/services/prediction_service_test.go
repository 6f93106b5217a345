package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"commodity-forecast-api/pkg/models"
	"commodity-forecast-api/pkg/n8n"
	"commodity-forecast-api/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeForecaster struct {
	raw      string
	err      error
	calls    int
	received models.WebhookRequest
}

func (f *fakeForecaster) Forecast(_ context.Context, req models.WebhookRequest) (*n8n.Response, error) {
	f.calls++
	f.received = req
	if f.err != nil {
		return nil, f.err
	}
	return &n8n.Response{Raw: json.RawMessage(f.raw)}, nil
}

func TestNormalizeBasisKey(t *testing.T) {
	assert.Equal(t, "middle east", NormalizeBasisKey("Middle-East"))
	assert.Equal(t, "middle east", NormalizeBasisKey("  middle   EAST "))
	assert.Equal(t, "", NormalizeBasisKey(" - "))
}

func TestPredictionDocID(t *testing.T) {
	a := PredictionDocID("u1", "Urea Granular", "2026-04-01")
	assert.Equal(t, a, PredictionDocID("u1", "urea granular", "2026-04-01"))
	assert.Equal(t, "u1_urea-granular_2026-04-01", a)
	assert.NotEqual(t, a, PredictionDocID("u2", "urea granular", "2026-04-01"))
}

func TestPredictionDocIDSeparatesParts(t *testing.T) {
	assert.NotEqual(t,
		PredictionDocID("alice_x", "sulphur", "2026-01-01"),
		PredictionDocID("alice", "x_sulphur", "2026-01-01"))
	assert.NotEqual(t,
		PredictionDocID("a/b", "urea", "2026-01-01"),
		PredictionDocID("a", "b urea", "2026-01-01"))
	assert.Equal(t, "alice%5Fx_sulphur_2026-01-01", PredictionDocID("alice_x", "sulphur", "2026-01-01"))
}

func TestPredictionServiceUsersWithOverlappingNames(t *testing.T) {
	forecaster := &fakeForecaster{raw: `{"tenderAction":"BID"}`}
	predictionStore := store.NewMemoryStore()
	svc := NewPredictionService(forecaster, predictionStore, nil)
	ctx := context.Background()

	_, err := svc.Run(ctx, "alice_x", models.PredictionRequest{Commodity: "sulphur", FutureDate: "2026-01-01", BasisKeys: []string{"china"}})
	require.NoError(t, err)
	_, err = svc.Run(ctx, "alice", models.PredictionRequest{Commodity: "x_sulphur", FutureDate: "2026-01-01", BasisKeys: []string{"china"}})
	require.NoError(t, err)

	for _, uid := range []string{"alice_x", "alice"} {
		records, err := predictionStore.List(ctx, uid, store.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, records, 1, uid)
	}
}

func TestPredictionServiceRunPersistsSuccess(t *testing.T) {
	forecaster := &fakeForecaster{raw: `{"tenderAction":"BID","tenderPredictedPrice":410,"unit":"USD/t"}`}
	predictionStore := store.NewMemoryStore()
	svc := NewPredictionService(forecaster, predictionStore, nil)

	outcome, err := svc.Run(context.Background(), "u1", models.PredictionRequest{
		Commodity:  " urea ",
		FutureDate: "2026-04-01",
		BasisKeys:  []string{"Middle-East"},
		BasePrices: []float64{400},
	})
	require.NoError(t, err)

	assert.Equal(t, "urea", forecaster.received.Commodity)
	assert.Equal(t, []string{"middle east"}, forecaster.received.BasisKeys)
	assert.Equal(t, []string{"Middle-East"}, forecaster.received.BasisLabels)
	assert.Equal(t, "u1", forecaster.received.UID)

	assert.False(t, outcome.Multi)
	require.Len(t, outcome.Views, 1)
	assert.Equal(t, 410.0, outcome.Views[0].Summary.TenderPredictedPrice)
	assert.Equal(t, models.ImpactUp, outcome.Views[0].Summary.Justification[0].Impact)

	saved, err := predictionStore.Get(context.Background(), "u1", outcome.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PredictionStatusSuccess, saved.Status)
	assert.JSONEq(t, forecaster.raw, string(saved.Outputs))
}

func TestPredictionServiceRerunKeepsCreatedAt(t *testing.T) {
	forecaster := &fakeForecaster{raw: `{}`}
	predictionStore := store.NewMemoryStore()
	svc := NewPredictionService(forecaster, predictionStore, nil)

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }
	req := models.PredictionRequest{Commodity: "urea", FutureDate: "2026-04-01", BasisKeys: []string{"china"}}
	_, err := svc.Run(context.Background(), "u1", req)
	require.NoError(t, err)

	svc.now = func() time.Time { return first.Add(time.Hour) }
	outcome, err := svc.Run(context.Background(), "u1", req)
	require.NoError(t, err)

	assert.True(t, outcome.Record.CreatedAt.Equal(first))
	assert.True(t, outcome.Record.UpdatedAt.Equal(first.Add(time.Hour)))

	records, err := predictionStore.List(context.Background(), "u1", store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestPredictionServiceRunRecordsWorkflowFailure(t *testing.T) {
	forecaster := &fakeForecaster{err: &n8n.StatusError{StatusCode: 500, Body: "boom"}}
	predictionStore := store.NewMemoryStore()
	svc := NewPredictionService(forecaster, predictionStore, nil)

	_, err := svc.Run(context.Background(), "u1", models.PredictionRequest{
		Commodity: "urea", FutureDate: "2026-04-01", BasisKeys: []string{"china"},
	})

	var workflowErr *WorkflowError
	require.True(t, errors.As(err, &workflowErr))
	var statusErr *n8n.StatusError
	assert.True(t, errors.As(err, &statusErr))

	saved, err := predictionStore.Get(context.Background(), "u1", workflowErr.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PredictionStatusError, saved.Status)
	assert.Contains(t, saved.Error, "500")
}

func TestPredictionServiceFailedRerunKeepsOutputs(t *testing.T) {
	forecaster := &fakeForecaster{raw: `{"tenderAction":"BID"}`}
	predictionStore := store.NewMemoryStore()
	svc := NewPredictionService(forecaster, predictionStore, nil)
	req := models.PredictionRequest{Commodity: "urea", FutureDate: "2026-04-01", BasisKeys: []string{"china"}}

	first, err := svc.Run(context.Background(), "u1", req)
	require.NoError(t, err)

	forecaster.err = &n8n.StatusError{StatusCode: 502}
	_, err = svc.Run(context.Background(), "u1", req)
	var workflowErr *WorkflowError
	require.True(t, errors.As(err, &workflowErr))

	saved, err := predictionStore.Get(context.Background(), "u1", first.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PredictionStatusError, saved.Status)
	assert.JSONEq(t, `{"tenderAction":"BID"}`, string(saved.Outputs))
	assert.True(t, saved.CreatedAt.Equal(first.Record.CreatedAt))
}

func TestPredictionServiceValidation(t *testing.T) {
	forecaster := &fakeForecaster{raw: `{}`}
	svc := NewPredictionService(forecaster, store.NewMemoryStore(), nil)

	testCases := []struct {
		name string
		req  models.PredictionRequest
	}{
		{"missing commodity", models.PredictionRequest{FutureDate: "2026-04-01", BasisKeys: []string{"a"}}},
		{"bad date", models.PredictionRequest{Commodity: "urea", FutureDate: "01/04/2026", BasisKeys: []string{"a"}}},
		{"no basis", models.PredictionRequest{Commodity: "urea", FutureDate: "2026-04-01", BasisKeys: []string{" "}}},
		{"price mismatch", models.PredictionRequest{Commodity: "urea", FutureDate: "2026-04-01", BasisKeys: []string{"a"}, BasePrices: []float64{1, 2}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Run(context.Background(), "u1", tc.req)
			var validationErr *ValidationError
			assert.True(t, errors.As(err, &validationErr))
		})
	}
	assert.Equal(t, 0, forecaster.calls)
}

func TestPredictionServiceRateLimit(t *testing.T) {
	forecaster := &fakeForecaster{raw: `{}`}
	svc := NewPredictionService(forecaster, store.NewMemoryStore(), NewUserRateLimiter(1))
	req := models.PredictionRequest{Commodity: "urea", FutureDate: "2026-04-01", BasisKeys: []string{"a"}}

	_, err := svc.Run(context.Background(), "u1", req)
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), "u1", req)
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = svc.Run(context.Background(), "u2", req)
	assert.NoError(t, err)
	assert.Equal(t, 2, forecaster.calls)
}

func TestBuildForecastViewsMulti(t *testing.T) {
	raw := json.RawMessage(`{"results":[` +
		`{"basisKey":"china","basisLabel":"China","data":{"tender":{"tenderAction":"BID","unit":"USD/t"}}},` +
		`{"basisKey":"brazil","basisLabel":"Brazil","data":{"output":"{\"tenderAction\":\"OFFER\"}"}}]}`)

	views, multi := BuildForecastViews(raw)
	assert.True(t, multi)
	require.Len(t, views, 2)
	assert.Equal(t, "China", views[0].BasisLabel)
	assert.Equal(t, "BID", views[0].Payload.Tender.TenderAction)
	assert.Equal(t, "OFFER", views[1].Payload.Tender.TenderAction)
	assert.Equal(t, models.ImpactDown, views[1].Summary.Justification[0].Impact)
}
