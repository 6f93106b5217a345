package n8n

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"commodity-forecast-api/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecastSingle(t *testing.T) {
	var received models.WebhookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "s3cret", r.Header.Get("X-Webhook-Secret"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tender":{"tenderAction":"BID","tenderPredictedPrice":410}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "s3cret", 5*time.Second)
	resp, err := client.Forecast(context.Background(), models.WebhookRequest{
		Commodity:  "sulphur",
		FutureDate: "2026-11-01",
		BasisKeys:  []string{"middle east"},
		UID:        "user-1",
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"tender":{"tenderAction":"BID","tenderPredictedPrice":410}}`, string(resp.Raw))
	assert.Equal(t, "user-1", received.UID)
	assert.Equal(t, []string{"middle east"}, received.BasisKeys)
}

func TestForecastMulti(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"basisKey":"a","basisLabel":"A","data":{"tenderAction":"PASS"}},{"basisKey":"b","basisLabel":"B","data":[{"output":"{}"}]}]}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, "", time.Second).Forecast(context.Background(), models.WebhookRequest{})

	require.NoError(t, err)
	var envelope struct {
		Results []models.BasisResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(resp.Raw, &envelope))
	require.Len(t, envelope.Results, 2)
	assert.Equal(t, "B", envelope.Results[1].BasisLabel)
}

func TestForecastStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("workflow failed"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", time.Second).Forecast(context.Background(), models.WebhookRequest{})

	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "502")
}

func TestForecastNonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Workflow was started"))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, "", time.Second).Forecast(context.Background(), models.WebhookRequest{})

	require.NoError(t, err)
	assert.Equal(t, `"Workflow was started"`, string(resp.Raw))
}

func TestForecastMissingURL(t *testing.T) {
	_, err := NewClient("", "", time.Second).Forecast(context.Background(), models.WebhookRequest{})
	assert.Error(t, err)
}
