package services

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"commodity-forecast-api/pkg/models"
	"commodity-forecast-api/pkg/storage"
	"commodity-forecast-api/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func seedRecords(t *testing.T, s store.PredictionStore) {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err := s.Upsert(context.Background(), models.PredictionRecord{
		ID: "u1_urea_2026-04-01", UID: "u1", Commodity: "urea", FutureDate: "2026-04-01",
		BasisLabels: []string{"China"}, Status: models.PredictionStatusSuccess,
		Outputs: json.RawMessage(`{"tenderAction":"BID","tenderPredictedPrice":410,"notes":["n1"]}`),
	}, now)
	require.NoError(t, err)
	_, err = s.Upsert(context.Background(), models.PredictionRecord{
		ID: "u1_urea_2026-05-01", UID: "u1", Commodity: "urea", FutureDate: "2026-05-01",
		BasisLabels: []string{"Brazil"}, Status: models.PredictionStatusError, Error: "timeout",
	}, now.Add(time.Minute))
	require.NoError(t, err)
}

func TestBuildReportWorkbook(t *testing.T) {
	predictionStore := store.NewMemoryStore()
	seedRecords(t, predictionStore)
	records, err := predictionStore.List(context.Background(), "u1", store.ListFilter{})
	require.NoError(t, err)

	body, err := BuildReportWorkbook(records)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(forecastSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Commodity", rows[0][0])
	assert.Equal(t, "error", rows[1][3])
	assert.Equal(t, "BID", rows[2][4])
	assert.Equal(t, "410", rows[2][5])

	justification, err := f.GetRows(justificationSheet)
	require.NoError(t, err)
	// ヘッダー + drivers 1行 + risk 1行 + evidence 1行(notes)
	assert.Len(t, justification, 4)
	assert.Equal(t, "Evidence Notes", justification[3][4])
}

func TestReportServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	predictionStore := store.NewMemoryStore()
	seedRecords(t, predictionStore)
	objects := storage.NewMemoryStorage("http://reports.local")
	svc := NewReportService(predictionStore, objects, time.Minute)

	report, err := svc.Create(ctx, "u1", ReportRequest{Commodity: "urea"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(report.Key, "reports/u1/"))
	assert.True(t, strings.HasSuffix(report.Key, ".xlsx"))
	assert.NotEmpty(t, report.URL)

	stored, ok := objects.Object(report.Key)
	require.True(t, ok)
	assert.EqualValues(t, len(stored), report.Size)

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	others, err := svc.List(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, others)

	_, err = svc.URL(ctx, "u2", report.Key)
	assert.ErrorIs(t, err, ErrForbiddenKey)
	assert.ErrorIs(t, svc.Delete(ctx, "u2", report.Key), ErrForbiddenKey)
	assert.ErrorIs(t, svc.Delete(ctx, "u1", "reports/u1/../u2/x.xlsx"), ErrForbiddenKey)

	require.NoError(t, svc.Delete(ctx, "u1", report.Key))
	assert.ErrorIs(t, svc.Delete(ctx, "u1", report.Key), storage.ErrObjectNotFound)
}

func TestReportServiceNestedUIDs(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemoryStorage("http://reports.local")
	svc := NewReportService(store.NewMemoryStore(), objects, time.Minute)

	require.NoError(t, objects.Put(ctx, "reports/a/b/2026.xlsx", []byte("x"), xlsxContentType))

	_, err := svc.Create(ctx, "a/b", ReportRequest{})
	assert.ErrorIs(t, err, ErrInvalidUID)
	_, err = svc.List(ctx, "a/b")
	assert.ErrorIs(t, err, ErrInvalidUID)

	list, err := svc.List(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.URL(ctx, "a", "reports/a/b/2026.xlsx")
	assert.ErrorIs(t, err, ErrForbiddenKey)
	assert.ErrorIs(t, svc.Delete(ctx, "a", "reports/a/b/2026.xlsx"), ErrForbiddenKey)
}
