package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"commodity-forecast-api/pkg/logger"
	"commodity-forecast-api/pkg/models"
	"commodity-forecast-api/pkg/n8n"
	"commodity-forecast-api/pkg/store"
)

// ErrRateLimited 実行回数の上限に達した
var ErrRateLimited = errors.New("too many forecast requests")

// ValidationError 入力値エラー
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// WorkflowError はワークフロー呼び出しの失敗です。失敗した記録は保存済みです。
type WorkflowError struct {
	Record *models.PredictionRecord
	Err    error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("ワークフローの呼び出しに失敗: %v", e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Forecaster は予測を外部ワークフローに依頼します。
type Forecaster interface {
	Forecast(ctx context.Context, request models.WebhookRequest) (*n8n.Response, error)
}

// PredictionOutcome 予測実行の結果
type PredictionOutcome struct {
	Record *models.PredictionRecord
	Raw    json.RawMessage
	Views  []models.ForecastView
	Multi  bool
}

// PredictionService は入力の検証、ワークフロー呼び出し、結果の保存を行います。
type PredictionService struct {
	forecaster Forecaster
	store      store.PredictionStore
	limiter    *UserRateLimiter
	now        func() time.Time
	log        *logger.Entry
}

// NewPredictionService は新しいPredictionServiceを生成します。limiter は nil でも構いません。
func NewPredictionService(forecaster Forecaster, predictionStore store.PredictionStore, limiter *UserRateLimiter) *PredictionService {
	return &PredictionService{
		forecaster: forecaster,
		store:      predictionStore,
		limiter:    limiter,
		now:        time.Now,
		log:        logger.GetLogger().WithComponent("prediction_service"),
	}
}

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	docIDUnsafe       = regexp.MustCompile(`[^a-z0-9.-]+`)
	// uid 内の区切り文字をエスケープして ID の一意性を保つ
	uidEscaper = strings.NewReplacer("%", "%25", "_", "%5F", "/", "%2F")
)

// NormalizeBasisKey は basis キーを正規化します（ハイフンを空白に、小文字化、連続空白の圧縮）。
func NormalizeBasisKey(key string) string {
	s := strings.ReplaceAll(key, "-", " ")
	s = strings.ToLower(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// PredictionDocID は (uid, commodity, futureDate) から上書き用の決定的なIDを作ります。
// 各要素は "_" を含まない形にしてから連結するため、異なる組が同じIDになることはありません。
func PredictionDocID(uid, commodity, futureDate string) string {
	c := docIDUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(commodity)), "-")
	d := docIDUnsafe.ReplaceAllString(strings.TrimSpace(futureDate), "-")
	return fmt.Sprintf("%s_%s_%s", uidEscaper.Replace(uid), c, d)
}

// Run は予測を実行して結果を保存します。
// ワークフローが失敗した場合もステータス error のレコードを保存し、WorkflowError を返します。
func (s *PredictionService) Run(ctx context.Context, uid string, req models.PredictionRequest) (*PredictionOutcome, error) {
	webhookReq, err := buildWebhookRequest(uid, req)
	if err != nil {
		return nil, err
	}

	if !s.limiter.Allow(uid) {
		return nil, ErrRateLimited
	}

	record := models.PredictionRecord{
		ID:          PredictionDocID(uid, webhookReq.Commodity, webhookReq.FutureDate),
		UID:         uid,
		Commodity:   webhookReq.Commodity,
		FutureDate:  webhookReq.FutureDate,
		BasisKeys:   webhookReq.BasisKeys,
		BasisLabels: webhookReq.BasisLabels,
		BasePrices:  webhookReq.BasePrices,
	}

	log := s.log.WithFields(logger.Fields{"uid": uid, "id": record.ID, "basis": len(webhookReq.BasisKeys)})
	start := time.Now()

	resp, callErr := s.forecaster.Forecast(ctx, webhookReq)
	if callErr != nil {
		record.Status = models.PredictionStatusError
		record.Error = callErr.Error()
		saved, err := s.store.Upsert(ctx, record, s.now())
		if err != nil {
			log.WithError(err).Error("失敗した予測の保存に失敗しました")
			saved = &record
		}
		log.WithError(callErr).Warn("ワークフローの呼び出しに失敗しました")
		return nil, &WorkflowError{Record: saved, Err: callErr}
	}

	record.Status = models.PredictionStatusSuccess
	record.Outputs = resp.Raw
	saved, err := s.store.Upsert(ctx, record, s.now())
	if err != nil {
		return nil, fmt.Errorf("予測結果の保存に失敗: %w", err)
	}

	views, multi := BuildForecastViews(resp.Raw)
	log.WithFields(logger.Fields{"elapsed_ms": time.Since(start).Milliseconds(), "multi": multi}).Info("予測を実行しました")

	return &PredictionOutcome{
		Record: saved,
		Raw:    resp.Raw,
		Views:  views,
		Multi:  multi,
	}, nil
}

func buildWebhookRequest(uid string, req models.PredictionRequest) (models.WebhookRequest, error) {
	commodity := strings.TrimSpace(req.Commodity)
	if commodity == "" {
		return models.WebhookRequest{}, &ValidationError{Message: "commodity is required"}
	}

	futureDate := strings.TrimSpace(req.FutureDate)
	if _, err := time.Parse("2006-01-02", futureDate); err != nil {
		return models.WebhookRequest{}, &ValidationError{Message: "futureDate must be YYYY-MM-DD"}
	}

	if len(req.BasePrices) > 0 && len(req.BasePrices) != len(req.BasisKeys) {
		return models.WebhookRequest{}, &ValidationError{Message: "basePrices must match basisKeys"}
	}

	out := models.WebhookRequest{
		Commodity:   commodity,
		FutureDate:  futureDate,
		BasisKeys:   []string{},
		BasisLabels: []string{},
		BasePrices:  []float64{},
		UID:         uid,
	}
	for i, key := range req.BasisKeys {
		normalized := NormalizeBasisKey(key)
		if normalized == "" {
			continue
		}
		label := key
		if i < len(req.BasisLabels) && strings.TrimSpace(req.BasisLabels[i]) != "" {
			label = req.BasisLabels[i]
		}
		out.BasisKeys = append(out.BasisKeys, normalized)
		out.BasisLabels = append(out.BasisLabels, label)
		if len(req.BasePrices) > 0 {
			out.BasePrices = append(out.BasePrices, req.BasePrices[i])
		}
	}

	if len(out.BasisKeys) == 0 {
		return models.WebhookRequest{}, &ValidationError{Message: "at least one basis key is required"}
	}
	return out, nil
}

// BuildForecastViews はワークフローの生の応答から正規化済みビューを作ります。
// {results: [...]} 形式なら basis ごとに1件、それ以外は1件です。
func BuildForecastViews(raw json.RawMessage) ([]models.ForecastView, bool) {
	var envelope struct {
		Results []models.BasisResult `json:"results"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Results) > 0 {
		views := make([]models.ForecastView, 0, len(envelope.Results))
		for _, r := range envelope.Results {
			payload := NormalizeJSON(r.Data)
			views = append(views, models.ForecastView{
				BasisKey:   r.BasisKey,
				BasisLabel: r.BasisLabel,
				Payload:    payload,
				Summary:    MapResult(&payload),
			})
		}
		return views, true
	}

	payload := NormalizeJSON(raw)
	return []models.ForecastView{{Payload: payload, Summary: MapResult(&payload)}}, false
}
