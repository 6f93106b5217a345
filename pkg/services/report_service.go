package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"commodity-forecast-api/pkg/logger"
	"commodity-forecast-api/pkg/models"
	"commodity-forecast-api/pkg/storage"
	"commodity-forecast-api/pkg/store"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	xlsxContentType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	forecastSheet      = "Forecasts"
	justificationSheet = "Justification"
	reportKeyRoot      = "reports/"
)

// ErrForbiddenKey 他ユーザーのレポートキーが指定された
var ErrForbiddenKey = errors.New("report key is outside of the caller's prefix")

// ErrInvalidUID はオブジェクトキーに使えない uid です。
var ErrInvalidUID = errors.New("uid cannot be used as a report prefix")

// ReportRequest レポート作成の条件
type ReportRequest struct {
	Commodity string `json:"commodity"`
	Limit     int    `json:"limit"`
}

// ReportService は予測履歴をExcelに書き出し、オブジェクトストレージで管理します。
type ReportService struct {
	store      store.PredictionStore
	storage    storage.ObjectStorage
	presignTTL time.Duration
	now        func() time.Time
	log        *logger.Entry
}

// NewReportService は新しいReportServiceを生成します。
func NewReportService(predictionStore store.PredictionStore, objectStorage storage.ObjectStorage, presignTTL time.Duration) *ReportService {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &ReportService{
		store:      predictionStore,
		storage:    objectStorage,
		presignTTL: presignTTL,
		now:        time.Now,
		log:        logger.GetLogger().WithComponent("report_service"),
	}
}

// UserPrefix はユーザーのレポートが置かれる接頭辞です。
// "/" を含む uid は他ユーザーの接頭辞と重なるため拒否します。
func UserPrefix(uid string) (string, error) {
	if uid == "" || strings.Contains(uid, "/") || strings.Contains(uid, "..") {
		return "", ErrInvalidUID
	}
	return reportKeyRoot + uid + "/", nil
}

// Create は履歴からレポートを作成してアップロードし、署名付きURLを返します。
func (s *ReportService) Create(ctx context.Context, uid string, req ReportRequest) (*models.ReportObject, error) {
	prefix, err := UserPrefix(uid)
	if err != nil {
		return nil, err
	}

	records, err := s.store.List(ctx, uid, store.ListFilter{Commodity: req.Commodity, Limit: req.Limit})
	if err != nil {
		return nil, fmt.Errorf("履歴の取得に失敗: %w", err)
	}

	body, err := BuildReportWorkbook(records)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	key := fmt.Sprintf("%s%s-%s.xlsx", prefix, now.Format("20060102T150405Z"), uuid.NewString())
	if err := s.storage.Put(ctx, key, body, xlsxContentType); err != nil {
		return nil, fmt.Errorf("レポートのアップロードに失敗: %w", err)
	}

	url, err := s.storage.PresignGet(ctx, key, s.presignTTL)
	if err != nil {
		return nil, fmt.Errorf("署名付きURLの生成に失敗: %w", err)
	}

	s.log.WithFields(logger.Fields{"uid": uid, "key": key, "records": len(records)}).Info("レポートを作成しました")
	return &models.ReportObject{
		Key:          key,
		Size:         int64(len(body)),
		LastModified: now,
		URL:          url,
	}, nil
}

// List はユーザーのレポート一覧を返します。
// 接頭辞の直下にあるオブジェクトだけを返します。
func (s *ReportService) List(ctx context.Context, uid string) ([]models.ReportObject, error) {
	prefix, err := UserPrefix(uid)
	if err != nil {
		return nil, err
	}
	objects, err := s.storage.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.ReportObject, 0, len(objects))
	for _, obj := range objects {
		if !strings.Contains(strings.TrimPrefix(obj.Key, prefix), "/") {
			out = append(out, obj)
		}
	}
	return out, nil
}

// URL は署名付きダウンロードURLを返します。
func (s *ReportService) URL(ctx context.Context, uid, key string) (string, error) {
	if err := checkOwnership(uid, key); err != nil {
		return "", err
	}
	return s.storage.PresignGet(ctx, key, s.presignTTL)
}

// Delete はレポートを削除します。
func (s *ReportService) Delete(ctx context.Context, uid, key string) error {
	if err := checkOwnership(uid, key); err != nil {
		return err
	}
	return s.storage.Delete(ctx, key)
}

func checkOwnership(uid, key string) error {
	prefix, err := UserPrefix(uid)
	if err != nil {
		return err
	}
	name, ok := strings.CutPrefix(key, prefix)
	if !ok || name == "" || strings.Contains(name, "/") || strings.Contains(key, "..") {
		return ErrForbiddenKey
	}
	return nil
}

// BuildReportWorkbook は予測レコードからxlsxを組み立てます。
// マルチベーシスの記録は basis ごとに1行になります。
func BuildReportWorkbook(records []models.PredictionRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), forecastSheet); err != nil {
		return nil, fmt.Errorf("シート名の設定に失敗: %w", err)
	}
	if _, err := f.NewSheet(justificationSheet); err != nil {
		return nil, fmt.Errorf("シートの作成に失敗: %w", err)
	}

	forecastHeader := []interface{}{"Commodity", "Future Date", "Basis", "Status", "Tender Action", "Predicted Price", "Currency", "Confidence", "Decision Confidence", "Risk Level", "Updated At"}
	justificationHeader := []interface{}{"Commodity", "Future Date", "Basis", "Perspective", "Factor", "Impact", "Confidence", "Comment"}
	if err := f.SetSheetRow(forecastSheet, "A1", &forecastHeader); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(justificationSheet, "A1", &justificationHeader); err != nil {
		return nil, err
	}

	forecastRow, justificationRow := 2, 2
	for _, record := range records {
		updated := record.UpdatedAt.UTC().Format(time.RFC3339)

		if record.Status != models.PredictionStatusSuccess {
			row := []interface{}{record.Commodity, record.FutureDate, strings.Join(record.BasisLabels, ", "), record.Status, "", "", "", "", "", "", updated}
			if err := setRow(f, forecastSheet, forecastRow, row); err != nil {
				return nil, err
			}
			forecastRow++
			continue
		}

		views, _ := BuildForecastViews(record.Outputs)
		for _, view := range views {
			basis := view.BasisLabel
			if basis == "" {
				basis = strings.Join(record.BasisLabels, ", ")
			}
			tender := view.Payload.Tender
			row := []interface{}{
				record.Commodity, record.FutureDate, basis, record.Status,
				tender.TenderAction, view.Summary.TenderPredictedPrice, view.Summary.Currency,
				tender.Confidence, tender.DecisionConfidence, view.Summary.RiskLevel, updated,
			}
			if err := setRow(f, forecastSheet, forecastRow, row); err != nil {
				return nil, err
			}
			forecastRow++

			for _, perspective := range []string{models.PerspectiveDrivers, models.PerspectiveRisk, models.PerspectiveEvidence} {
				for _, j := range BuildJustification(&view.Payload, perspective) {
					row := []interface{}{record.Commodity, record.FutureDate, basis, perspective, j.Factor, j.Impact, j.Confidence, j.Comment}
					if err := setRow(f, justificationSheet, justificationRow, row); err != nil {
						return nil, err
					}
					justificationRow++
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("Excelファイルの書き出しに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
