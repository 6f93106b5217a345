package handlers

import (
	"errors"
	"io"
	"net/http"

	"commodity-forecast-api/pkg/auth"
	"commodity-forecast-api/pkg/logger"
	"commodity-forecast-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// ReportHandler はExcelレポートのハンドラです。
type ReportHandler struct {
	service *services.ReportService
	log     *logger.Entry
}

// NewReportHandler は新しいReportHandlerを生成します。
func NewReportHandler(service *services.ReportService) *ReportHandler {
	return &ReportHandler{
		service: service,
		log:     logger.GetLogger().WithComponent("report_handler"),
	}
}

// CreateReport は予測履歴をExcelに書き出してアップロードします。本文は省略可能です。
func (h *ReportHandler) CreateReport(c *gin.Context) {
	var req services.ReportRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(c, http.StatusBadRequest, "リクエストの形式が正しくありません: "+err.Error())
			return
		}
	}

	report, err := h.service.Create(c.Request.Context(), auth.UID(c), req)
	if err != nil {
		h.log.WithError(err).Error("レポートの作成に失敗しました")
		respondError(c, statusForError(err), "レポートの作成に失敗しました。")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": report})
}

// ListReports は呼び出し元のレポート一覧を返します。
func (h *ReportHandler) ListReports(c *gin.Context) {
	reports, err := h.service.List(c.Request.Context(), auth.UID(c))
	if err != nil {
		h.log.WithError(err).Error("レポート一覧の取得に失敗しました")
		respondError(c, statusForError(err), "レポート一覧の取得に失敗しました。")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": reports, "count": len(reports)})
}

// GetReportURL は署名付きダウンロードURLを返します。
func (h *ReportHandler) GetReportURL(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		respondError(c, http.StatusBadRequest, "key が必要です。")
		return
	}
	url, err := h.service.URL(c.Request.Context(), auth.UID(c), key)
	if err != nil {
		respondError(c, statusForError(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"key": key, "url": url}})
}

// DeleteReport はレポートを削除します。
func (h *ReportHandler) DeleteReport(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		respondError(c, http.StatusBadRequest, "key が必要です。")
		return
	}
	if err := h.service.Delete(c.Request.Context(), auth.UID(c), key); err != nil {
		respondError(c, statusForError(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "レポートを削除しました"})
}
