package handlers

import (
	"errors"
	"net/http"

	"commodity-forecast-api/pkg/auth"
	"commodity-forecast-api/pkg/logger"
	"commodity-forecast-api/pkg/models"
	"commodity-forecast-api/pkg/services"
	"commodity-forecast-api/pkg/store"

	"github.com/gin-gonic/gin"
)

// PredictionHandler は予測の実行と履歴のハンドラです。
type PredictionHandler struct {
	service *services.PredictionService
	store   store.PredictionStore
	log     *logger.Entry
}

// NewPredictionHandler は新しいPredictionHandlerを生成します。
func NewPredictionHandler(service *services.PredictionService, predictionStore store.PredictionStore) *PredictionHandler {
	return &PredictionHandler{
		service: service,
		store:   predictionStore,
		log:     logger.GetLogger().WithComponent("prediction_handler"),
	}
}

// CreatePrediction は予測を実行します。
// 単一の basis なら normalized と summary はオブジェクト、複数ならリストになります。
func (h *PredictionHandler) CreatePrediction(c *gin.Context) {
	var req models.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "リクエストの形式が正しくありません: "+err.Error())
		return
	}

	uid := auth.UID(c)
	outcome, err := h.service.Run(c.Request.Context(), uid, req)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.log.WithError(err).WithFields(logger.Fields{"uid": uid}).Error("予測の実行に失敗しました")
		}
		body := gin.H{"success": false, "error": err.Error()}
		var workflowErr *services.WorkflowError
		if errors.As(err, &workflowErr) && workflowErr.Record != nil {
			body["id"] = workflowErr.Record.ID
		}
		c.JSON(status, body)
		return
	}

	resp := gin.H{
		"success": true,
		"id":      outcome.Record.ID,
		"data":    outcome.Raw,
	}
	if outcome.Multi {
		normalized := make([]gin.H, 0, len(outcome.Views))
		summaries := make([]gin.H, 0, len(outcome.Views))
		for _, view := range outcome.Views {
			normalized = append(normalized, gin.H{"basisKey": view.BasisKey, "basisLabel": view.BasisLabel, "payload": view.Payload})
			summaries = append(summaries, gin.H{"basisKey": view.BasisKey, "basisLabel": view.BasisLabel, "summary": view.Summary})
		}
		resp["normalized"] = normalized
		resp["summary"] = summaries
	} else {
		resp["normalized"] = outcome.Views[0].Payload
		resp["summary"] = outcome.Views[0].Summary
	}
	c.JSON(http.StatusOK, resp)
}

// ListPredictions は呼び出し元の予測履歴を新しい順に返します。
func (h *PredictionHandler) ListPredictions(c *gin.Context) {
	records, err := h.store.List(c.Request.Context(), auth.UID(c), store.ListFilter{
		Commodity: c.Query("commodity"),
		Limit:     queryInt(c, "limit", 0),
	})
	if err != nil {
		h.log.WithError(err).Error("予測履歴の取得に失敗しました")
		respondError(c, http.StatusInternalServerError, "予測履歴の取得に失敗しました。")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": records, "count": len(records)})
}

// GetPrediction は1件の予測レコードを返します。
func (h *PredictionHandler) GetPrediction(c *gin.Context) {
	record, err := h.store.Get(c.Request.Context(), auth.UID(c), c.Param("id"))
	if err != nil {
		respondError(c, statusForError(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": record})
}

// DeletePrediction は1件の予測レコードを削除します。
func (h *PredictionHandler) DeletePrediction(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), auth.UID(c), c.Param("id")); err != nil {
		respondError(c, statusForError(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "予測を削除しました"})
}

// GetJustification は保存済みの出力から指定した観点の根拠を組み立て直します。
func (h *PredictionHandler) GetJustification(c *gin.Context) {
	perspective, err := services.ParsePerspective(c.Query("perspective"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.store.Get(c.Request.Context(), auth.UID(c), c.Param("id"))
	if err != nil {
		respondError(c, statusForError(err), err.Error())
		return
	}
	if record.Status != models.PredictionStatusSuccess {
		respondError(c, http.StatusConflict, "この予測は失敗しているため根拠がありません。")
		return
	}

	views, _ := services.BuildForecastViews(record.Outputs)
	view := views[0]
	if basis := c.Query("basis"); basis != "" {
		key := services.NormalizeBasisKey(basis)
		found := false
		for _, v := range views {
			if services.NormalizeBasisKey(v.BasisKey) == key || services.NormalizeBasisKey(v.BasisLabel) == key {
				view, found = v, true
				break
			}
		}
		if !found {
			respondError(c, http.StatusNotFound, "指定された basis の結果がありません: "+basis)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"perspective": perspective,
		"basisKey":    view.BasisKey,
		"data":        services.BuildJustification(&view.Payload, perspective),
	})
}
