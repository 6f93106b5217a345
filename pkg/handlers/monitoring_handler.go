package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"commodity-forecast-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// MonitoringHandler はモニタリング関連の操作のハンドラです。
type MonitoringHandler struct {
	Service *services.MonitoringService
}

// NewMonitoringHandler は新しいMonitoringHandlerを生成します。
func NewMonitoringHandler(service *services.MonitoringService) *MonitoringHandler {
	return &MonitoringHandler{
		Service: service,
	}
}

// GetLogs は集計されたリクエストログを返します。
// period は "12h" や "7d" の形式で、保持期間を超える値は受け付けません。
func (h *MonitoringHandler) GetLogs(c *gin.Context) {
	period := c.DefaultQuery("period", "24h")
	hours, err := parsePeriodHours(period)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	data := h.Service.GetDashboardData(hours)
	c.JSON(http.StatusOK, gin.H{"success": true, "period": period, "hours": hours, "data": data})
}

func parsePeriodHours(period string) (int, error) {
	period = strings.TrimSpace(strings.ToLower(period))
	if len(period) < 2 {
		return 0, fmt.Errorf("period の形式が正しくありません: %q", period)
	}

	n, err := strconv.Atoi(period[:len(period)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("period の形式が正しくありません: %q", period)
	}

	var hours int
	switch period[len(period)-1] {
	case 'h':
		hours = n
	case 'd':
		hours = n * 24
	default:
		return 0, fmt.Errorf("period の単位は h か d です: %q", period)
	}

	if hours > services.MaxDashboardHours {
		return 0, fmt.Errorf("period は最大 %d 時間です", services.MaxDashboardHours)
	}
	return hours, nil
}
