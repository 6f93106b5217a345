package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	config "commodity-forecast-api/configs"
	"commodity-forecast-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// isMaintenanceMode はサーバーがメンテナンスモードかどうかを示します。
// atomic.Boolを使用して、スレッドセーフな読み書きを保証します。
var isMaintenanceMode atomic.Bool

// Pinger は依存先の疎通確認です。
type Pinger interface {
	Ping(ctx context.Context) error
}

// AdminHandler は管理者向け操作のハンドラです。
type AdminHandler struct {
	AdminUsername string
	AdminPassword string
	dependencies  map[string]Pinger
	log           *logger.Entry
}

// NewAdminHandler は新しいAdminHandlerを生成します。
// dependencies は readiness で疎通確認する依存先です（例: "database"）。
func NewAdminHandler(cfg *config.Config, dependencies map[string]Pinger) *AdminHandler {
	return &AdminHandler{
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
		dependencies:  dependencies,
		log:           logger.GetLogger().WithComponent("admin"),
	}
}

// AdminCredentials は管理者認証のためのリクエストボディです。
type AdminCredentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AdminHandler) authorize(c *gin.Context) bool {
	var input AdminCredentials
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, "Username and password are required")
		return false
	}

	// パスワード未設定の場合は管理操作を受け付けない
	if h.AdminPassword == "" ||
		subtle.ConstantTimeCompare([]byte(input.Username), []byte(h.AdminUsername)) != 1 ||
		subtle.ConstantTimeCompare([]byte(input.Password), []byte(h.AdminPassword)) != 1 {
		respondError(c, http.StatusUnauthorized, "Invalid credentials")
		return false
	}
	return true
}

// StartMaintenance はメンテナンスモードを開始します。
func (h *AdminHandler) StartMaintenance(c *gin.Context) {
	if !h.authorize(c) {
		return
	}
	isMaintenanceMode.Store(true)
	h.log.Warn("メンテナンスモードを開始しました")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Maintenance mode started"})
}

// StopMaintenance はメンテナンスモードを停止します。
func (h *AdminHandler) StopMaintenance(c *gin.Context) {
	if !h.authorize(c) {
		return
	}
	isMaintenanceMode.Store(false)
	h.log.Info("メンテナンスモードを停止しました")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Maintenance mode stopped"})
}

// GetHealthStatus は現在のサーバーの状態と依存先の疎通結果を返します。
func (h *AdminHandler) GetHealthStatus(c *gin.Context) {
	ready, checks := h.checkDependencies(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"isMaintenanceMode": isMaintenanceMode.Load(),
		"ready":             ready,
		"checks":            checks,
	})
}

// Readiness は依存先への疎通を確認します。
func (h *AdminHandler) Readiness(c *gin.Context) {
	ready, checks := h.checkDependencies(c.Request.Context())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}

func (h *AdminHandler) checkDependencies(ctx context.Context) (bool, map[string]string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.dependencies))
	ready := true
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			h.log.WithError(err).WithFields(logger.Fields{"dependency": name}).Warn("疎通確認に失敗しました")
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}
	return ready, checks
}

// HealthCheck は外部のヘルスチェッカー（例: ロードバランサー）からのリクエストに応答します。
func HealthCheck(c *gin.Context) {
	if isMaintenanceMode.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "message": "Server is in maintenance mode"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// MaintenanceGuard はメンテナンス中のAPI呼び出しを 503 で止めるミドルウェアです。
// 管理系のパスは止めません。
func MaintenanceGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isMaintenanceMode.Load() && !isAdminPath(c.Request.URL.Path) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Server is in maintenance mode"})
			return
		}
		c.Next()
	}
}

func isAdminPath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/admin")
}
