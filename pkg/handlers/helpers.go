package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"commodity-forecast-api/pkg/n8n"
	"commodity-forecast-api/pkg/services"
	"commodity-forecast-api/pkg/storage"
	"commodity-forecast-api/pkg/store"

	"github.com/gin-gonic/gin"
)

// respondError は共通のエラーレスポンスを返します。
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// statusForError はサービス層のエラーをHTTPステータスに対応付けます。
func statusForError(err error) int {
	var validationErr *services.ValidationError
	var webhookErr *n8n.StatusError
	var workflowErr *services.WorkflowError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrForbiddenKey), errors.Is(err, services.ErrInvalidUID):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.As(err, &webhookErr), errors.As(err, &workflowErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// queryInt は整数のクエリパラメータを読みます。不正な値は fallback になります。
func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// queryList は "a,b" と "?k=a&k=b" の両方の形式を受け付けます。
func queryList(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.QueryArray(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
