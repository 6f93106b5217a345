package handlers

import (
	"net/http"
	"time"

	"commodity-forecast-api/pkg/auth"
	"commodity-forecast-api/pkg/kvstore"
	"commodity-forecast-api/pkg/logger"
	"commodity-forecast-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// SessionHandler はダッシュボードのセッションキャッシュのハンドラです。
// キーはユーザーごとの接頭辞付きストアで分離されます。
type SessionHandler struct {
	cache *services.SessionCache
	store kvstore.Store
	now   func() time.Time
	log   *logger.Entry
}

// NewSessionHandler は新しいSessionHandlerを生成します。
func NewSessionHandler(store kvstore.Store, maxAge time.Duration) *SessionHandler {
	return &SessionHandler{
		cache: services.NewSessionCache(store, maxAge),
		store: store,
		now:   time.Now,
		log:   logger.GetLogger().WithComponent("session_handler"),
	}
}

func (h *SessionHandler) cacheFor(c *gin.Context) *services.SessionCache {
	return h.cache.WithStore(kvstore.WithPrefix(h.store, "user:"+auth.UID(c)+":"))
}

// SaveSession は成功状態の画面を保存します。
func (h *SessionHandler) SaveSession(c *gin.Context) {
	var state services.ScreenState
	if err := c.ShouldBindJSON(&state); err != nil {
		respondError(c, http.StatusBadRequest, "リクエストの形式が正しくありません: "+err.Error())
		return
	}

	saved, err := h.cacheFor(c).Persist(c.Request.Context(), state, h.now())
	if err != nil {
		h.log.WithError(err).Error("セッションの保存に失敗しました")
		respondError(c, http.StatusInternalServerError, "セッションの保存に失敗しました。")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "saved": saved})
}

// RestoreSession は保存済みの結果で画面状態を復元します。
func (h *SessionHandler) RestoreSession(c *gin.Context) {
	var state services.ScreenState
	if err := c.ShouldBindJSON(&state); err != nil {
		respondError(c, http.StatusBadRequest, "リクエストの形式が正しくありません: "+err.Error())
		return
	}

	restored, ok, err := h.cacheFor(c).Restore(c.Request.Context(), state, h.now())
	if err != nil {
		h.log.WithError(err).Error("セッションの復元に失敗しました")
		respondError(c, http.StatusInternalServerError, "セッションの復元に失敗しました。")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "restored": ok, "data": restored})
}

// DeleteSession はエントリを破棄します。
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	commodity := c.Query("commodity")
	if commodity == "" {
		respondError(c, http.StatusBadRequest, "commodity が必要です。")
		return
	}

	key := services.MakeStorageKey(commodity, queryList(c, "basis"))
	if err := h.cacheFor(c).Delete(c.Request.Context(), key); err != nil {
		h.log.WithError(err).Error("セッションの削除に失敗しました")
		respondError(c, http.StatusInternalServerError, "セッションの削除に失敗しました。")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
