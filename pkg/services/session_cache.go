package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"commodity-forecast-api/pkg/kvstore"
)

// SessionKeyPrefix セッションキャッシュのキー接頭辞
const SessionKeyPrefix = "cf-dashboard::"

// 画面のステータス
const (
	StatusIdle    = "idle"
	StatusLoading = "loading"
	StatusSuccess = "success"
	StatusError   = "error"
)

// SavedSession は (commodity, basis) ごとに保存する最後の予測結果と画面状態です。
type SavedSession struct {
	Commodity         string            `json:"commodity"`
	Basis             []string          `json:"basis"`
	FutureDate        string            `json:"futureDate"`
	ActiveTab         string            `json:"activeTab"`
	ActiveIndex       int               `json:"activeIndex"`
	BasePricesByBasis map[string]string `json:"basePricesByBasis"`
	Result            json.RawMessage   `json:"result,omitempty"`
	Bundle            json.RawMessage   `json:"bundle,omitempty"`
	Multi             []json.RawMessage `json:"multi,omitempty"`
	SavedAt           int64             `json:"savedAt"` // Unixミリ秒
}

// ScreenState はダッシュボードの画面状態です。
type ScreenState struct {
	Commodity         string            `json:"commodity"`
	Basis             []string          `json:"basis"`
	FutureDate        string            `json:"futureDate"`
	Status            string            `json:"status"`
	Error             *string           `json:"error"`
	ActiveTab         string            `json:"activeTab"`
	ActiveIndex       int               `json:"activeIndex"`
	BasePricesByBasis map[string]string `json:"basePricesByBasis"`
	Result            json.RawMessage   `json:"result,omitempty"`
	Bundle            json.RawMessage   `json:"bundle,omitempty"`
	Multi             []json.RawMessage `json:"multi,omitempty"`
}

// MakeStorageKey は商品と basis の組からキーを作ります。
// basis は並べ替えてから連結するため、選択順が違っても同じキーになります。
func MakeStorageKey(commodity string, basis []string) string {
	sorted := append([]string(nil), basis...)
	sort.Strings(sorted)
	return SessionKeyPrefix + strings.ToLower(commodity) + "::" + strings.ToLower(strings.Join(sorted, "|"))
}

// IsExpired は保存から maxAge を超えて経過しているかを返します。
func IsExpired(entry SavedSession, now time.Time, maxAge time.Duration) bool {
	return now.Sub(time.UnixMilli(entry.SavedAt)) > maxAge
}

// SessionCache はキーバリューストア上のセッションキャッシュです。
type SessionCache struct {
	store  kvstore.Store
	maxAge time.Duration
}

// NewSessionCache は新しいSessionCacheを生成します。maxAge が0以下なら既定値を使います。
func NewSessionCache(store kvstore.Store, maxAge time.Duration) *SessionCache {
	if maxAge <= 0 {
		maxAge = DefaultForecastDefaults.SessionMaxAge
	}
	return &SessionCache{store: store, maxAge: maxAge}
}

// WithStore は同じ設定で別のストアを使うキャッシュを返します。
func (c *SessionCache) WithStore(store kvstore.Store) *SessionCache {
	return &SessionCache{store: store, maxAge: c.maxAge}
}

// MaxAge 有効期限
func (c *SessionCache) MaxAge() time.Duration {
	return c.maxAge
}

// Get は保存済みのセッションを返します。壊れたJSONはキャッシュミスとして扱います。
func (c *SessionCache) Get(ctx context.Context, key string) (*SavedSession, bool, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("セッションキャッシュの読み込みに失敗: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var entry SavedSession
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set は timestamp を savedAt として保存します。
func (c *SessionCache) Set(ctx context.Context, key string, value SavedSession, timestamp time.Time) error {
	value.SavedAt = timestamp.UnixMilli()
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("セッションのJSON化に失敗: %w", err)
	}
	if err := c.store.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("セッションキャッシュの保存に失敗: %w", err)
	}
	return nil
}

// Delete はエントリを破棄します。
func (c *SessionCache) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("セッションキャッシュの削除に失敗: %w", err)
	}
	return nil
}

// Restore は (commodity, basis) に対応する保存済みの結果で画面状態を復元します。
// 予測実行中、キャッシュミス、期限切れの場合は state をそのまま返し、restored は false です。
// 期限切れのエントリは削除されます。
func (c *SessionCache) Restore(ctx context.Context, state ScreenState, now time.Time) (ScreenState, bool, error) {
	if state.Status == StatusLoading {
		return state, false, nil
	}

	key := MakeStorageKey(state.Commodity, state.Basis)
	entry, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return state, false, err
	}
	if IsExpired(*entry, now, c.maxAge) {
		return state, false, c.Delete(ctx, key)
	}

	restored := state
	restored.FutureDate = entry.FutureDate
	restored.Error = nil
	restored.ActiveTab = entry.ActiveTab
	restored.BasePricesByBasis = entry.BasePricesByBasis
	restored.Result = entry.Result

	if len(entry.Multi) > 0 {
		restored.Multi = entry.Multi
		restored.ActiveIndex = 0
		restored.Bundle = entry.Multi[0]
	} else {
		restored.Multi = nil
		restored.ActiveIndex = entry.ActiveIndex
		restored.Bundle = entry.Bundle
	}

	if hasContent(restored.Result) || hasContent(restored.Bundle) {
		restored.Status = StatusSuccess
	} else {
		restored.Status = StatusIdle
	}
	return restored, true, nil
}

// Persist は成功状態で結果がある場合に現在の画面状態を保存します。
// 画面状態のどの項目が変わっても呼ばれる想定で、そのたびに savedAt を更新します。
func (c *SessionCache) Persist(ctx context.Context, state ScreenState, now time.Time) (bool, error) {
	if state.Status != StatusSuccess {
		return false, nil
	}
	if !hasContent(state.Result) && !hasContent(state.Bundle) && len(state.Multi) == 0 {
		return false, nil
	}

	entry := SavedSession{
		Commodity:         state.Commodity,
		Basis:             append([]string(nil), state.Basis...),
		FutureDate:        state.FutureDate,
		ActiveTab:         state.ActiveTab,
		ActiveIndex:       state.ActiveIndex,
		BasePricesByBasis: state.BasePricesByBasis,
		Result:            state.Result,
		Bundle:            state.Bundle,
		Multi:             state.Multi,
	}
	if err := c.Set(ctx, MakeStorageKey(state.Commodity, state.Basis), entry, now); err != nil {
		return false, err
	}
	return true, nil
}

func hasContent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}
