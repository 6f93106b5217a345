// Package auth はBearerトークンを外部の認証プロバイダで検証し、uid を解決します。
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ContextKeyUID gin.Context に uid を保存するキー
const ContextKeyUID = "uid"

// ErrInvalidToken トークンが無効
var ErrInvalidToken = errors.New("invalid token")

// Verifier はトークンを検証して uid を返します。
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// StaticVerifier は "token:uid" の組で検証します。開発環境とテスト用です。
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier は "tokenA:uidA,tokenB:uidB" 形式の文字列から生成します。
func NewStaticVerifier(pairs string) *StaticVerifier {
	v := &StaticVerifier{tokens: make(map[string]string)}
	for _, pair := range strings.Split(pairs, ",") {
		token, uid, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || uid == "" {
			continue
		}
		v.tokens[token] = uid
	}
	return v
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	if uid, ok := v.tokens[token]; ok {
		return uid, nil
	}
	return "", ErrInvalidToken
}

// HTTPVerifier は認証プロバイダの検証エンドポイントにトークンを送って検証します。
// エンドポイントは {"token": "..."} を受け取り、有効なら 200 と {"uid": "..."} を返す想定です。
type HTTPVerifier struct {
	verifyURL  string
	httpClient *http.Client
}

// NewHTTPVerifier は新しいHTTPVerifierを生成します。
func NewHTTPVerifier(verifyURL string) *HTTPVerifier {
	return &HTTPVerifier{
		verifyURL:  verifyURL,
		httpClient: &http.Client{Timeout: 12 * time.Second},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (string, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("認証リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("認証プロバイダへの接続に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("認証プロバイダがHTTP %dを返しました", resp.StatusCode)
	}

	var out struct {
		UID string `json:"uid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("認証レスポンスの解析に失敗: %w", err)
	}
	if out.UID == "" {
		return "", ErrInvalidToken
	}
	return out.UID, nil
}

// Middleware は Authorization: Bearer <token> を検証し、uid をコンテキストに設定します。
// 検証に失敗した場合は 401 で処理を打ち切ります。
func Middleware(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}

		uid, err := verifier.Verify(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}

		c.Set(ContextKeyUID, uid)
		c.Next()
	}
}

// UID はミドルウェアが設定した uid を返します。
func UID(c *gin.Context) string {
	return c.GetString(ContextKeyUID)
}
