package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"commodity-forecast-api/pkg/models"
)

// maxErrorBodyBytes エラーメッセージに含めるレスポンス本文の上限
const maxErrorBodyBytes = 512

// Client はn8nワークフローのWebhookを呼び出します。
// リトライは行わず、呼び出しは常に1回だけです。
type Client struct {
	webhookURL string
	secret     string
	httpClient *http.Client
}

// NewClient は新しいWebhookクライアントを作成します。
func NewClient(webhookURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		webhookURL: webhookURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// StatusError はWebhookが2xx以外を返したことを表します。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Response はWebhookの応答です。
// 単一の予測か basis ごとの結果リストかの判別は呼び出し側で行います。
type Response struct {
	Raw json.RawMessage
}

// Forecast は予測をワークフローに依頼し、応答を返します。
func (c *Client) Forecast(ctx context.Context, request models.WebhookRequest) (*Response, error) {
	if c.webhookURL == "" {
		return nil, fmt.Errorf("Webhook URL が設定されていません")
	}

	body, err := c.doRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	return &Response{Raw: body}, nil
}

// doRequest はHTTPリクエストの実行と基本的なレスポンス処理を行う共通メソッドです。
func (c *Client) doRequest(ctx context.Context, requestData interface{}) (json.RawMessage, error) {
	requestBody, err := json.Marshal(requestData)
	if err != nil {
		return nil, fmt.Errorf("リクエストのJSON化に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Webhook-Secret", c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの実行に失敗: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み込みに失敗: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(responseBody))
		if len(text) > maxErrorBodyBytes {
			text = text[:maxErrorBodyBytes]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: text}
	}

	if len(bytes.TrimSpace(responseBody)) == 0 || !json.Valid(responseBody) {
		// JSON以外の応答は文字列として保持し、正規化側で「データなし」として扱う
		quoted, _ := json.Marshal(string(responseBody))
		return quoted, nil
	}
	return responseBody, nil
}
