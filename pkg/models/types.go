package models

import (
	"encoding/json"
	"time"
)

// 推奨アクション（tenderAction）
const (
	ActionBuyBid    = "BUY BID"
	ActionSellOffer = "SELL OFFER"
	ActionPass      = "PASS"
	ActionBid       = "BID"
	ActionOffer     = "OFFER"
)

// ジャスティフィケーション行の impact / confidence
const (
	ImpactUp   = "Up"
	ImpactDown = "Down"
	ImpactRisk = "Risk"

	ConfidenceHigh   = "High"
	ConfidenceMedium = "Medium"
	ConfidenceLow    = "Low"
)

// 分析の観点
const (
	PerspectiveDrivers  = "drivers"
	PerspectiveRisk     = "risk"
	PerspectiveEvidence = "evidence"
)

// N8nPayload はワークフローから返る予測レスポンスを正規化した形です。
// Tender は正規化後に必ず存在します。
type N8nPayload struct {
	Tender               Tender         `json:"tender"`
	ExpectedRange        map[string]any `json:"expectedRange"` // nil は「返らなかった」
	ExpectedSellingPrice any            `json:"expectedSellingPrice,omitempty"`
	SpotPricesText       string         `json:"spotPricesText,omitempty"`
	CaliBidTable         []CaliBidRow   `json:"caliBidTable"` // nil は「配列が返らなかった」
	News                 *News          `json:"news,omitempty"`
	Notes                []string       `json:"notes,omitempty"`
	Evidence             []EventRecord  `json:"evidence,omitempty"`
}

// Tender 推奨アクションと予測価格
type Tender struct {
	TenderAction         string   `json:"tenderAction"`
	TenderPredictedPrice any      `json:"tenderPredictedPrice"` // 数値・数値文字列・null
	Unit                 string   `json:"unit"`
	Confidence           string   `json:"confidence"`
	DecisionConfidence   string   `json:"decisionConfidence,omitempty"`
	Rationale            string   `json:"rationale"`
	Signals              *Signals `json:"signals,omitempty"`
}

// Signals 補助シグナル
type Signals struct {
	Trend          string   `json:"trend,omitempty"`
	SentimentScore *float64 `json:"sentimentScore,omitempty"` // [-1, 1]
	AlignmentScore *float64 `json:"alignmentScore,omitempty"` // [0, 1]
}

// CaliBidRow 入札レンジ表の1行
type CaliBidRow struct {
	Range          string        `json:"range"`
	ChanceToWin    any           `json:"chanceToWin,omitempty"`
	MarginRisk     any           `json:"marginRisk,omitempty"`
	Assessment     string        `json:"assessment,omitempty"`
	Implication    string        `json:"implication,omitempty"`
	MarginPerTon   any           `json:"marginPerTon,omitempty"`
	SupportingNews []EventRecord `json:"supportingNews,omitempty"`
}

// News 短期センチメントとイベント
type News struct {
	ShortTermSentiment *Sentiment    `json:"shortTermSentiment,omitempty"`
	Events             []EventRecord `json:"events,omitempty"`
}

// Sentiment 短期センチメント
type Sentiment struct {
	Category  string   `json:"category,omitempty"`
	Score     *float64 `json:"score,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}

// EventRecord ニュース/エビデンスのイベント
type EventRecord struct {
	Headline        string   `json:"headline,omitempty"`
	ImpactDirection string   `json:"impact_direction,omitempty"`
	ImportanceScore *float64 `json:"importance_score,omitempty"`
	EventType       string   `json:"event_type,omitempty"`
	EventDate       string   `json:"event_date,omitempty"`
	Regions         []string `json:"regions,omitempty"`
}

// JustificationRow 表示用の根拠行
type JustificationRow struct {
	Factor     string `json:"factor"`
	Impact     string `json:"impact"`
	Confidence string `json:"confidence"`
	Comment    string `json:"comment"`
}

// Result 簡易表示用のサマリー
type Result struct {
	TenderPredictedPrice float64            `json:"tenderPredictedPrice"`
	Currency             string             `json:"currency"`
	RiskLevel            string             `json:"riskLevel"`
	Notes                []string           `json:"notes"`
	Justification        []JustificationRow `json:"justification"`
}

// PredictionRequest 予測実行リクエスト
type PredictionRequest struct {
	Commodity   string    `json:"commodity" binding:"required"`
	FutureDate  string    `json:"futureDate" binding:"required"`
	BasisKeys   []string  `json:"basisKeys"`
	BasisLabels []string  `json:"basisLabels"`
	BasePrices  []float64 `json:"basePrices"`
}

// WebhookRequest ワークフローへ送るリクエスト
type WebhookRequest struct {
	Commodity   string    `json:"commodity"`
	FutureDate  string    `json:"futureDate"`
	BasisKeys   []string  `json:"basisKeys"`
	BasisLabels []string  `json:"basisLabels"`
	BasePrices  []float64 `json:"basePrices"`
	UID         string    `json:"uid"`
}

// BasisResult マルチベーシス応答の1要素
type BasisResult struct {
	BasisKey   string          `json:"basisKey"`
	BasisLabel string          `json:"basisLabel"`
	Data       json.RawMessage `json:"data"`
}

// ForecastView 正規化済みペイロードとサマリーの組
type ForecastView struct {
	BasisKey   string     `json:"basisKey,omitempty"`
	BasisLabel string     `json:"basisLabel,omitempty"`
	Payload    N8nPayload `json:"payload"`
	Summary    Result     `json:"summary"`
}

// 予測レコードのステータス
const (
	PredictionStatusSuccess = "success"
	PredictionStatusError   = "error"
)

// PredictionRecord ドキュメントストアに保存される予測結果
// (uid, commodity, futureDate) ごとに1件で、再実行時は上書きされる。
type PredictionRecord struct {
	ID          string          `json:"id"`
	UID         string          `json:"uid"`
	Commodity   string          `json:"commodity"`
	FutureDate  string          `json:"futureDate"`
	BasisKeys   []string        `json:"basisKeys"`
	BasisLabels []string        `json:"basisLabels"`
	BasePrices  []float64       `json:"basePrices"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Outputs     json.RawMessage `json:"outputs,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ReportObject オブジェクトストレージ上のレポート
type ReportObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	URL          string    `json:"url,omitempty"`
}
