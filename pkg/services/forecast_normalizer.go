package services

import (
	"encoding/json"
	"math"

	"commodity-forecast-api/pkg/models"
)

// envelopeKind は正規化途中の値がどの形をしているかを表します。
type envelopeKind int

const (
	envelopeEmpty      envelopeKind = iota // 予測らしき構造が無い
	envelopeCanonical                      // tender オブジェクトを持つ
	envelopeFlatTender                     // tenderAction などがルートに平置きされている
)

// 入れ子の output 文字列を展開する最大回数（二重エンコード対策）
const maxOutputDecodeDepth = 3

// PayloadNormalizer はワークフローの任意のJSONを N8nPayload に正規化します。
// 不正な入力でもパニックもエラーも起こさず、取れたフィールドだけを埋めます。
type PayloadNormalizer struct {
	defaults ForecastDefaults
}

// NewPayloadNormalizer は新しいPayloadNormalizerを生成します。
func NewPayloadNormalizer(defaults ForecastDefaults) *PayloadNormalizer {
	return &PayloadNormalizer{defaults: defaults}
}

var defaultNormalizer = NewPayloadNormalizer(DefaultForecastDefaults)

// NormalizePayload は既定のフォールバック値で正規化します。
func NormalizePayload(raw any) models.N8nPayload {
	return defaultNormalizer.Normalize(raw)
}

// NormalizeJSON はJSONバイト列を正規化します。JSONとして読めない場合は空の入力として扱います。
func NormalizeJSON(data []byte) models.N8nPayload {
	return defaultNormalizer.NormalizeJSON(data)
}

// NormalizeJSON はJSONバイト列を正規化します。
func (n *PayloadNormalizer) NormalizeJSON(data []byte) models.N8nPayload {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		raw = nil
	}
	return n.Normalize(raw)
}

// Normalize は生の値を正規化します。
func (n *PayloadNormalizer) Normalize(raw any) models.N8nPayload {
	working := unwrapList(raw)
	working = decodeOutputString(working)
	working = promoteOutputObject(working)

	root, _ := working.(map[string]any)

	payload := models.N8nPayload{}
	switch classifyEnvelope(working) {
	case envelopeCanonical:
		payload.Tender = decodeTender(root["tender"].(map[string]any))
	case envelopeFlatTender:
		payload.Tender = n.synthesizeTender(root)
	default:
		payload.Tender = n.synthesizeTender(nil)
	}

	payload.ExpectedRange = getMap(root, "expectedRange")
	if v, ok := root["expectedSellingPrice"]; ok && v != nil {
		payload.ExpectedSellingPrice = normalizeNumber(v)
	}
	payload.SpotPricesText = getString(root, "spotPricesText")
	payload.CaliBidTable = decodeCaliBidTable(root["caliBidTable"])
	payload.News = decodeNews(getMap(root, "news"))
	payload.Notes = decodeStrings(root["notes"])
	payload.Evidence = decodeEvents(root["evidence"])

	if payload.Tender.DecisionConfidence == "" && payload.Tender.Signals != nil {
		if score := payload.Tender.Signals.AlignmentScore; score != nil && isFinite(*score) {
			payload.Tender.DecisionConfidence = DeriveDecisionConfidence(*score)
		}
	}

	return payload
}

// DeriveDecisionConfidence は alignmentScore を信頼度ラベルに変換します。
// 他のコンポーネントが依存する契約なので閾値は変更しないこと。
func DeriveDecisionConfidence(alignmentScore float64) string {
	switch {
	case alignmentScore >= 0.6:
		return models.ConfidenceHigh
	case alignmentScore >= 0.35:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// unwrapList はリストで包まれた単一結果から先頭要素を取り出します。
func unwrapList(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

// decodeOutputString は文字列の output フィールドをJSONとして展開します。
// 失敗した場合は元の値をそのまま返します。
func decodeOutputString(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	text, ok := m["output"].(string)
	if !ok {
		return v
	}

	var decoded any = text
	for i := 0; i < maxOutputDecodeDepth; i++ {
		s, isString := decoded.(string)
		if !isString {
			break
		}
		var next any
		if err := json.Unmarshal([]byte(s), &next); err != nil {
			return v
		}
		decoded = next
	}

	switch d := unwrapList(decoded).(type) {
	case map[string]any:
		return d
	default:
		return v
	}
}

// promoteOutputObject は予測らしき output オブジェクトを作業値に昇格させます。
func promoteOutputObject(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	inner, ok := m["output"].(map[string]any)
	if !ok || !looksLikeForecast(inner) {
		return v
	}
	return inner
}

func looksLikeForecast(m map[string]any) bool {
	for _, key := range []string{"tender", "caliBidTable", "tenderPredictedPrice", "tenderAction"} {
		if _, ok := m[key]; ok {
			return true
		}
	}
	return false
}

// classifyEnvelope は作業値の形を判定します。
func classifyEnvelope(v any) envelopeKind {
	m, ok := v.(map[string]any)
	if !ok {
		return envelopeEmpty
	}
	if _, ok := m["tender"].(map[string]any); ok {
		return envelopeCanonical
	}
	for _, key := range []string{"tenderAction", "tenderPredictedPrice", "unit"} {
		if _, ok := m[key]; ok {
			return envelopeFlatTender
		}
	}
	return envelopeEmpty
}

// synthesizeTender はルートの平置きフィールドから tender を組み立てます。
func (n *PayloadNormalizer) synthesizeTender(root map[string]any) models.Tender {
	tender := models.Tender{
		TenderAction: n.defaults.TenderAction,
		Unit:         n.defaults.Unit,
		Confidence:   n.defaults.Confidence,
		Rationale:    n.defaults.Rationale,
	}
	if root == nil {
		return tender
	}
	if s := getString(root, "tenderAction"); s != "" {
		tender.TenderAction = s
	}
	if s := getString(root, "unit"); s != "" {
		tender.Unit = s
	}
	if s := getString(root, "confidence"); s != "" {
		tender.Confidence = s
	}
	if s := getString(root, "rationale"); s != "" {
		tender.Rationale = s
	}
	tender.TenderPredictedPrice = normalizeNumber(root["tenderPredictedPrice"])
	tender.DecisionConfidence = getString(root, "decisionConfidence")
	tender.Signals = decodeSignals(getMap(root, "signals"))
	return tender
}

func decodeTender(m map[string]any) models.Tender {
	return models.Tender{
		TenderAction:         getString(m, "tenderAction"),
		TenderPredictedPrice: normalizeNumber(m["tenderPredictedPrice"]),
		Unit:                 getString(m, "unit"),
		Confidence:           getString(m, "confidence"),
		DecisionConfidence:   getString(m, "decisionConfidence"),
		Rationale:            getString(m, "rationale"),
		Signals:              decodeSignals(getMap(m, "signals")),
	}
}

func decodeSignals(m map[string]any) *models.Signals {
	if m == nil {
		return nil
	}
	return &models.Signals{
		Trend:          getString(m, "trend"),
		SentimentScore: getFloat(m, "sentimentScore"),
		AlignmentScore: getFloat(m, "alignmentScore"),
	}
}

func decodeCaliBidTable(v any) []models.CaliBidRow {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	rows := make([]models.CaliBidRow, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, models.CaliBidRow{
			Range:          getString(m, "range"),
			ChanceToWin:    normalizeNumber(m["chanceToWin"]),
			MarginRisk:     normalizeNumber(m["marginRisk"]),
			Assessment:     getString(m, "assessment"),
			Implication:    getString(m, "implication"),
			MarginPerTon:   normalizeNumber(m["marginPerTon"]),
			SupportingNews: decodeEvents(m["supportingNews"]),
		})
	}
	return rows
}

func decodeNews(m map[string]any) *models.News {
	if m == nil {
		return nil
	}
	news := &models.News{Events: decodeEvents(m["events"])}
	if s := getMap(m, "shortTermSentiment"); s != nil {
		news.ShortTermSentiment = &models.Sentiment{
			Category:  getString(s, "category"),
			Score:     getFloat(s, "score"),
			Rationale: getString(s, "rationale"),
		}
	}
	return news
}

func decodeEvents(v any) []models.EventRecord {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	events := make([]models.EventRecord, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		events = append(events, models.EventRecord{
			Headline:        getString(m, "headline"),
			ImpactDirection: getString(m, "impact_direction"),
			ImportanceScore: getFloat(m, "importance_score"),
			EventType:       getString(m, "event_type"),
			EventDate:       getString(m, "event_date"),
			Regions:         decodeStrings(m["regions"]),
		})
	}
	return events
}

func decodeStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		if typed, ok := v.([]string); ok {
			return append([]string(nil), typed...)
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ヘルパー関数: マップから文字列を取得
func getString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// ヘルパー関数: マップから数値を取得（有限の数値のみ）
func getFloat(m map[string]any, key string) *float64 {
	f, ok := toFloat(m[key])
	if !ok || !isFinite(f) {
		return nil
	}
	return &f
}

// ヘルパー関数: マップから子オブジェクトを取得
func getMap(m map[string]any, key string) map[string]any {
	if child, ok := m[key].(map[string]any); ok {
		return child
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// normalizeNumber はGoの整数型などを float64 に揃え、それ以外はそのまま返します。
func normalizeNumber(v any) any {
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
