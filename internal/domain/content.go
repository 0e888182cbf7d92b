package domain

// ContentType identifies the origin of a piece of embeddable text.
type ContentType string

// Content types. FullText is raw OCR text used as-is; the rest are
// synthesized from structured fields when raw text is absent.
const (
	ContentFullText           ContentType = "fulltext"
	ContentSyntheticFullText  ContentType = "synthetic_fulltext"
	ContentMerchantContext    ContentType = "merchant_context"
	ContentTransactionSummary ContentType = "transaction_summary"
	ContentItemsDescription   ContentType = "items_description"
	ContentCategoryContext    ContentType = "category_context"
	ContentTemporalContext    ContentType = "temporal_context"
	ContentFinancialContext   ContentType = "financial_context"
	ContentBehavioralContext  ContentType = "behavioral_context"
)

// MinContentLength is the minimum text length for a unit to be embedded.
// Shorter units carry too little signal to be worth a provider call.
const MinContentLength = 10

// ContentUnit is one piece of text destined for a single embedding call.
type ContentUnit struct {
	ReceiptID string      `json:"receipt_id"`
	Type      ContentType `json:"content_type"`
	Text      string      `json:"text"`
}

// tokenWeight adjusts the chars-per-token heuristic per content type.
// Short templated types tokenize denser than free-form full text.
var tokenWeight = map[ContentType]float64{
	ContentFullText:          1.25,
	ContentSyntheticFullText: 1.25,
	ContentItemsDescription:  1.1,
	ContentCategoryContext:   0.8,
	ContentTemporalContext:   0.8,
	ContentBehavioralContext: 0.9,
}

// EstimateTokens returns a deterministic token estimate for a content unit.
// Roughly 4 characters per token, weighted by content type, minimum 1.
func (u ContentUnit) EstimateTokens() int64 {
	w, ok := tokenWeight[u.Type]
	if !ok {
		w = 1.0
	}
	est := int64(float64(len(u.Text)) / 4.0 * w)
	if est < 1 {
		est = 1
	}
	return est
}
