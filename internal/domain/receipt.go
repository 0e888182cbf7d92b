package domain

import "strings"

// KeyPrefix namespaces all keys written to the key-value store.
const KeyPrefix = "embedpipe:"

// LineItem is a single purchased item on a receipt.
type LineItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// Receipt is the structured record produced by the upstream vision/extraction
// step. All fields except ID are optional; RawFullText, when present, is used
// for embedding directly and synthesis is skipped.
type Receipt struct {
	ID            string     `json:"id"`
	MerchantName  string     `json:"merchant,omitempty"`
	TotalAmount   float64    `json:"total,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	TaxAmount     float64    `json:"tax,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Date          string     `json:"date,omitempty"` // YYYY-MM-DD
	LineItems     []LineItem `json:"line_items,omitempty"`
	Category      string     `json:"category,omitempty"`
	Insights      string     `json:"insights,omitempty"`
	RawFullText   string     `json:"full_text,omitempty"`
}

// HasRawText reports whether the receipt carries usable OCR full text.
func (r Receipt) HasRawText() bool {
	return strings.TrimSpace(r.RawFullText) != ""
}
