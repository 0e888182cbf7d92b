// Package synthesis manufactures searchable text from structured receipt
// fields when no raw OCR text is available. Pure transformation: no I/O.
package synthesis

import (
	"strconv"
	"strings"
	"time"

	"github.com/mataresit/embedpipe/internal/domain"
)

// Synthesize builds content units from a receipt's structured fields. A
// content type whose backing fields are absent is omitted entirely; units
// below the minimum length or without an anchor (merchant name or total
// amount) are dropped rather than embedded as noise. An empty receipt
// yields an empty slice.
func Synthesize(r domain.Receipt) []domain.ContentUnit {
	var units []domain.ContentUnit

	add := func(ct domain.ContentType, text string) {
		if text == "" {
			return
		}
		units = append(units, domain.ContentUnit{
			ReceiptID: r.ID,
			Type:      ct,
			Text:      text,
		})
	}

	add(domain.ContentSyntheticFullText, syntheticFullText(r))
	add(domain.ContentMerchantContext, merchantContext(r))
	add(domain.ContentTransactionSummary, transactionSummary(r))
	add(domain.ContentItemsDescription, itemsDescription(r))
	add(domain.ContentCategoryContext, categoryContext(r))
	add(domain.ContentTemporalContext, temporalContext(r))
	add(domain.ContentFinancialContext, financialContext(r))
	add(domain.ContentBehavioralContext, behavioralContext(r))

	return validate(r, units)
}

// validate drops low-confidence units: too short, or missing both anchors.
func validate(r domain.Receipt, units []domain.ContentUnit) []domain.ContentUnit {
	kept := units[:0]
	for _, u := range units {
		if len(u.Text) < domain.MinContentLength {
			continue
		}
		if !hasAnchor(r, u.Text) {
			continue
		}
		kept = append(kept, u)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// hasAnchor reports whether the text mentions the merchant name or the
// total amount.
func hasAnchor(r domain.Receipt, text string) bool {
	if r.MerchantName != "" && strings.Contains(text, r.MerchantName) {
		return true
	}
	if r.TotalAmount != 0 && strings.Contains(text, amount(r.TotalAmount)) {
		return true
	}
	return false
}

// syntheticFullText approximates what raw OCR full text would have looked
// like: one field group per line in a fixed order.
func syntheticFullText(r domain.Receipt) string {
	var lines []string

	if r.MerchantName != "" {
		lines = append(lines, r.MerchantName)
	}
	if r.TotalAmount != 0 {
		lines = append(lines, "Total: "+money(r.TotalAmount, r.Currency))
	}
	if r.TaxAmount != 0 {
		lines = append(lines, "Tax: "+money(r.TaxAmount, r.Currency))
	}
	if r.PaymentMethod != "" {
		lines = append(lines, "Paid by "+r.PaymentMethod)
	}
	if r.Date != "" {
		lines = append(lines, "Date: "+r.Date)
	}
	for _, item := range r.LineItems {
		if item.Description == "" {
			continue
		}
		lines = append(lines, item.Description+" "+amount(item.Amount))
	}
	if r.Category != "" {
		lines = append(lines, "Category: "+r.Category)
	}
	if r.Insights != "" {
		lines = append(lines, r.Insights)
	}

	return strings.Join(lines, "\n")
}

func merchantContext(r domain.Receipt) string {
	if r.MerchantName == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("Purchase from ")
	b.WriteString(r.MerchantName)
	if r.Category != "" {
		b.WriteString(", a ")
		b.WriteString(strings.ToLower(r.Category))
		b.WriteString(" merchant")
	}
	b.WriteString(".")
	return b.String()
}

func transactionSummary(r domain.Receipt) string {
	if r.MerchantName == "" && r.TotalAmount == 0 {
		return ""
	}
	var parts []string
	if r.TotalAmount != 0 {
		parts = append(parts, "Paid "+money(r.TotalAmount, r.Currency))
	}
	if r.MerchantName != "" {
		parts = append(parts, "to "+r.MerchantName)
	}
	if r.Date != "" {
		parts = append(parts, "on "+r.Date)
	}
	if r.PaymentMethod != "" {
		parts = append(parts, "using "+r.PaymentMethod)
	}
	return strings.Join(parts, " ") + "."
}

func itemsDescription(r domain.Receipt) string {
	if len(r.LineItems) == 0 {
		return ""
	}
	var items []string
	for _, item := range r.LineItems {
		if item.Description == "" {
			continue
		}
		items = append(items, item.Description+" ("+amount(item.Amount)+")")
	}
	if len(items) == 0 {
		return ""
	}
	prefix := "Items purchased"
	if r.MerchantName != "" {
		prefix += " at " + r.MerchantName
	}
	return prefix + ": " + strings.Join(items, ", ") + "."
}

func categoryContext(r domain.Receipt) string {
	if r.Category == "" {
		return ""
	}
	if r.MerchantName != "" {
		return r.Category + " expense at " + r.MerchantName + "."
	}
	if r.TotalAmount != 0 {
		return r.Category + " expense of " + money(r.TotalAmount, r.Currency) + "."
	}
	return ""
}

func temporalContext(r domain.Receipt) string {
	if r.Date == "" {
		return ""
	}
	subject := r.MerchantName
	if subject == "" {
		if r.TotalAmount == 0 {
			return ""
		}
		subject = money(r.TotalAmount, r.Currency)
	}

	if t, err := time.Parse("2006-01-02", r.Date); err == nil {
		return "Transaction at " + subject + " on " + t.Weekday().String() +
			", " + t.Month().String() + " " + strconv.Itoa(t.Day()) +
			", " + strconv.Itoa(t.Year()) + "."
	}
	return "Transaction at " + subject + " on " + r.Date + "."
}

func financialContext(r domain.Receipt) string {
	if r.TotalAmount == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Total ")
	b.WriteString(money(r.TotalAmount, r.Currency))
	if r.TaxAmount != 0 {
		b.WriteString(", including ")
		b.WriteString(money(r.TaxAmount, r.Currency))
		b.WriteString(" tax")
	}
	if r.PaymentMethod != "" {
		b.WriteString(", paid via ")
		b.WriteString(r.PaymentMethod)
	}
	b.WriteString(".")
	return b.String()
}

func behavioralContext(r domain.Receipt) string {
	if r.Insights == "" {
		return ""
	}
	subject := r.MerchantName
	if subject == "" {
		if r.TotalAmount == 0 {
			return ""
		}
		subject = "a " + money(r.TotalAmount, r.Currency) + " purchase"
	}
	return "Spending pattern for " + subject + ": " + r.Insights
}

// amount formats a monetary value with two decimal places.
func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// money formats a value with its currency code, if known.
func money(v float64, currency string) string {
	if currency == "" {
		return amount(v)
	}
	return amount(v) + " " + currency
}
