// Package duplicate scores newly uploaded receipts against previously banked
// ones and, for high-confidence hits, asks a vision model to confirm that two
// photos depict the same purchase.
package duplicate

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// The three gates below are tuned independently and must stay separate.
const (
	// EmitThreshold is the minimum aggregate confidence for a match to be reported.
	EmitThreshold = 60
	// EscalationThreshold is the top-match confidence that triggers deep analysis.
	EscalationThreshold = 80
	// VerdictAcceptThreshold is the provider confidence a verdict must exceed to count.
	VerdictAcceptThreshold = 0.7
)

const (
	amountWeight   = 40
	dateWeight     = 35
	merchantWeight = 25

	// MerchantMatchThreshold is the similarity above which merchants count as matching.
	MerchantMatchThreshold = 0.7
	// SameMerchantThreshold separates "Same merchant" from "Similar merchant".
	SameMerchantThreshold = 0.9

	// MaxReportedMatches caps the matches kept on a receipt and sent for deep analysis.
	MaxReportedMatches = 3
)

// Match reasons, in the order they are reported.
const (
	ReasonSameAmount      = "Same amount"
	ReasonSameDate        = "Same date"
	ReasonSameMerchant    = "Same merchant"
	ReasonSimilarMerchant = "Similar merchant"
)

// AmountTolerance is the relative width of the historical search window.
var AmountTolerance = decimal.NewFromFloat(0.05)

var amountEpsilon = decimal.New(1, -2)

// Item is a single line on a receipt.
type Item struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
	Price    float64 `json:"price,omitempty"`
}

// Record is a previously banked receipt as seen by the matcher.
type Record struct {
	ID                string
	OwnerID           string
	Amount            decimal.Decimal
	Date              string
	Merchant          string
	Items             []Item
	LinkedDuplicateID string
}

// Candidate is the receipt under evaluation.
type Candidate struct {
	OwnerID     string
	Amount      decimal.Decimal
	Date        string
	Merchant    string
	Items       []Item
	Image       []byte
	ContentType string
}

// MatchResult describes how closely one historical record matches a candidate.
type MatchResult struct {
	RecordID           string   `json:"record_id"`
	Confidence         int      `json:"confidence"`
	Reasons            []string `json:"reasons"`
	MerchantSimilarity float64  `json:"merchant_similarity"`
}

// Suspect pairs a match with the record it refers to.
type Suspect struct {
	Match  MatchResult
	Record Record
}

// Verdict is the outcome of a deep analysis call.
type Verdict struct {
	IsDuplicate     bool    `json:"is_duplicate"`
	Confidence      float64 `json:"confidence"`
	MatchedRecordID string  `json:"matched_record_id,omitempty"`
	Reasoning       string  `json:"reasoning,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// Confirmed reports whether the verdict is strong enough to flag the receipt.
func (v Verdict) Confirmed() bool {
	return v.IsDuplicate && v.Confidence > VerdictAcceptThreshold
}

// AmountWindow returns the inclusive amount range a store should search for
// records that could duplicate a receipt of the given amount.
func AmountWindow(amount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	tolerance := amount.Abs().Mul(AmountTolerance)
	return amount.Sub(tolerance), amount.Add(tolerance)
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// CanonicalDate normalizes a free-form date to YYYY-MM-DD. The boolean is
// false when the input is empty or matches none of the known layouts.
func CanonicalDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
