package receipt

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/shoebox/internal/duplicate"
)

// DuplicateStatus records what duplicate detection concluded about a receipt
type DuplicateStatus string

const (
	// DuplicateNone means no earlier receipt looked similar
	DuplicateNone DuplicateStatus = "none"
	// DuplicateSuspected means the matcher found similar receipts; advisory only
	DuplicateSuspected DuplicateStatus = "suspected"
	// DuplicateDetected means deep analysis confirmed a duplicate; blocks claims
	DuplicateDetected DuplicateStatus = "detected"
)

// ClaimStatus is the approval state of an expense claim
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
)

// Receipt represents a banked receipt with its extracted data
type Receipt struct {
	ID          string           `json:"id"`
	OwnerID     string           `json:"owner_id"`
	Title       string           `json:"title"`
	Merchant    string           `json:"merchant"`
	Date        string           `json:"date,omitempty"` // YYYY-MM-DD, empty when unreadable
	Amount      decimal.Decimal  `json:"amount"`
	Items       []duplicate.Item `json:"items,omitempty"`
	Filename    string           `json:"filename"`
	ContentType string           `json:"content_type"`
	ClaimID     string           `json:"claim_id,omitempty"` // ID of the claim this receipt belongs to

	DuplicateStatus   DuplicateStatus         `json:"duplicate_status"`
	DuplicateMatches  []duplicate.MatchResult `json:"duplicate_matches,omitempty"`
	DuplicateReview   *duplicate.Verdict      `json:"duplicate_review,omitempty"`
	LinkedDuplicateID string                  `json:"linked_duplicate_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claim represents an expense claim batching receipts for approval
type Claim struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	ReceiptIDs  []string        `json:"receipt_ids"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      ClaimStatus     `json:"status"`
	ReviewedBy  string          `json:"reviewed_by,omitempty"`
	ReviewNote  string          `json:"review_note,omitempty"`
	ReviewedAt  *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (r *Receipt) record() duplicate.Record {
	return duplicate.Record{
		ID:                r.ID,
		OwnerID:           r.OwnerID,
		Amount:            r.Amount,
		Date:              r.Date,
		Merchant:          r.Merchant,
		Items:             r.Items,
		LinkedDuplicateID: r.LinkedDuplicateID,
	}
}

func (r *Receipt) candidate(imageData []byte) duplicate.Candidate {
	return duplicate.Candidate{
		OwnerID:     r.OwnerID,
		Amount:      r.Amount,
		Date:        r.Date,
		Merchant:    r.Merchant,
		Items:       r.Items,
		Image:       imageData,
		ContentType: r.ContentType,
	}
}
