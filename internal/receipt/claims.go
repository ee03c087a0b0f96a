package receipt

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// CreateClaim batches receipts into a pending claim and marks them as claimed
func (s *Service) CreateClaim(ownerID string, receiptIDs []string) (*Claim, error) {
	if len(receiptIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one receipt is required", ErrInvalidInput)
	}

	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	seen := make(map[string]bool, len(receiptIDs))
	receipts := make([]*Receipt, 0, len(receiptIDs))
	total := decimal.Zero
	for _, receiptID := range receiptIDs {
		if seen[receiptID] {
			return nil, fmt.Errorf("%w: receipt %s listed twice", ErrInvalidInput, receiptID)
		}
		seen[receiptID] = true

		receipt, err := s.db.GetReceipt(receiptID)
		if err != nil {
			return nil, fmt.Errorf("getting receipt %s: %w", receiptID, err)
		}
		if receipt.OwnerID != ownerID {
			return nil, fmt.Errorf("%w: receipt %s belongs to another user", ErrForbidden, receiptID)
		}
		if receipt.ClaimID != "" {
			return nil, fmt.Errorf("%w: receipt %s is already in claim %s", ErrConflict, receiptID, receipt.ClaimID)
		}
		if receipt.DuplicateStatus == DuplicateDetected {
			return nil, fmt.Errorf("%w: receipt %s duplicates %s", ErrConflict, receiptID, receipt.LinkedDuplicateID)
		}
		total = total.Add(receipt.Amount)
		receipts = append(receipts, receipt)
	}

	now := s.timeSource.Now()
	claim := &Claim{
		ID:          s.idGenerator.Generate(),
		OwnerID:     ownerID,
		ReceiptIDs:  receiptIDs,
		TotalAmount: total,
		Status:      ClaimPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	claimed := make([]*Receipt, 0, len(receipts))
	for _, receipt := range receipts {
		updated := *receipt
		updated.ClaimID = claim.ID
		updated.UpdatedAt = now
		claimed = append(claimed, &updated)
	}

	if err := s.db.SaveClaimWithReceipts(claim, claimed); err != nil {
		return nil, fmt.Errorf("saving claim: %w", err)
	}

	return claim, nil
}

// ApproveClaim marks a pending claim approved
func (s *Service) ApproveClaim(id, reviewer, note string) (*Claim, error) {
	return s.reviewClaim(id, reviewer, note, ClaimApproved)
}

// RejectClaim marks a pending claim rejected and releases its receipts for resubmission
func (s *Service) RejectClaim(id, reviewer, note string) (*Claim, error) {
	return s.reviewClaim(id, reviewer, note, ClaimRejected)
}

func (s *Service) reviewClaim(id, reviewer, note string, status ClaimStatus) (*Claim, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	claim, err := s.db.GetClaim(id)
	if err != nil {
		return nil, fmt.Errorf("getting claim: %w", err)
	}
	if claim.Status != ClaimPending {
		return nil, fmt.Errorf("%w: claim %s is already %s", ErrConflict, id, claim.Status)
	}

	now := s.timeSource.Now()
	reviewed := *claim
	reviewed.Status = status
	reviewed.ReviewedBy = reviewer
	reviewed.ReviewNote = strings.TrimSpace(note)
	reviewed.ReviewedAt = &now
	reviewed.UpdatedAt = now

	var released []*Receipt
	if status == ClaimRejected {
		released = make([]*Receipt, 0, len(claim.ReceiptIDs))
		for _, receiptID := range claim.ReceiptIDs {
			receipt, err := s.db.GetReceipt(receiptID)
			if err != nil {
				return nil, fmt.Errorf("getting receipt %s for release: %w", receiptID, err)
			}
			updated := *receipt
			updated.ClaimID = ""
			updated.UpdatedAt = now
			released = append(released, &updated)
		}
	}

	if err := s.db.SaveClaimWithReceipts(&reviewed, released); err != nil {
		return nil, fmt.Errorf("saving claim: %w", err)
	}

	return &reviewed, nil
}

// GetClaim retrieves a claim by ID
func (s *Service) GetClaim(id string) (*Claim, error) {
	claim, err := s.db.GetClaim(id)
	if err != nil {
		return nil, fmt.Errorf("getting claim: %w", err)
	}
	return claim, nil
}

// GetClaimWithReceipts retrieves a claim with its associated receipts
func (s *Service) GetClaimWithReceipts(id string) (*Claim, []*Receipt, error) {
	claim, err := s.db.GetClaim(id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting claim: %w", err)
	}

	receipts := make([]*Receipt, 0, len(claim.ReceiptIDs))
	for _, receiptID := range claim.ReceiptIDs {
		receipt, err := s.db.GetReceipt(receiptID)
		if err != nil {
			return nil, nil, fmt.Errorf("getting receipt %s: %w", receiptID, err)
		}
		receipts = append(receipts, receipt)
	}

	return claim, receipts, nil
}

// ListClaims returns claims newest first. An empty ownerID returns every claim.
func (s *Service) ListClaims(ownerID string) ([]*Claim, error) {
	all, err := s.db.ListClaims()
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", err)
	}

	claims := make([]*Claim, 0, len(all))
	for _, c := range all {
		if ownerID == "" || c.OwnerID == ownerID {
			claims = append(claims, c)
		}
	}
	slices.SortFunc(claims, func(a, b *Claim) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return claims, nil
}
