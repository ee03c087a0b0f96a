package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

type createClaimRequest struct {
	ReceiptIDs []string `json:"receipt_ids"`
}

type reviewClaimRequest struct {
	Note string `json:"note"`
}

// handleListClaims returns the caller's claims, or every claim for admins
func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := s.service.ListClaims(ownerScope(r))
	if err != nil {
		writeServiceError(w, "Error listing claims", err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

// handleCreateClaim handles claim creation
func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var req createClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	p, _ := PrincipalFrom(r.Context())
	claim, err := s.service.CreateClaim(p.Name, req.ReceiptIDs)
	if err != nil {
		writeServiceError(w, "Error creating claim", err)
		return
	}

	writeJSON(w, http.StatusCreated, claim)
}

// handleGetClaim returns a claim with its receipts
func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	claim, receipts, err := s.service.GetClaimWithReceipts(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "Error getting claim", err)
		return
	}
	if !canAccess(r, claim.OwnerID) {
		writeJSONError(w, "Claim belongs to another user", http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"claim":    claim,
		"receipts": receipts,
	})
}

func (s *Server) handleApproveClaim(w http.ResponseWriter, r *http.Request) {
	s.handleReviewClaim(w, r, s.service.ApproveClaim)
}

func (s *Server) handleRejectClaim(w http.ResponseWriter, r *http.Request) {
	s.handleReviewClaim(w, r, s.service.RejectClaim)
}

// handleReviewClaim decodes an optional note and applies the review
func (s *Server) handleReviewClaim(w http.ResponseWriter, r *http.Request, review func(id, reviewer, note string) (*Claim, error)) {
	var req reviewClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	p, _ := PrincipalFrom(r.Context())
	claim, err := review(r.PathValue("id"), p.Name, req.Note)
	if err != nil {
		writeServiceError(w, "Error reviewing claim", err)
		return
	}

	slog.Info("Claim reviewed", "id", claim.ID, "status", claim.Status, "by", p.Name)
	writeJSON(w, http.StatusOK, claim)
}
