package receipt

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/shoebox/internal/duplicate"
	"github.com/zombor/shoebox/internal/scanning"
)

// IDGenerator generates unique IDs for receipts and claims
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Scope selects which earlier receipts a new upload is compared against
type Scope string

const (
	// ScopeOwner compares only against the uploader's own receipts
	ScopeOwner Scope = "owner"
	// ScopeGlobal compares against every user's receipts
	ScopeGlobal Scope = "global"
)

// ParseScope validates a scope name. Empty means ScopeOwner.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeOwner:
		return ScopeOwner, nil
	case ScopeGlobal:
		return ScopeGlobal, nil
	default:
		return "", fmt.Errorf("%w: unknown duplicate scope %q", ErrInvalidInput, s)
	}
}

// DuplicateConfig controls duplicate detection during upload
type DuplicateConfig struct {
	// Analyzer runs deep analysis on strong matches. Nil disables it.
	Analyzer *duplicate.Analyzer
	Scope    Scope
}

// Service handles receipt and claim operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	duplicates  DuplicateConfig
	idGenerator IDGenerator
	timeSource  TimeSource

	// claimMu serializes claim mutations so a receipt cannot join two claims
	claimMu sync.Mutex
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage, duplicates DuplicateConfig) *Service {
	return NewServiceWithDeps(db, scanner, storage, duplicates, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, duplicates DuplicateConfig, idGen IDGenerator, timeSrc TimeSource) *Service {
	if duplicates.Scope == "" {
		duplicates.Scope = ScopeOwner
	}
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		duplicates:  duplicates,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// phone cameras produce very long names
	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// ProcessReceipt uploads a receipt, scans it, checks it for duplicates and saves it.
// Duplicate detection never fails the upload.
func (s *Service) ProcessReceipt(ctx context.Context, ownerID, filename string, data []byte, contentType string) (*Receipt, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalidInput)
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	receiptData, err := s.scanner.ScanReceipt(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.removeFile(savedPath)
		return nil, fmt.Errorf("scanning receipt: %w: %w", ErrUnreadable, err)
	}

	receipt := &Receipt{
		ID:              id,
		OwnerID:         ownerID,
		Title:           receiptData.Title,
		Merchant:        receiptData.Merchant,
		Date:            receiptData.Date,
		Amount:          decimal.NewFromFloat(receiptData.Amount).Round(2),
		Items:           convertItems(receiptData.Items),
		Filename:        savedPath,
		ContentType:     contentType,
		DuplicateStatus: DuplicateNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.checkDuplicates(ctx, receipt, data)

	if err := s.db.SaveReceipt(receipt); err != nil {
		s.removeFile(savedPath)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Receipt processed",
		"id", receipt.ID,
		"owner", ownerID,
		"amount", receipt.Amount.StringFixed(2),
		"duplicate_status", receipt.DuplicateStatus,
	)
	return receipt, nil
}

func convertItems(items []scanning.LineItem) []duplicate.Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]duplicate.Item, len(items))
	for i, item := range items {
		out[i] = duplicate.Item{Name: item.Name, Quantity: item.Quantity, Price: item.Price}
	}
	return out
}

// checkDuplicates compares the receipt against earlier receipts in its amount
// window and records the outcome on the receipt.
func (s *Service) checkDuplicates(ctx context.Context, receipt *Receipt, imageData []byte) {
	owner := receipt.OwnerID
	if s.duplicates.Scope == ScopeGlobal {
		owner = ""
	}

	lo, hi := duplicate.AmountWindow(receipt.Amount)
	history, err := s.db.ListReceiptsByAmount(owner, lo, hi)
	if err != nil {
		slog.Error("Duplicate check skipped: loading history failed", "id", receipt.ID, "error", err)
		return
	}

	// newest first, so equal confidences favour the most recent receipt
	slices.SortStableFunc(history, func(a, b *Receipt) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	window := make([]duplicate.Record, 0, len(history))
	byID := make(map[string]duplicate.Record, len(history))
	for _, r := range history {
		if r.ID == receipt.ID {
			continue
		}
		record := r.record()
		window = append(window, record)
		byID[record.ID] = record
	}

	matches := duplicate.FindCandidates(receipt.candidate(imageData), window)
	if len(matches) == 0 {
		return
	}

	receipt.DuplicateStatus = DuplicateSuspected
	receipt.DuplicateMatches = duplicate.Top(matches, duplicate.MaxReportedMatches)

	slog.Info("Possible duplicate receipt",
		"id", receipt.ID,
		"matched", receipt.DuplicateMatches[0].RecordID,
		"confidence", receipt.DuplicateMatches[0].Confidence,
	)

	if s.duplicates.Analyzer == nil || !duplicate.ShouldEscalate(matches) {
		return
	}

	suspects := make([]duplicate.Suspect, 0, len(receipt.DuplicateMatches))
	for _, m := range receipt.DuplicateMatches {
		suspects = append(suspects, duplicate.Suspect{Match: m, Record: byID[m.RecordID]})
	}

	verdict := s.duplicates.Analyzer.ConfirmDuplicate(ctx, imageData, receipt.ContentType, suspects)
	receipt.DuplicateReview = &verdict
	if verdict.Confirmed() {
		receipt.DuplicateStatus = DuplicateDetected
		receipt.LinkedDuplicateID = verdict.MatchedRecordID
	}
}

func (s *Service) removeFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns receipts newest first. An empty ownerID returns every receipt.
func (s *Service) ListReceipts(ownerID string) ([]*Receipt, error) {
	all, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	receipts := make([]*Receipt, 0, len(all))
	for _, r := range all {
		if ownerID == "" || r.OwnerID == ownerID {
			receipts = append(receipts, r)
		}
	}
	slices.SortFunc(receipts, func(a, b *Receipt) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt and its file. Receipts in a claim cannot be deleted.
func (s *Service) DeleteReceipt(id string) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}
	if receipt.ClaimID != "" {
		return fmt.Errorf("%w: receipt %s is part of claim %s", ErrConflict, id, receipt.ClaimID)
	}

	s.removeFile(receipt.Filename)

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the file data for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}

// DismissDuplicate clears a confirmed duplicate flag after human review.
// The receipt drops back to suspected and its link is removed.
func (s *Service) DismissDuplicate(id string) (*Receipt, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.DuplicateStatus != DuplicateDetected {
		return nil, fmt.Errorf("%w: receipt %s is not flagged as a duplicate", ErrConflict, id)
	}

	receipt.DuplicateStatus = DuplicateSuspected
	receipt.LinkedDuplicateID = ""
	receipt.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt: %w", err)
	}
	return receipt, nil
}
