package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

// maxUploadSize allows high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeJSONError writes {"error": message} with the given status
func writeJSONError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnreadable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs unexpected failures and hides their details from the client
func writeServiceError(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		writeJSONError(w, "Internal server error", code)
		return
	}
	writeJSONError(w, err.Error(), code)
}

// ownerScope returns the owner filter for list endpoints: admins see everything
func ownerScope(r *http.Request) string {
	p, _ := PrincipalFrom(r.Context())
	if p.Admin {
		return ""
	}
	return p.Name
}

func canAccess(r *http.Request, ownerID string) bool {
	p, _ := PrincipalFrom(r.Context())
	return p.Admin || p.Name == ownerID
}

// loadReceipt fetches a receipt the caller is allowed to see
func (s *Server) loadReceipt(w http.ResponseWriter, r *http.Request) (*Receipt, bool) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "Error getting receipt", err)
		return nil, false
	}
	if !canAccess(r, receipt.OwnerID) {
		writeJSONError(w, "Receipt belongs to another user", http.StatusForbidden)
		return nil, false
	}
	return receipt, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListReceipts returns the caller's receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts(ownerScope(r))
	if err != nil {
		writeServiceError(w, "Error listing receipts", err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// detectContentType falls back to the file extension when the part has no type
func detectContentType(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleUploadReceipt handles receipt upload
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusRequestEntityTooLarge)
			return
		}
		slog.Error("Error parsing multipart form", "error", err)
		writeJSONError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)
	owner, _ := PrincipalFrom(r.Context())

	receipt, err := s.service.ProcessReceipt(r.Context(), owner.Name, header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		writeServiceError(w, "Error processing receipt", err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, ok := s.loadReceipt(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the file for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	receipt, ok := s.loadReceipt(w, r)
	if !ok {
		return
	}
	data, contentType, err := s.service.GetReceiptFile(receipt.ID)
	if err != nil {
		writeServiceError(w, "Error reading receipt file", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", receipt.Filename))
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, ok := s.loadReceipt(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteReceipt(receipt.ID); err != nil {
		writeServiceError(w, "Error deleting receipt", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDismissDuplicate clears a confirmed duplicate flag
func (s *Server) handleDismissDuplicate(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.DismissDuplicate(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "Error dismissing duplicate", err)
		return
	}
	p, _ := PrincipalFrom(r.Context())
	slog.Info("Duplicate dismissed", "id", receipt.ID, "by", p.Name)
	writeJSON(w, http.StatusOK, receipt)
}
