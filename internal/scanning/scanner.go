package scanning

import "context"

// LineItem is a single purchased item read off a receipt
type LineItem struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
	Price    float64 `json:"price,omitempty"`
}

// ReceiptData contains extracted information from a receipt
type ReceiptData struct {
	Title    string     `json:"title"`
	Merchant string     `json:"merchant"`
	Date     string     `json:"date"` // YYYY-MM-DD, empty when unreadable
	Amount   float64    `json:"amount"`
	Items    []LineItem `json:"items,omitempty"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts metadata
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}
