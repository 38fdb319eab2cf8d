package scanning

import "context"

// ReceiptData contains extracted information from a receipt
type ReceiptData struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	VendorName  string  `json:"vendor_name"`
	TotalAmount float64 `json:"total_amount"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt sends a receipt image to the model and returns every receipt found in it
	ScanReceipt(ctx context.Context, filename string, imageData []byte, contentType string) ([]ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}
