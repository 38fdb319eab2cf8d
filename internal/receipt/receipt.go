package receipt

// Record is a receipt extracted from an uploaded image
type Record struct {
	Date        string  `json:"date"`
	VendorName  string  `json:"vendor_name"`
	TotalAmount float64 `json:"total_amount"`
	ImageURL    string  `json:"image_url"`
	ID          int64   `json:"id"` // Unix milliseconds at creation, not unique
}

// User is an account in the credential store, keyed by its login ID
type User struct {
	PasswordHash string `json:"password"`
	Plan         string `json:"plan"`
	Limit        int    `json:"limit"` // informational, never enforced
	Used         int    `json:"used"`
}
