package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/zombor/receipt-scanner/internal/auth"
	"github.com/zombor/receipt-scanner/internal/scanning"
)

// ErrInvalidCredentials is returned by Login for an unknown ID or a wrong password
var ErrInvalidCredentials = errors.New("invalid ID or password")

const (
	// AdminID is the account seeded on first start
	AdminID = "admin"
	// DefaultAdminPassword is the seeded admin password unless overridden
	DefaultAdminPassword = "password"

	uploadURLPrefix = "/uploads/"
)

// IDGenerator generates record IDs
type IDGenerator interface {
	Generate() int64
}

// defaultIDGenerator uses the wall clock in milliseconds
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() int64 {
	return time.Now().UnixMilli()
}

// Status is every record and every user, as returned by the status endpoint
type Status struct {
	Records []*Record        `json:"records"`
	Users   map[string]*User `json:"users"`
}

// Service handles login and the upload workflow
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	tokens      *auth.TokenService
	idGenerator IDGenerator
}

// NewService creates a new Service with the default ID generator
func NewService(db DB, scanner scanning.Scanner, storage Storage, tokens *auth.TokenService) *Service {
	return NewServiceWithDeps(db, scanner, storage, tokens, &defaultIDGenerator{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, tokens *auth.TokenService, idGen IDGenerator) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		tokens:      tokens,
		idGenerator: idGen,
	}
}

// EnsureAdmin creates the admin account if it does not exist yet
func (s *Service) EnsureAdmin(password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	created, err := s.db.CreateUserIfAbsent(AdminID, &User{
		PasswordHash: hash,
		Plan:         "premium",
		Limit:        100,
		Used:         0,
	})
	if err != nil {
		return fmt.Errorf("seeding admin user: %w", err)
	}
	if created {
		slog.Info("Seeded admin user", "id", AdminID)
	}
	return nil
}

// Login checks the password and issues a bearer token
func (s *Service) Login(id, password string) (string, error) {
	user, err := s.db.GetUser(id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("getting user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(id)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	return token, nil
}

// Authenticate returns the user ID carried by an Authorization header
func (s *Service) Authenticate(header string) (string, error) {
	return s.tokens.VerifyHeader(header)
}

// ProcessUpload stores the image, extracts its receipts and records them
// against userID. The file is kept even when extraction fails.
func (s *Service) ProcessUpload(ctx context.Context, userID, filename string, data []byte, contentType string) ([]*Record, error) {
	name := filepath.Base(filename)
	storedName, err := s.storage.Save(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	scanned, err := s.scanner.ScanReceipt(ctx, storedName, data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"user", userID,
			"filename", storedName,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	imageURL := path.Join(uploadURLPrefix, storedName)
	records := make([]*Record, 0, len(scanned))
	for _, r := range scanned {
		records = append(records, &Record{
			Date:        r.Date,
			VendorName:  r.VendorName,
			TotalAmount: r.TotalAmount,
			ImageURL:    imageURL,
			ID:          s.idGenerator.Generate(),
		})
	}

	user, err := s.db.RecordUpload(userID, records)
	if err != nil {
		return nil, fmt.Errorf("recording upload: %w", err)
	}
	if user.Used > user.Limit {
		slog.Warn("User is over plan limit", "user", userID, "plan", user.Plan, "used", user.Used, "limit", user.Limit)
	}

	return records, nil
}

// Status returns every record and every user
func (s *Service) Status() (*Status, error) {
	records, err := s.db.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	users, err := s.db.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return &Status{Records: records, Users: users}, nil
}

// GetUpload retrieves a stored image
func (s *Service) GetUpload(ctx context.Context, name string) ([]byte, error) {
	data, err := s.storage.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("getting upload: %w", err)
	}
	return data, nil
}
