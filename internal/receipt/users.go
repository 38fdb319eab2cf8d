package receipt

import (
	"errors"
	"fmt"

	"github.com/zombor/receipt-scanner/internal/auth"
)

// UpsertUser sets the password, plan and limit of an account, creating it
// if needed. An existing usage count is kept.
func UpsertUser(db DB, id, password, plan string, limit int) (*User, error) {
	if id == "" {
		return nil, errors.New("user ID is required")
	}
	if password == "" {
		return nil, errors.New("password is required")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &User{PasswordHash: hash, Plan: plan, Limit: limit}
	existing, err := db.GetUser(id)
	switch {
	case err == nil:
		user.Used = existing.Used
	case !errors.Is(err, ErrUserNotFound):
		return nil, fmt.Errorf("getting user: %w", err)
	}

	if err := db.PutUser(id, user); err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}
	return user, nil
}
