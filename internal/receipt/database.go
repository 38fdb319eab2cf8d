package receipt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	usersBucketName   = "users"
	recordsBucketName = "records"
)

// ErrUserNotFound is returned when a user ID has no entry in the credential store
var ErrUserNotFound = errors.New("user not found")

// DB defines the interface for database operations
type DB interface {
	// GetUser retrieves a user by ID
	GetUser(id string) (*User, error)

	// ListUsers returns every user keyed by ID
	ListUsers() (map[string]*User, error)

	// PutUser creates or replaces a user
	PutUser(id string, user *User) error

	// CreateUserIfAbsent stores user unless the ID already exists and reports whether it did
	CreateUserIfAbsent(id string, user *User) (bool, error)

	// RecordUpload increments the user's usage count and appends the records in one transaction
	RecordUpload(userID string, records []*Record) (*User, error)

	// ListRecords returns all records in insertion order
	ListRecords() ([]*Record, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{usersBucketName, recordsBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func getUser(tx *bbolt.Tx, id string) (*User, error) {
	data := tx.Bucket([]byte(usersBucketName)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("unmarshaling user %s: %w", id, err)
	}
	return &user, nil
}

func putUser(tx *bbolt.Tx, id string, user *User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshaling user: %w", err)
	}
	return tx.Bucket([]byte(usersBucketName)).Put([]byte(id), data)
}

// GetUser retrieves a user by ID
func (b *BoltDB) GetUser(id string) (*User, error) {
	var user *User
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = getUser(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns every user keyed by ID
func (b *BoltDB) ListUsers() (map[string]*User, error) {
	users := make(map[string]*User)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(usersBucketName)).ForEach(func(k, v []byte) error {
			var user User
			if err := json.Unmarshal(v, &user); err != nil {
				return fmt.Errorf("unmarshaling user %s: %w", k, err)
			}
			users[string(k)] = &user
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// PutUser creates or replaces a user
func (b *BoltDB) PutUser(id string, user *User) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putUser(tx, id, user)
	})
}

// CreateUserIfAbsent stores user unless the ID already exists
func (b *BoltDB) CreateUserIfAbsent(id string, user *User) (bool, error) {
	created := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(usersBucketName)).Get([]byte(id)) != nil {
			return nil
		}
		created = true
		return putUser(tx, id, user)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// RecordUpload increments the user's usage count and appends records.
// Both changes commit together or not at all.
func (b *BoltDB) RecordUpload(userID string, records []*Record) (*User, error) {
	var user *User
	err := b.db.Update(func(tx *bbolt.Tx) error {
		var err error
		user, err = getUser(tx, userID)
		if err != nil {
			return err
		}
		user.Used++
		if err := putUser(tx, userID, user); err != nil {
			return err
		}

		bucket := tx.Bucket([]byte(recordsBucketName))
		for _, record := range records {
			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("allocating record key: %w", err)
			}
			data, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("marshaling record: %w", err)
			}
			if err := bucket.Put(sequenceKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListRecords returns all records in insertion order
func (b *BoltDB) ListRecords() ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(recordsBucketName)).ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// sequenceKey encodes seq big-endian so keys sort in insertion order
func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
