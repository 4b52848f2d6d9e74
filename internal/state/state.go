// Package state persists Wahoo token records in a local bbolt database.
// It is the file-backed TokenStore implementation; a database-row
// implementation can replace it behind the same interface.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/glemaitre/gravly-sub000/internal/wahoo"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.gravly/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var tokensBucket = []byte("wahoo_tokens")

// Store wraps a bbolt database holding one token record per account id.
// Bolt's single-writer transactions give the read-after-write and
// refresh-serialization guarantees the service layer relies on.
type Store struct {
	db *bolt.DB
}

// Load opens the state database at ~/.gravly/state.db, creating it if it
// does not exist.
func Load() (*Store, error) {
	return LoadAt(dbPath())
}

// LoadAt opens a state database at the given path, creating it if it does
// not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the token record for an account, or nil if none is stored.
func (s *Store) Load(accountID string) (*wahoo.TokenRecord, error) {
	var rec *wahoo.TokenRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(tokensBucket).Get([]byte(accountID))
		if v == nil {
			return nil
		}

		rec = &wahoo.TokenRecord{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}

// Save persists the token record for an account, replacing any previous
// record in one write transaction.
func (s *Store) Save(accountID string, rec wahoo.TokenRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return tx.Bucket(tokensBucket).Put([]byte(accountID), data)
	})
}

// Delete removes the token record for an account.
func (s *Store) Delete(accountID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(accountID))
	})
}

// Accounts returns the ids of all accounts with stored tokens.
func (s *Store) Accounts() ([]string, error) {
	var ids []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))

			return nil
		})
	})

	return ids, err
}

// compile-time interface check
var _ wahoo.TokenStore = (*Store)(nil)

func dbPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Fail loudly rather than silently writing to the current directory
		// where the database (containing access tokens) might end up with
		// wrong permissions or inside a source-controlled tree.
		fmt.Fprintf(os.Stderr, "fatal: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}

	return filepath.Join(dir, ".gravly", "state.db")
}
