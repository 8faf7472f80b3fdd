package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	apperrors "github.com/maxdhml/pulse-coach-backend/internal/errors"
	"github.com/maxdhml/pulse-coach-backend/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// boltDirPerm is the permission mode for the data directory.
	boltDirPerm = fs.FileMode(0o700)

	// boltFilePerm is the permission mode for the database file. It holds
	// refresh tokens.
	boltFilePerm = fs.FileMode(0o600)

	// boltOpenTimeout is the maximum time to wait for the bolt database lock.
	boltOpenTimeout = 5 * time.Second
)

var accountsBucket = []byte("accounts")

// boltRecord is the on-disk shape. Account hides its credentials from
// JSON, so the record carries them explicitly.
type boltRecord struct {
	AthleteID    int64     `json:"athlete_id"`
	FirstName    string    `json:"firstname,omitempty"`
	LastName     string    `json:"lastname,omitempty"`
	Username     string    `json:"username,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    int64     `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toBoltRecord(a models.Account) boltRecord {
	return boltRecord(a)
}

func (r boltRecord) account() models.Account {
	return models.Account(r)
}

func accountKey(athleteID int64) []byte {
	return []byte(strconv.FormatInt(athleteID, 10))
}

// BoltStore keeps accounts in a single bbolt bucket keyed by athlete id.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens the database at path, creating it and its directory if
// needed.
func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(accountsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing bolt db: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Upsert runs read-merge-write inside one bolt write transaction, which
// bolt serializes, so concurrent upserts for the same athlete never
// interleave.
func (s *BoltStore) Upsert(ctx context.Context, acct models.Account) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}

	if err := validateID(acct.AthleteID); err != nil {
		return models.Account{}, err
	}

	var stored models.Account

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		key := accountKey(acct.AthleteID)
		now := nowFunc()

		if v := b.Get(key); v != nil {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding account %d: %w", acct.AthleteID, err)
			}

			stored = rec.account().Merge(acct, now)
		} else {
			stored = prepare(acct, now)
		}

		data, err := json.Marshal(toBoltRecord(stored))
		if err != nil {
			return err
		}

		return b.Put(key, data)
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("upserting account: %w", err)
	}

	return stored, nil
}

// Get returns the account for athleteID.
func (s *BoltStore) Get(ctx context.Context, athleteID int64) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}

	var (
		rec   boltRecord
		found bool
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(accountsBucket).Get(accountKey(athleteID))
		if v == nil {
			return nil
		}

		found = true

		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("reading account %d: %w", athleteID, err)
	}

	if !found {
		return models.Account{}, fmt.Errorf("athlete %d: %w", athleteID, apperrors.ErrAccountNotFound)
	}

	return rec.account(), nil
}

// Count returns the number of stored accounts.
func (s *BoltStore) Count() int {
	count := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(accountsBucket).Stats().KeyN
		return nil
	})

	return count
}
