// Package store persists athlete accounts. Every backend implements the
// same upsert contract: credentials are last-writer-wins, CreatedAt is
// written once, and empty metadata never clears a stored value.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/maxdhml/pulse-coach-backend/internal/config"
	"github.com/maxdhml/pulse-coach-backend/internal/models"
)

// AccountStore is the account persistence contract used by the relay.
type AccountStore interface {
	// Upsert creates the account when absent, otherwise merges the
	// incoming record into the stored one. It returns the stored result.
	Upsert(ctx context.Context, acct models.Account) (models.Account, error)

	// Get returns the account for athleteID or errors.ErrAccountNotFound.
	Get(ctx context.Context, athleteID int64) (models.Account, error)

	Close() error
}

// nowFunc is swapped in tests to pin timestamps.
var nowFunc = func() time.Time { return time.Now().UTC() }

// Open returns the backend selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config) (AccountStore, error) {
	switch cfg.StoreBackend {
	case config.BackendBolt, "":
		s, err := OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, err
		}

		return s, nil
	case config.BackendSQLite:
		s, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}

		return s, nil
	case config.BackendRedis:
		s, err := OpenRedis(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, err
		}

		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// prepare stamps a brand new record.
func prepare(acct models.Account, now time.Time) models.Account {
	acct.CreatedAt = now
	acct.UpdatedAt = now

	return acct
}

func validateID(athleteID int64) error {
	if athleteID <= 0 {
		return fmt.Errorf("invalid athlete id %d", athleteID)
	}

	return nil
}
