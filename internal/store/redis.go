package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/maxdhml/pulse-coach-backend/internal/errors"
	"github.com/maxdhml/pulse-coach-backend/internal/models"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// maxUpsertAttempts bounds optimistic retries when another writer
// touches the same account between WATCH and EXEC.
const maxUpsertAttempts = 5

// Hash field names.
const (
	fieldAthleteID    = "athlete_id"
	fieldFirstName    = "firstname"
	fieldLastName     = "lastname"
	fieldUsername     = "username"
	fieldAccessToken  = "access_token"
	fieldRefreshToken = "refresh_token"
	fieldExpiresAt    = "expires_at"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
)

// RedisOptions holds connection settings for the redis backend.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps one hash per athlete under KeyPrefix.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, opts.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps a pre-configured client. Tests use it
// with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisStore) key(athleteID int64) string {
	return s.keyPrefix + "account:" + strconv.FormatInt(athleteID, 10)
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Upsert watches the account key, merges in Go and writes the result in
// a MULTI block. created_at goes through HSETNX so a racing first
// insert cannot overwrite it.
func (s *RedisStore) Upsert(ctx context.Context, acct models.Account) (models.Account, error) {
	if err := validateID(acct.AthleteID); err != nil {
		return models.Account{}, err
	}

	key := s.key(acct.AthleteID)

	var stored models.Account

	txf := func(tx *redis.Tx) error {
		existing, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}

		now := nowFunc()
		if len(existing) == 0 {
			stored = prepare(acct, now)
		} else {
			prev, err := decodeAccount(existing)
			if err != nil {
				return err
			}

			stored = prev.Merge(acct, now)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSetNX(ctx, key, fieldCreatedAt, formatTime(stored.CreatedAt))
			pipe.HSet(ctx, key, encodeAccount(stored))

			return nil
		})

		return err
	}

	for range maxUpsertAttempts {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return stored, nil
		}

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		return models.Account{}, fmt.Errorf("upserting account: %w", err)
	}

	return models.Account{}, fmt.Errorf("upserting account %d: too much contention", acct.AthleteID)
}

// Get returns the account for athleteID.
func (s *RedisStore) Get(ctx context.Context, athleteID int64) (models.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.key(athleteID)).Result()
	if err != nil {
		return models.Account{}, fmt.Errorf("reading account %d: %w", athleteID, err)
	}

	if len(fields) == 0 {
		return models.Account{}, fmt.Errorf("athlete %d: %w", athleteID, apperrors.ErrAccountNotFound)
	}

	acct, err := decodeAccount(fields)
	if err != nil {
		return models.Account{}, fmt.Errorf("decoding account %d: %w", athleteID, err)
	}

	return acct, nil
}

// encodeAccount returns every field except created_at.
func encodeAccount(a models.Account) map[string]interface{} {
	return map[string]interface{}{
		fieldAthleteID:    a.AthleteID,
		fieldFirstName:    a.FirstName,
		fieldLastName:     a.LastName,
		fieldUsername:     a.Username,
		fieldAccessToken:  a.AccessToken,
		fieldRefreshToken: a.RefreshToken,
		fieldExpiresAt:    a.ExpiresAt,
		fieldUpdatedAt:    formatTime(a.UpdatedAt),
	}
}

func decodeAccount(fields map[string]string) (models.Account, error) {
	var (
		acct models.Account
		err  error
	)

	if acct.AthleteID, err = strconv.ParseInt(fields[fieldAthleteID], 10, 64); err != nil {
		return acct, fmt.Errorf("parsing %s: %w", fieldAthleteID, err)
	}

	if v := fields[fieldExpiresAt]; v != "" {
		if acct.ExpiresAt, err = strconv.ParseInt(v, 10, 64); err != nil {
			return acct, fmt.Errorf("parsing %s: %w", fieldExpiresAt, err)
		}
	}

	if acct.CreatedAt, err = parseTime(fields[fieldCreatedAt]); err != nil {
		return acct, fmt.Errorf("parsing %s: %w", fieldCreatedAt, err)
	}

	if acct.UpdatedAt, err = parseTime(fields[fieldUpdatedAt]); err != nil {
		return acct, fmt.Errorf("parsing %s: %w", fieldUpdatedAt, err)
	}

	acct.FirstName = fields[fieldFirstName]
	acct.LastName = fields[fieldLastName]
	acct.Username = fields[fieldUsername]
	acct.AccessToken = fields[fieldAccessToken]
	acct.RefreshToken = fields[fieldRefreshToken]

	return acct, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339Nano, v)
}
