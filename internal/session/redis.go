package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix   = "session:"
	sessionIDKeyPrefix = "session-id:"
	maxSaveRetries     = 10
)

// RedisStore keeps party sessions as JSON blobs keyed by party code,
// with a secondary key mapping session ID to party code.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

var _ Provider = (*RedisStore)(nil)

// NewRedisStore creates a session store. A zero ttl keeps sessions forever.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger, ttl: ttl}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// CreateSession writes a new session and its ID index
func (r *RedisStore) CreateSession(ctx context.Context, s *PartySession) error {
	s.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKeyPrefix+s.PartyCode, data, r.ttl)
		pipe.Set(ctx, sessionIDKeyPrefix+s.ID, s.PartyCode, r.ttl)
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save session", "party_code", s.PartyCode, "error", err)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisStore) GetSessionByPartyCode(ctx context.Context, partyCode string) (*PartySession, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+partyCode).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: party %s", ErrSessionNotFound, partyCode)
		}
		r.logger.Error("Failed to load session", "party_code", partyCode, "error", err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var s PartySession
	if err := json.Unmarshal(data, &s); err != nil {
		r.logger.Error("Failed to unmarshal session", "party_code", partyCode, "error", err)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// SaveSessionState merges players into the stored session inside a WATCH transaction
// so concurrent writers do not drop each other's updates.
func (r *RedisStore) SaveSessionState(ctx context.Context, sessionID string, players map[string]*PlayerStats) error {
	code, err := r.client.Get(ctx, sessionIDKeyPrefix+sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: id %s", ErrSessionNotFound, sessionID)
		}
		return fmt.Errorf("failed to resolve session id: %w", err)
	}
	key := sessionKeyPrefix + code

	merge := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: party %s", ErrSessionNotFound, code)
			}
			return err
		}
		var s PartySession
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		if s.Players == nil {
			s.Players = make(map[string]*PlayerStats)
		}
		for id, p := range players {
			s.Players[id] = p
		}
		s.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(&s)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxSaveRetries; i++ {
		err = r.client.Watch(ctx, merge, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		r.logger.Debug("Session save conflicted, retrying", "session_id", sessionID, "attempt", i+1)
	}
	if err != nil {
		r.logger.Error("Failed to save session state", "session_id", sessionID, "error", err)
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}
