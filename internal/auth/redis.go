package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

const defaultRedisTimeout = 5 * time.Second

// RedisClient is the subset of *redis.Client used by RedisTokenStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisTokenStore keeps the session token in Redis so several proxy
// replicas share one Exchange login. Keys expire with the token.
type RedisTokenStore struct {
	client  RedisClient
	key     string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisTokenStore stores the token for user on server under a key
// derived from both.
func NewRedisTokenStore(client RedisClient, server, user string) *RedisTokenStore {
	return &RedisTokenStore{
		client:  client,
		key:     RedisKey(server, user),
		timeout: defaultRedisTimeout,
		now:     time.Now,
	}
}

// RedisKey is the key a token for user on server is stored under.
func RedisKey(server, user string) string {
	return fmt.Sprintf("icalproxy:token:%s:%s", server, user)
}

// SaveToken stores token until its expiry. Already-expired tokens are not
// written.
func (s *RedisTokenStore) SaveToken(token *oauth2.Token) error {
	var ttl time.Duration
	if !token.Expiry.IsZero() {
		ttl = token.Expiry.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}

	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// LoadToken returns nil, nil when the key is missing or has expired.
func (s *RedisTokenStore) LoadToken() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}
