// Package session implements the capability store: the coordination state
// which maps an unguessable token to the entity it grants live-sync access
// to, and each entity to the set of tokens currently authorized for it. It is
// pure coordination state, disjoint from the durable list data, so it lives
// in Redis rather than Postgres.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultTokenTTL bounds the life of a token which is minted but never, or no
// longer, connected. Refreshed whenever the token successfully connects.
const DefaultTokenTTL = 24 * time.Hour

var ErrTokenNotFound = errors.New("session token not found")

// Payload is what a capability token resolves to. Purpose pins the token to
// the route it was minted for, so a token issued for list sync cannot be
// replayed against an unrelated real-time feature.
type Payload struct {
	Purpose    string `cbor:"purpose"`
	EntityType string `cbor:"entity_type"`
	EntityID   int64  `cbor:"entity_id"`
}

// Store is the capability store adapter. All operations are idempotent and a
// Redis outage surfaces as an error: connect-time callers fail closed,
// fan-out callers log and carry on.
type Store struct {
	client   *redis.Client
	tokenTTL time.Duration
}

func NewStore(redisAddr string) *Store {
	return NewStoreWithClient(redis.NewClient(&redis.Options{Addr: redisAddr}))
}

func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{
		client:   client,
		tokenTTL: DefaultTokenTTL,
	}
}

func tokenKey(token string) string {
	return "ws:" + token
}

func memberKey(entityType string, entityID int64) string {
	return fmt.Sprintf("%s:%d", entityType, entityID)
}

// Put stores the payload under the token, CBOR-encoded, with the token TTL.
func (s *Store) Put(ctx context.Context, token string, p Payload) error {
	b, err := cbor.Marshal(p)
	if err != nil {
		return fmt.Errorf("Put: failed to marshal payload: %w", err)
	}
	return s.client.Set(ctx, tokenKey(token), b, s.tokenTTL).Err()
}

// Get resolves the token to its payload. Returns ErrTokenNotFound for tokens
// which were never issued or have since been deleted or expired.
func (s *Store) Get(ctx context.Context, token string) (Payload, error) {
	var p Payload
	b, err := s.client.Get(ctx, tokenKey(token)).Bytes()
	if err == redis.Nil {
		return p, ErrTokenNotFound
	}
	if err != nil {
		return p, err
	}
	if err := cbor.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("Get: failed to unmarshal payload: %w", err)
	}
	return p, nil
}

// RefreshTTL extends the token's life by the full TTL, e.g. on reconnect.
func (s *Store) RefreshTTL(ctx context.Context, token string) error {
	return s.client.Expire(ctx, tokenKey(token), s.tokenTTL).Err()
}

// Delete removes the token. Deleting an unknown token is a no-op.
func (s *Store) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, tokenKey(token)).Err()
}

// AddMember registers the token in the entity's membership set.
func (s *Store) AddMember(ctx context.Context, entityType string, entityID int64, token string) error {
	return s.client.SAdd(ctx, memberKey(entityType, entityID), token).Err()
}

// Members returns every token registered against the entity. A non-existent
// set yields an empty slice.
func (s *Store) Members(ctx context.Context, entityType string, entityID int64) ([]string, error) {
	return s.client.SMembers(ctx, memberKey(entityType, entityID)).Result()
}

// RemoveMember retires the token from the entity's membership set.
func (s *Store) RemoveMember(ctx context.Context, entityType string, entityID int64, token string) error {
	return s.client.SRem(ctx, memberKey(entityType, entityID), token).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
