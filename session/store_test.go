package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestStorePutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	want := Payload{
		Purpose:    PurposeListSync,
		EntityType: EntityTypeList,
		EntityID:   42,
	}
	if err := store.Put(ctx, "tok_a", want); err != nil {
		t.Fatalf("Put: %s", err)
	}
	got, err := store.Get(ctx, "tok_a")
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestStoreGetUnknownToken(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "never_issued")
	if err != ErrTokenNotFound {
		t.Fatalf("got %v want ErrTokenNotFound", err)
	}
}

func TestStoreTokensExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()
	if err := store.Put(ctx, "tok_ttl", Payload{Purpose: PurposeListSync}); err != nil {
		t.Fatalf("Put: %s", err)
	}

	// a token which never connects must eventually vanish
	mr.FastForward(DefaultTokenTTL + time.Minute)
	_, err := store.Get(ctx, "tok_ttl")
	if err != ErrTokenNotFound {
		t.Fatalf("got %v want ErrTokenNotFound after TTL", err)
	}
}

func TestStoreRefreshTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()
	if err := store.Put(ctx, "tok_fresh", Payload{Purpose: PurposeListSync}); err != nil {
		t.Fatalf("Put: %s", err)
	}
	mr.FastForward(DefaultTokenTTL / 2)
	if err := store.RefreshTTL(ctx, "tok_fresh"); err != nil {
		t.Fatalf("RefreshTTL: %s", err)
	}
	mr.FastForward(DefaultTokenTTL / 2)
	if _, err := store.Get(ctx, "tok_fresh"); err != nil {
		t.Fatalf("token expired despite refresh: %s", err)
	}
}

func TestStoreMembership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// members of an entity nobody registered against is empty, not an error
	members, err := store.Members(ctx, EntityTypeList, 7)
	if err != nil {
		t.Fatalf("Members: %s", err)
	}
	if len(members) != 0 {
		t.Fatalf("got %v want empty", members)
	}

	if err := store.AddMember(ctx, EntityTypeList, 7, "tok_a"); err != nil {
		t.Fatalf("AddMember: %s", err)
	}
	if err := store.AddMember(ctx, EntityTypeList, 7, "tok_b"); err != nil {
		t.Fatalf("AddMember: %s", err)
	}
	// idempotent
	if err := store.AddMember(ctx, EntityTypeList, 7, "tok_a"); err != nil {
		t.Fatalf("AddMember: %s", err)
	}

	members, err = store.Members(ctx, EntityTypeList, 7)
	if err != nil {
		t.Fatalf("Members: %s", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %v want 2 members", members)
	}

	if err := store.RemoveMember(ctx, EntityTypeList, 7, "tok_a"); err != nil {
		t.Fatalf("RemoveMember: %s", err)
	}
	// removing twice is fine
	if err := store.RemoveMember(ctx, EntityTypeList, 7, "tok_a"); err != nil {
		t.Fatalf("RemoveMember: %s", err)
	}
	members, err = store.Members(ctx, EntityTypeList, 7)
	if err != nil {
		t.Fatalf("Members: %s", err)
	}
	if len(members) != 1 || members[0] != "tok_b" {
		t.Fatalf("got %v want [tok_b]", members)
	}
}

func TestIssuerMintsRegisteredTokens(t *testing.T) {
	store := newTestStore(t)
	issuer := NewIssuer(store)
	ctx := context.Background()

	tokenA, err := issuer.Request(ctx, 99)
	if err != nil {
		t.Fatalf("Request: %s", err)
	}
	tokenB, err := issuer.Request(ctx, 99)
	if err != nil {
		t.Fatalf("Request: %s", err)
	}
	if tokenA == tokenB {
		t.Fatalf("two mints produced the same token %s", tokenA)
	}

	p, err := store.Get(ctx, tokenA)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if p.Purpose != PurposeListSync || p.EntityType != EntityTypeList || p.EntityID != 99 {
		t.Fatalf("unexpected payload %+v", p)
	}

	members, err := store.Members(ctx, EntityTypeList, 99)
	if err != nil {
		t.Fatalf("Members: %s", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %v want both minted tokens", members)
	}
}
