package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
)

// EntityTypeList is the capability-store entity type under which list session
// tokens are grouped.
const EntityTypeList = "listSession"

// PurposeListSync is the purpose stamped on tokens minted for the live list
// route. The connection gateway refuses tokens whose stored purpose doesn't
// match the route they are presented to.
const PurposeListSync = "/live/lists"

// Issuer mints capability tokens. This is the only way a token comes into
// existence: tokens are random, never derived from entity ids. The caller is
// responsible for checking the end user may access the list before asking for
// a token.
type Issuer struct {
	store *Store
}

func NewIssuer(store *Store) *Issuer {
	return &Issuer{store: store}
}

// Request mints a token granting live-sync access to the list and registers
// it in the list's membership set.
func (i *Issuer) Request(ctx context.Context, listID int64) (string, error) {
	token := newToken()
	err := i.store.Put(ctx, token, Payload{
		Purpose:    PurposeListSync,
		EntityType: EntityTypeList,
		EntityID:   listID,
	})
	if err != nil {
		return "", err
	}
	if err := i.store.AddMember(ctx, EntityTypeList, listID, token); err != nil {
		return "", err
	}
	return token, nil
}

func newToken() string {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic("session.newToken: " + err.Error())
	}
	return hex.EncodeToString(b)
}
