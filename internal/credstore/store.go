// Package credstore persists the fields of the current session across
// restarts.
//
// A Store never returns errors: when the medium is unavailable writes are
// dropped and reads come back absent, so callers see "no stored session"
// instead of a failure.
package credstore

import (
	"context"
	"strconv"

	"fleetdesk/internal/model"
)

// Keys of the four session entries. The same names are used for cookies
// so the server-side read path and the durable store agree.
const (
	KeyToken  = "token"
	KeyRole   = "role"
	KeyName   = "name"
	KeyUserID = "user_id"
)

// SessionKeys lists the session entries in write order: the token comes
// last so an interrupted write never leaves a token without its fields.
var SessionKeys = []string{KeyRole, KeyName, KeyUserID, KeyToken}

// Store is string-keyed durable storage with optional expiry.
type Store interface {
	// Set stores value under key. With expiryDays > 0 the entry becomes
	// unreadable once that many days have passed.
	Set(ctx context.Context, key, value string, expiryDays int)
	// Get returns the stored value, or false if missing, expired or the
	// medium is unavailable.
	Get(ctx context.Context, key string) (string, bool)
	// Remove deletes key. Removing an absent key is a no-op.
	Remove(ctx context.Context, key string)
}

// Entry is one key/value pair.
type Entry struct {
	Key   string
	Value string
}

// GroupStore is implemented by stores that can write or clear several
// keys as one unit.
type GroupStore interface {
	Store
	SetGroup(ctx context.Context, entries []Entry, expiryDays int)
	RemoveGroup(ctx context.Context, keys ...string)
}

// SetAll writes entries as a group when the store supports it and
// otherwise one by one, in the given order.
func SetAll(ctx context.Context, s Store, entries []Entry, expiryDays int) {
	if g, ok := s.(GroupStore); ok {
		g.SetGroup(ctx, entries, expiryDays)
		return
	}
	for _, e := range entries {
		s.Set(ctx, e.Key, e.Value, expiryDays)
	}
}

// RemoveAll clears keys as a group when supported and otherwise one by
// one, in the given order.
func RemoveAll(ctx context.Context, s Store, keys ...string) {
	if g, ok := s.(GroupStore); ok {
		g.RemoveGroup(ctx, keys...)
		return
	}
	for _, k := range keys {
		s.Remove(ctx, k)
	}
}

// SessionEntries encodes a session as the four store entries in write order.
func SessionEntries(sess model.Session) []Entry {
	return []Entry{
		{Key: KeyRole, Value: string(sess.Role)},
		{Key: KeyName, Value: sess.Name},
		{Key: KeyUserID, Value: strconv.FormatInt(sess.UserID, 10)},
		{Key: KeyToken, Value: sess.Token},
	}
}

// ClearOrder is the removal order: token first, so a session interrupted
// halfway through logout already reads as unauthenticated.
func ClearOrder() []string {
	return []string{KeyToken, KeyRole, KeyName, KeyUserID}
}

// DecodeSession builds a session from raw entry values. ok is false when
// the token is missing or the user id is not an integer; such leftovers
// are treated as no session at all.
func DecodeSession(values map[string]string) (model.Session, bool) {
	token := values[KeyToken]
	if token == "" {
		return model.Session{}, false
	}
	userID, err := strconv.ParseInt(values[KeyUserID], 10, 64)
	if err != nil {
		return model.Session{}, false
	}
	return model.Session{
		Token:  token,
		Role:   model.Role(values[KeyRole]),
		Name:   values[KeyName],
		UserID: userID,
	}, true
}
