// Package clientstore provides persistent per-browser key/value storage.
//
// Every browser client is identified by a cookie. Values are opaque JSON blobs
// kept under a handful of well-known keys; each key is read and written as a
// whole value, so last writer wins and no further coordination is needed.
package clientstore

import (
	"context"
	"errors"
	"strings"
)

// Well-known keys.
const (
	KeyCurrentUser       = "currentUserSession"
	KeyCachedRoleID      = "cachedRoleId"
	KeyCachedPermissions = "cachedPermissionMap"
)

var clientKeys = []string{KeyCurrentUser, KeyCachedRoleID, KeyCachedPermissions}

var (
	// ErrQuotaExceeded indicates the value is larger than the backend accepts.
	ErrQuotaExceeded = errors.New("clientstore: quota exceeded")
	// ErrInvalidClient indicates an empty or malformed client id.
	ErrInvalidClient = errors.New("clientstore: invalid client id")
)

// Storage is the storage of a single client.
type Storage interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Backend hosts the storage of all clients.
type Backend interface {
	Scope(clientID string) Storage
	// Each calls fn for every client currently holding key.
	Each(ctx context.Context, key string, fn func(clientID, value string) error) error
	// Refresh restarts the expiry of every value the client holds.
	Refresh(ctx context.Context, clientID string) error
}

const keyPrefix = "client:"

func compositeKey(clientID, key string) string {
	return keyPrefix + clientID + ":" + key
}

// splitKey reverses compositeKey for the given key suffix.
func splitKey(composite, key string) (string, bool) {
	if !strings.HasPrefix(composite, keyPrefix) || !strings.HasSuffix(composite, ":"+key) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(composite, keyPrefix), ":"+key)
	if id == "" {
		return "", false
	}
	return id, true
}

type storageContextKey struct{}

// ContextWithStorage stores the client storage in context.
func ContextWithStorage(ctx context.Context, s Storage) context.Context {
	return context.WithValue(ctx, storageContextKey{}, s)
}

// FromContext extracts the client storage from context. It returns nil when absent.
func FromContext(ctx context.Context) Storage {
	s, _ := ctx.Value(storageContextKey{}).(Storage)
	return s
}
