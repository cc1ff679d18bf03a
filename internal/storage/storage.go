package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrNotFound is returned by Get for a key with no stored content.
var ErrNotFound = errors.New("storage: key not found")

// Storage is a content-addressed blob store. Keys are derived from the bytes,
// so Put is idempotent: re-putting identical content returns the same key
// without a second write. Delete is best-effort and only used for explicit
// record purges.
type Storage interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// ContentKey returns the storage key for data: the hex sha256 of the bytes.
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
