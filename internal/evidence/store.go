// Package evidence keeps the raw bodies behind findings in object storage.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
)

// Store saves one evidence object and returns a reference to it.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Type() string
}

// Key derives the object key from the scan and the content, so that a
// redelivered scan overwrites the same objects.
func Key(scanID string, body []byte) string {
	sum := sha256.Sum256(body)
	return path.Join(scanID, hex.EncodeToString(sum[:]))
}

// NoopStore drops the evidence. Used when no object storage is configured.
type NoopStore struct{}

func (NoopStore) Put(context.Context, string, []byte, string) (string, error) {
	return "", nil
}

func (NoopStore) Type() string {
	return "noop"
}
