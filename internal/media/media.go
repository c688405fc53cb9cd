// Package media stores fax documents and hands out URLs the provider can fetch.
package media

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	ErrInvalidKey = errors.New("media: invalid storage key")
	ErrExpired    = errors.New("media: link expired")
	ErrSignature  = errors.New("media: bad signature")
)

// Backend is the capability the service depends on. LocalPath reports false
// for backends that do not keep files on this host.
type Backend interface {
	Save(ctx context.Context, key string, r io.Reader) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	PublicURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	LocalPath(key string) (string, bool)
}

// ValidateKey accepts flat keys only: no separators, no parent references.
func ValidateKey(key string) error {
	if key == "" || len(key) > 255 {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidKey
		}
	}
	return nil
}
