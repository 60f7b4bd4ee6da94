// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"

	"github.com/samber/oops"
)

// KeyBytes is the entropy of a generated key: 256 bits.
const KeyBytes = 32

// KeyGenerator produces opaque token keys.
type KeyGenerator interface {
	Generate() (string, error)
}

// RandomKeyGenerator reads KeyBytes from Reader (crypto/rand when nil) and
// encodes them as unpadded base64url, 43 characters.
type RandomKeyGenerator struct {
	Reader io.Reader
}

// Generate returns a fresh key.
func (g RandomKeyGenerator) Generate() (string, error) {
	r := g.Reader
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, KeyBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").
			With("requested_bytes", KeyBytes).
			Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey returns the hex SHA-256 digest under which a key is stored.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// keyExistsFunc reports whether a store already holds a record for hash.
type keyExistsFunc func(ctx context.Context, hash string) (bool, error)

// newUniqueKey draws keys until exists reports none of them taken. Each store
// is its own namespace, so callers pass that store's check.
func newUniqueKey(ctx context.Context, gen KeyGenerator, exists keyExistsFunc) (key, hash string, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
		}
		key, err = gen.Generate()
		if err != nil {
			return "", "", err
		}
		hash = HashKey(key)
		taken, err := exists(ctx, hash)
		if err != nil {
			return "", "", oops.Code("TOKEN_GENERATE_FAILED").
				With("operation", "check key uniqueness").
				Wrap(err)
		}
		if !taken {
			return key, hash, nil
		}
	}
}
