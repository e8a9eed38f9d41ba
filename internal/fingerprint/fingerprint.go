// Package fingerprint derives one-way storage keys from raw card numbers.
package fingerprint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/turnstile/internal/domain"
	"golang.org/x/crypto/hkdf"
)

// keyInfo is the HKDF info string for fingerprint keys.
const keyInfo = "turnstile/card-fingerprint/v1"

// Size is the length of a fingerprint once base64 encoded.
var Size = base64.StdEncoding.EncodedLen(sha256.Size)

// ErrEmptySecret is returned when no fingerprint secret is configured.
var ErrEmptySecret = errors.New("fingerprint secret is required")

// Hasher computes keyed fingerprints. It is safe for concurrent use.
type Hasher struct {
	key []byte
}

// New derives the HMAC key from secret with HKDF-SHA256.
func New(secret []byte) (*Hasher, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, secret, nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive fingerprint key: %w", err)
	}

	return &Hasher{key: key}, nil
}

// Fingerprint returns base64(HMAC-SHA256(key, raw)). Surrounding whitespace
// in raw is ignored. Callers must not pass an empty identifier.
func (h *Hasher) Fingerprint(raw string) domain.Fingerprint {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(strings.TrimSpace(raw)))
	return domain.Fingerprint(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}
