package auth

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/spec-kit/delivery-auth/internal/domain"
)

// MinKeyBytes is the smallest accepted HMAC key (256 bits).
const MinKeyBytes = 32

// SigningKeys holds the two independent HMAC keys.
type SigningKeys struct {
	access  []byte
	refresh []byte
}

// DeriveKey turns a secret of unknown encoding into key bytes. Standard base64 is tried first,
// then URL-safe base64 (padded and raw), and finally the raw UTF-8 bytes of the secret.
func DeriveKey(secret string, minLen int) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is empty", domain.ErrWeakKey)
	}

	key := decodeSecret(secret)
	if len(key) < minLen {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", domain.ErrWeakKey, len(key), minLen)
	}
	return key, nil
}

func decodeSecret(secret string) []byte {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if decoded, err := enc.DecodeString(secret); err == nil && len(decoded) > 0 {
			return decoded
		}
	}
	return []byte(secret)
}

// NewSigningKeys derives the access and refresh keys. It must be called at startup;
// any error is fatal.
func NewSigningKeys(accessSecret, refreshSecret string) (*SigningKeys, error) {
	access, err := DeriveKey(accessSecret, MinKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("access secret: %w", err)
	}
	refresh, err := DeriveKey(refreshSecret, MinKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("refresh secret: %w", err)
	}
	if string(access) == string(refresh) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	return &SigningKeys{access: access, refresh: refresh}, nil
}

func (k *SigningKeys) forKind(kind domain.TokenKind) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown token kind %q", kind)
	}
	if kind == domain.TokenKindAccess {
		return k.access, nil
	}
	return k.refresh, nil
}
