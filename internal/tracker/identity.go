package tracker

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// identityDelimiter separates the nonce from its signature.
	identityDelimiter = "|"

	// nonceBytes is the amount of randomness in every identity (128 bits).
	nonceBytes = 16
)

// IdentityCodec mints and validates self-authenticating identity tokens.
//
// A token is hex(nonce) + "|" + hex(HMAC-SHA256(key, hex(nonce))). Validation
// recomputes the signature, so the server keeps no record of issued tokens.
type IdentityCodec struct {
	key []byte
}

// NewIdentityCodec creates a codec signing with key.
func NewIdentityCodec(key []byte) (*IdentityCodec, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	// Copy so later mutation of the caller's slice cannot change the key
	return &IdentityCodec{key: append([]byte(nil), key...)}, nil
}

// NewIdentityCodecFromHex creates a codec from a hex-encoded key, as found in configuration.
func NewIdentityCodecFromHex(hexKey string) (*IdentityCodec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid identity signing key: %w", err)
	}
	return NewIdentityCodec(key)
}

// Generate returns a new random identity token signed with the codec key.
func (c *IdentityCodec) Generate() (string, error) {
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate identity nonce: %w", err)
	}
	encoded := hex.EncodeToString(nonce)
	return encoded + identityDelimiter + c.sign(encoded), nil
}

// Validate reports whether token was produced by Generate with the same key.
// Malformed input yields false; it never panics.
func (c *IdentityCodec) Validate(token string) bool {
	nonce, signature, found := strings.Cut(token, identityDelimiter)
	if !found || nonce == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(c.sign(nonce)))
}

func (c *IdentityCodec) sign(nonce string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}
