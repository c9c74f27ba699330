package nearauth

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/layer-3/agentrelay/core"
	"github.com/mr-tron/base58"
)

const ed25519Prefix = "ed25519:"

// ParsePublicKey decodes a NEAR "ed25519:<base58>" public key. A key with no
// curve prefix is read as ed25519.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	encoded := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if s[:i+1] != ed25519Prefix {
			return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedKeyType, s[:i])
		}
		encoded = s[i+1:]
	}

	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidPublicKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key has %d bytes, want %d", core.ErrInvalidPublicKey, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// FormatPublicKey renders an ed25519 key the way NEAR prints it
func FormatPublicKey(key ed25519.PublicKey) string {
	return ed25519Prefix + base58.Encode(key)
}

// VerifySignature checks the assertion signature over the payload digest
func VerifySignature(a core.Assertion) error {
	key, err := ParsePublicKey(a.PublicKey)
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(a.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature has %d bytes", core.ErrInvalidSignature, len(sig))
	}

	digest, err := PayloadDigest(a)
	if err != nil {
		return err
	}
	if !ed25519.Verify(key, digest, sig) {
		return core.ErrInvalidSignature
	}
	return nil
}

// Sign produces the base64 signature a wallet would attach to the assertion
func Sign(key ed25519.PrivateKey, a core.Assertion) (string, error) {
	digest, err := PayloadDigest(a)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, digest)), nil
}
