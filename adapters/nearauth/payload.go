package nearauth

import (
	"crypto/sha256"
	"fmt"

	"github.com/layer-3/agentrelay/core"
	"github.com/near/borsh-go"
)

// PayloadTag prefixes every signed message payload (2^31 + 413), keeping
// the signed bytes distinct from any transaction encoding.
const PayloadTag uint32 = 2147484061

// NonceSize is the exact nonce length of a signed payload
const NonceSize = 32

// payload is the borsh layout the wallet signs
type payload struct {
	Tag         uint32
	Message     string
	Nonce       [NonceSize]byte
	Recipient   string
	CallbackURL *string
}

// EncodePayload serializes the signed fields of an assertion. The nonce is
// taken as the raw bytes of the client string and must be exactly 32 bytes.
func EncodePayload(a core.Assertion) ([]byte, error) {
	nonce := []byte(a.Nonce)
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: got %d bytes", core.ErrInvalidNonce, len(nonce))
	}

	p := payload{
		Tag:       PayloadTag,
		Message:   a.Message,
		Recipient: a.Recipient,
	}
	copy(p.Nonce[:], nonce)
	if a.CallbackURL != "" {
		callback := a.CallbackURL
		p.CallbackURL = &callback
	}

	out, err := borsh.Serialize(p)
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}
	return out, nil
}

// PayloadDigest is the SHA-256 of the serialized payload; this is what the
// wallet key signs.
func PayloadDigest(a core.Assertion) ([]byte, error) {
	encoded, err := EncodePayload(a)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(encoded)
	return sum[:], nil
}
