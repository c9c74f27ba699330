package nearauth

import (
	"encoding/binary"
	"testing"

	"github.com/layer-3/agentrelay/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNonce = "1713963337000000000000000000000a"

func borshString(s string) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(s)))
	return append(out, s...)
}

func TestEncodePayloadLayout(t *testing.T) {
	a := core.Assertion{Message: "Login to NEAR AI", Nonce: testNonce, Recipient: "near-ai-backend"}

	got, err := EncodePayload(a)
	require.NoError(t, err)

	want := binary.LittleEndian.AppendUint32(nil, PayloadTag)
	want = append(want, borshString("Login to NEAR AI")...)
	want = append(want, testNonce...)
	want = append(want, borshString("near-ai-backend")...)
	want = append(want, 0) // no callback

	assert.Equal(t, want, got)
}

func TestEncodePayloadWithCallback(t *testing.T) {
	a := core.Assertion{Message: "m", Nonce: testNonce, Recipient: "r", CallbackURL: "https://example.org/cb"}

	got, err := EncodePayload(a)
	require.NoError(t, err)

	tail := append([]byte{1}, borshString("https://example.org/cb")...)
	assert.Equal(t, tail, got[len(got)-len(tail):])
}

func TestEncodePayloadRejectsBadNonce(t *testing.T) {
	for _, nonce := range []string{"", "short", testNonce + "x"} {
		_, err := EncodePayload(core.Assertion{Message: "m", Nonce: nonce, Recipient: "r"})
		assert.ErrorIs(t, err, core.ErrInvalidNonce, "nonce %q", nonce)
	}
}
