package envelope

import (
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshoverlay/node/internal/cryptoutil"
)

func genKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privPEM, pubPEM, err := cryptoutil.GenerateKeyPair(2048)
	require.NoError(t, err)
	priv, err := cryptoutil.ParsePrivateKey(privPEM)
	require.NoError(t, err)
	pub, err := cryptoutil.ParsePublicKey(pubPEM)
	require.NoError(t, err)
	return priv, pub
}

func TestSignPayloadVerifyPayloadRoundTrip(t *testing.T) {
	priv, pub := genKeys(t)

	payload := map[string]any{"ciphertext": "X", "nested": map[string]any{"b": 1, "a": 2}}

	sig, err := SignPayload(payload, priv)
	require.NoError(t, err)
	assert.True(t, VerifyPayload(pub, payload, sig))

	payload["ciphertext"] = "Y"
	assert.False(t, VerifyPayload(pub, payload, sig))
}

func TestMakeVerifierHandshakeFramesAlwaysPass(t *testing.T) {
	verifier := MakeVerifier(func(id string) (*rsa.PublicKey, bool) { return nil, false })

	for _, typ := range []string{TypeUserHello, TypeServerHelloJoin, "BOOTSTRAP_RECONNECT"} {
		env := &Envelope{Type: typ, From: "unknown", Payload: map[string]any{}}
		assert.True(t, verifier(env), "expected %s to bypass signature check", typ)
	}
}

func TestMakeVerifierRejectsMissingSignature(t *testing.T) {
	_, pub := genKeys(t)
	verifier := MakeVerifier(func(id string) (*rsa.PublicKey, bool) { return pub, true })

	env := &Envelope{Type: TypeMsgDirect, From: "a", Payload: map[string]any{}}
	assert.False(t, verifier(env))
}

func TestMakeVerifierRejectsUnknownSender(t *testing.T) {
	priv, _ := genKeys(t)
	payload := map[string]any{"x": 1}
	sig, err := SignPayload(payload, priv)
	require.NoError(t, err)

	verifier := MakeVerifier(func(id string) (*rsa.PublicKey, bool) { return nil, false })
	env := &Envelope{Type: TypeMsgDirect, From: "a", Payload: payload, Sig: sig}
	assert.False(t, verifier(env))
}

func TestMakeVerifierAcceptsValidSignature(t *testing.T) {
	priv, pub := genKeys(t)
	payload := map[string]any{"x": 1}
	sig, err := SignPayload(payload, priv)
	require.NoError(t, err)

	verifier := MakeVerifier(func(id string) (*rsa.PublicKey, bool) { return pub, true })
	env := &Envelope{Type: TypeMsgDirect, From: "a", Payload: payload, Sig: sig}
	assert.True(t, verifier(env))
}

func TestFingerprintDeterministicAndSensitive(t *testing.T) {
	env1 := &Envelope{TS: 1, From: "a", To: "b", Payload: map[string]any{"k": 1, "j": 2}}
	env2 := &Envelope{TS: 1, From: "a", To: "b", Payload: map[string]any{"j": 2, "k": 1}}

	fp1, err := Fingerprint(env1)
	require.NoError(t, err)
	fp2, err := Fingerprint(env2)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	env3 := &Envelope{TS: 2, From: "a", To: "b", Payload: map[string]any{"k": 1, "j": 2}}
	fp3, err := Fingerprint(env3)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)
}

func TestContentSignVerifyRoundTrip(t *testing.T) {
	priv, pub := genKeys(t)
	ciphertext := []byte("opaque-bytes")

	sig, err := ContentSign(priv, ciphertext, "alice", "bob", 1234)
	require.NoError(t, err)
	assert.True(t, VerifyContentSig(pub, ciphertext, "alice", "bob", 1234, sig))
	assert.False(t, VerifyContentSig(pub, ciphertext, "alice", "bob", 1235, sig))
	assert.False(t, VerifyContentSig(pub, []byte("tampered"), "alice", "bob", 1234, sig))
}
