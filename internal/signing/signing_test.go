package signing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func TestGenerateIdentityExclusive(t *testing.T) {
	testHome(t)

	id, err := GenerateIdentity("agent-A")
	require.NoError(t, err)
	assert.Len(t, id.Public, 32)

	_, err = GenerateIdentity("agent-A")
	require.Error(t, err, "a second generate must not rotate an existing key")
}

func TestLoadIdentityRoundTrip(t *testing.T) {
	testHome(t)

	created, err := GenerateIdentity("agent-B")
	require.NoError(t, err)

	loaded, err := LoadIdentity("agent-B")
	require.NoError(t, err)
	assert.Equal(t, created.Public, loaded.Public)
	assert.Equal(t, created.Fingerprint(), loaded.Fingerprint())
}

func TestRemoveIdentity(t *testing.T) {
	testHome(t)

	_, err := GenerateIdentity("agent-C")
	require.NoError(t, err)
	require.NoError(t, RemoveIdentity("agent-C"))

	_, err = LoadIdentity("agent-C")
	require.Error(t, err)

	assert.NoError(t, RemoveIdentity("agent-C"), "removing a missing key is not an error")
}

func TestCanonicalizeDeterministic(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 2, "a": 1, "nested": map[string]any{"z": true, "y": false}})
	require.NoError(t, err)
	b, err := Canonicalize(map[string]any{"nested": map[string]any{"y": false, "z": true}, "a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b, "key order in the input never changes the canonical bytes")
	assert.Contains(t, string(a), `"canon":"v1"`)
}

func TestCanonicalizeIdempotent(t *testing.T) {
	// canon(x) = canon(parse(canon(x)))
	first, err := Canonicalize(map[string]any{"know": 0.7, "uncertainty": 0.3})
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(first, &parsed))
	second, err := Canonicalize(parsed["payload"])
	require.NoError(t, err)

	var reparsed map[string]any
	require.NoError(t, json.Unmarshal(second, &reparsed))
	assert.Equal(t, parsed["payload"], reparsed["payload"])
}

func TestSignVerify(t *testing.T) {
	testHome(t)

	id, err := GenerateIdentity("signer")
	require.NoError(t, err)

	canonical, err := Canonicalize(map[string]any{"session_id": "s1", "phase": "PREFLIGHT", "round": 1})
	require.NoError(t, err)

	sig := Sign(id, canonical)
	assert.True(t, Verify(id.PublicKeyBase64(), canonical, sig))
}

func TestVerifyFailsClosed(t *testing.T) {
	testHome(t)

	id, err := GenerateIdentity("signer")
	require.NoError(t, err)
	canonical, _ := Canonicalize(map[string]any{"know": 0.7})
	sig := Sign(id, canonical)

	tampered := make([]byte, len(canonical))
	copy(tampered, canonical)
	tampered[len(tampered)/2] ^= 0x01
	assert.False(t, Verify(id.PublicKeyBase64(), tampered, sig), "a flipped bit fails verification")

	other, err := GenerateIdentity("other")
	require.NoError(t, err)
	assert.False(t, Verify(other.PublicKeyBase64(), canonical, sig), "a mismatched key fails verification")

	assert.False(t, Verify("not base64!!", canonical, sig))
	assert.False(t, Verify(id.PublicKeyBase64(), canonical, "not a signature"))
}

func TestFingerprintOf(t *testing.T) {
	testHome(t)

	id, err := GenerateIdentity("fp")
	require.NoError(t, err)

	fp, err := FingerprintOf(id.PublicKeyBase64())
	require.NoError(t, err)
	assert.Equal(t, id.Fingerprint(), fp)
	assert.Len(t, fp, 64)

	_, err = FingerprintOf("AAAA")
	require.Error(t, err, "wrong-length keys are rejected")
}

func TestContentHashStable(t *testing.T) {
	canonical, _ := Canonicalize(map[string]any{"a": 1})
	assert.Equal(t, ContentHash(canonical), ContentHash(canonical))
	other, _ := Canonicalize(map[string]any{"a": 2})
	assert.NotEqual(t, ContentHash(canonical), ContentHash(other))
}
