// Package signing provides per-ai_id Ed25519 identities, canonical JSON
// serialization, and detached signatures over checkpoint and handoff
// payloads. Built on stdlib crypto/ed25519, crypto/rand, and
// crypto/sha256; see DESIGN.md for the dependency rationale.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// CanonForm is stamped into every canonicalized payload so a verifier can
// reject a payload signed under a future, incompatible canonicalization.
const CanonForm = "v1"

// KeystoreDir returns the directory private keys are persisted under.
func KeystoreDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".empirica", "keys"), nil
}

// keyPath returns the private key file path for an ai_id.
func keyPath(aiID string) (string, error) {
	dir, err := KeystoreDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, aiID+".key"), nil
}

// Identity is a generated signing keypair bound to an ai_id.
type Identity struct {
	AIID    string
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateIdentity creates a new Ed25519 keypair and persists the private
// key exclusively (O_EXCL): a second call for the same ai_id fails rather
// than silently rotating an existing key out from under signed history.
func GenerateIdentity(aiID string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	dir, err := KeystoreDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}

	path, err := keyPath(aiID)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create key file (already exists?): %w", err)
	}
	defer f.Close()
	if _, err := f.Write(priv); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}

	return &Identity{AIID: aiID, Public: pub, Private: priv}, nil
}

// LoadIdentity reads a previously generated private key from the keystore.
func LoadIdentity(aiID string) (*Identity, error) {
	path, err := keyPath(aiID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	priv := ed25519.PrivateKey(raw)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("malformed private key for %s", aiID)
	}
	return &Identity{AIID: aiID, Public: pub, Private: priv}, nil
}

// RemoveIdentity deletes a private key from the keystore, used only when a
// caller explicitly rotates an identity.
func RemoveIdentity(aiID string) error {
	path, err := keyPath(aiID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove key file: %w", err)
	}
	return nil
}

// FingerprintOf computes the SHA-256 hex fingerprint of a base64-encoded
// raw public key.
func FingerprintOf(publicKeyBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum), nil
}

// PublicKeyBase64 encodes the raw public key for storage in the identities
// table.
func (id *Identity) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(id.Public)
}

// Fingerprint returns the SHA-256 hex digest of the raw public key, used as
// a short, collision-resistant identity label independent of the ai_id
// string itself.
func (id *Identity) Fingerprint() string {
	sum := sha256.Sum256(id.Public)
	return fmt.Sprintf("%x", sum)
}

// Canonicalize serializes v as sorted-key JSON with no insignificant
// whitespace, tagging the result with CanonForm so the exact bytes that were
// signed can always be reconstructed later.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal for canonicalization: %w", err)
	}
	canonical := sortKeys(generic)
	wrapped := map[string]interface{}{
		"canon":   CanonForm,
		"payload": canonical,
	}
	out, err := json.Marshal(wrapped)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical payload: %w", err)
	}
	return out, nil
}

// sortKeys recursively rewrites maps into a form whose key iteration order
// is deterministic, since encoding/json already sorts map[string]any keys on
// Marshal — this pass exists to normalize nested maps decoded from
// heterogeneous sources (e.g. map[interface{}]interface{}) before they reach
// that Marshal call.
func sortKeys(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortKeys(val[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return val
	}
}

// ContentHash returns the SHA-256 hex digest of a canonicalized payload,
// used as the checkpoint/handoff content_hash column.
func ContentHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%x", sum)
}

// Sign produces a detached, base64url-encoded Ed25519 signature over a
// canonicalized payload. Signing fails open: a caller whose
// identity isn't provisioned yet should log and proceed unsigned rather than
// block the write.
func Sign(id *Identity, canonical []byte) string {
	sig := ed25519.Sign(id.Private, canonical)
	return base64.RawURLEncoding.EncodeToString(sig)
}

// Verify checks a detached signature against a canonicalized payload and a
// base64-encoded public key. Verification fails closed: any error, mismatch,
// or malformed input reports false.
func Verify(publicKeyBase64 string, canonical []byte, signatureBase64url string) bool {
	pubRaw, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil || len(pubRaw) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(signatureBase64url)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubRaw), canonical, sig)
}
