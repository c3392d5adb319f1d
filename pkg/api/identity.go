package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/Nubaeon/empirica/internal/models"
	"github.com/Nubaeon/empirica/internal/signing"
)

// IdentityResult is the public view of a signing identity: the base64 raw
// public key and its SHA-256 fingerprint. Private keys never leave the
// keystore.
type IdentityResult struct {
	AIID        string `json:"ai_id"`
	PublicKey   string `json:"public_key"`
	Fingerprint string `json:"fingerprint"`
	Created     bool   `json:"created"` // false when an existing identity was returned
}

// IdentityCreate provisions an Ed25519 identity for an agent. With
// overwrite false the call is idempotent: an existing identity is returned
// untouched. Overwrite true rotates the keypair, which invalidates
// verification of anything signed under the old key.
func (a *API) IdentityCreate(req models.IdentityCreateInput, overwrite bool) (result *IdentityResult, err error) {
	defer recoverTo(&err, "identity.create")

	if strings.TrimSpace(req.AIID) == "" {
		return nil, newError(ErrInvalidInput, "ai_id is required")
	}

	existing, gerr := a.identities.Get(req.AIID)
	if gerr != nil {
		return nil, databaseError("load identity", gerr)
	}
	if existing != nil && !overwrite {
		id, lerr := signing.LoadIdentity(req.AIID)
		if lerr != nil {
			return nil, newError(ErrVerificationFailed, fmt.Sprintf("identity row exists for %s but its private key is unreadable", req.AIID)).
				withSuggestion("the keystore may have been moved; re-create with overwrite to rotate the keypair")
		}
		return &IdentityResult{
			AIID:        req.AIID,
			PublicKey:   existing.PublicKey,
			Fingerprint: id.Fingerprint(),
		}, nil
	}

	if existing != nil && overwrite {
		if rerr := signing.RemoveIdentity(req.AIID); rerr != nil {
			return nil, databaseError("remove old key", rerr)
		}
		if rerr := a.identities.Revoke(req.AIID, time.Now()); rerr != nil {
			return nil, databaseError("revoke old identity", rerr)
		}
	}

	id, cerr := signing.GenerateIdentity(req.AIID)
	if cerr != nil {
		return nil, databaseError("generate identity", cerr)
	}

	row := &models.Identity{
		AIID:      req.AIID,
		PublicKey: id.PublicKeyBase64(),
		CreatedAt: time.Now(),
		Label:     req.Label,
	}
	if existing == nil {
		if cerr := a.identities.Create(row); cerr != nil {
			return nil, databaseError("store identity", cerr)
		}
	} else {
		if cerr := a.identities.Replace(row); cerr != nil {
			return nil, databaseError("replace identity", cerr)
		}
	}

	return &IdentityResult{
		AIID:        req.AIID,
		PublicKey:   row.PublicKey,
		Fingerprint: id.Fingerprint(),
		Created:     true,
	}, nil
}

// IdentityList returns every known identity.
func (a *API) IdentityList() (result []*models.Identity, err error) {
	defer recoverTo(&err, "identity.list")

	identities, lerr := a.identities.List()
	if lerr != nil {
		return nil, databaseError("list identities", lerr)
	}
	return identities, nil
}

// IdentityExport returns an agent's public key and fingerprint for sharing
// with verifying peers.
func (a *API) IdentityExport(aiID string) (result *IdentityResult, err error) {
	defer recoverTo(&err, "identity.export")

	row, gerr := a.identities.Get(aiID)
	if gerr != nil {
		return nil, databaseError("load identity", gerr)
	}
	if row == nil {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("no identity for %s", aiID)).
			withRecovery("identity.create")
	}
	fingerprint, ferr := signing.FingerprintOf(row.PublicKey)
	if ferr != nil {
		return nil, newError(ErrVerificationFailed, "stored public key is malformed")
	}
	return &IdentityResult{AIID: aiID, PublicKey: row.PublicKey, Fingerprint: fingerprint}, nil
}

// VerificationResult is the success response for identity.verify.
type VerificationResult struct {
	Verified    bool   `json:"verified"`
	Fingerprint string `json:"fingerprint,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
}

// VerifyCheckpoint re-derives a signed checkpoint's canonical bytes and
// verifies its detached signature against the signer's registered public
// key. Verification fails closed: any mismatch, tamper, or missing piece
// is verification_failed, never a silent pass.
func (a *API) VerifyCheckpoint(checkpointID string) (result *VerificationResult, err error) {
	defer recoverTo(&err, "identity.verify")

	cp, cerr := a.checkpoints.ReadCheckpoint(checkpointID)
	if cerr != nil {
		return nil, databaseError("load checkpoint", cerr)
	}
	if cp == nil {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("no checkpoint %s", checkpointID))
	}
	if cp.Signature == nil || *cp.Signature == "" {
		return nil, newError(ErrVerificationFailed, "checkpoint carries no signature").
			withSuggestion("submit assessments with sign enabled to produce signed checkpoints")
	}

	identity, ierr := a.identities.Get(cp.AIID)
	if ierr != nil {
		return nil, databaseError("load signer identity", ierr)
	}
	if identity == nil {
		return nil, newError(ErrVerificationFailed, fmt.Sprintf("no registered public key for signer %s", cp.AIID))
	}

	canonical := []byte(cp.VectorsJSON)
	if !signing.Verify(identity.PublicKey, canonical, *cp.Signature) {
		return nil, newError(ErrVerificationFailed, "signature does not match the checkpoint content").
			withContext(map[string]any{
				"checkpoint_id": checkpointID,
				"signer":        cp.AIID,
			})
	}

	fingerprint, ferr := signing.FingerprintOf(identity.PublicKey)
	if ferr != nil {
		return nil, newError(ErrVerificationFailed, "stored public key is malformed")
	}
	return &VerificationResult{
		Verified:    true,
		Fingerprint: fingerprint,
		ContentHash: signing.ContentHash(canonical),
	}, nil
}
