package models

import "time"

// Identity represents a signing identity bound to an ai_id. Every checkpoint
// and handoff written by that ai_id is signed with its private key; the
// public key is what a peer instance verifies against.
type Identity struct {
	AIID      string     `json:"ai_id" db:"ai_id"`
	PublicKey string     `json:"public_key" db:"public_key"` // base64 raw Ed25519 public key
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	Label     *string    `json:"label,omitempty" db:"label"`
	Revoked   bool       `json:"revoked" db:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Signature represents a detached Ed25519 signature over a canonical JSON
// payload, attached to a checkpoint or handoff row for later verification.
type Signature struct {
	AIID     string    `json:"ai_id" db:"ai_id"`
	Subject  string    `json:"subject" db:"subject"` // content hash (sha256 hex) that was signed
	Value    string    `json:"value" db:"value"`     // base64 signature bytes
	SignedAt time.Time `json:"signed_at" db:"signed_at"`
}

// IdentityCreateInput represents input for provisioning a new signing identity.
type IdentityCreateInput struct {
	AIID  string  `json:"ai_id"`
	Label *string `json:"label,omitempty"`
}
