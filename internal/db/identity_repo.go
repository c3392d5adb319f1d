package db

import (
	"database/sql"

	"github.com/Nubaeon/empirica/internal/models"
)

// IdentityRepository handles signing-identity database operations.
type IdentityRepository struct {
	db *DB
}

// NewIdentityRepository creates a new identity repository.
func NewIdentityRepository(db *DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create provisions a new identity row. ai_id is the primary key; a second
// Create call for the same ai_id fails on the unique constraint rather than
// silently overwriting a public key; identities are append-only.
func (r *IdentityRepository) Create(identity *models.Identity) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO identities (ai_id, public_key, created_at, label, revoked)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := tx.Exec(query,
			identity.AIID,
			identity.PublicKey,
			identity.CreatedAt,
			identity.Label,
			identity.Revoked,
		)
		return err
	})
}

// Get retrieves an identity by ai_id.
func (r *IdentityRepository) Get(aiID string) (*models.Identity, error) {
	var identity models.Identity
	query := `SELECT * FROM identities WHERE ai_id = ?`
	err := r.db.Get(&identity, query, aiID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// Replace swaps an identity's public key after an explicit rotation,
// clearing any revocation left by the rotate flow.
func (r *IdentityRepository) Replace(identity *models.Identity) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE identities
			SET public_key = ?, created_at = ?, label = ?, revoked = 0, revoked_at = NULL
			WHERE ai_id = ?
		`
		_, err := tx.Exec(query,
			identity.PublicKey,
			identity.CreatedAt,
			identity.Label,
			identity.AIID,
		)
		return err
	})
}

// Revoke marks an identity revoked as of now; revoked identities still
// verify past signatures but may not sign new ones.
func (r *IdentityRepository) Revoke(aiID string, revokedAt interface{}) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `UPDATE identities SET revoked = 1, revoked_at = ? WHERE ai_id = ?`
		_, err := tx.Exec(query, revokedAt, aiID)
		return err
	})
}

// List returns every known identity, revoked or not.
func (r *IdentityRepository) List() ([]*models.Identity, error) {
	var identities []*models.Identity
	query := `SELECT * FROM identities ORDER BY created_at DESC`
	if err := r.db.Select(&identities, query); err != nil {
		return nil, err
	}
	return identities, nil
}
