// verification_repository.go implements VerificationRepository for identity document
// submissions and their admin review. Document references are encrypted at rest
// when a cipher is configured.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gigmarket/marketplace/internal/db"
	"github.com/gigmarket/marketplace/internal/db/models"
)

// DocumentCipher encrypts document references bound to the verification ID.
// *crypto.Cipher implements it.
type DocumentCipher interface {
	Seal(plaintext, context string) (string, error)
	Open(value, context string) (string, error)
}

// VerificationRepository handles identity verification database operations
type VerificationRepository struct {
	db     *sqlx.DB
	cipher DocumentCipher
}

// NewVerificationRepository creates a new verification repository. With a nil
// cipher document references are stored as given.
func NewVerificationRepository(db *sqlx.DB, cipher DocumentCipher) *VerificationRepository {
	return &VerificationRepository{db: db, cipher: cipher}
}

func (r *VerificationRepository) seal(v *models.IdentityVerification) (string, error) {
	if r.cipher == nil {
		return v.DocumentRef, nil
	}
	sealed, err := r.cipher.Seal(v.DocumentRef, v.ID)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt document reference: %w", err)
	}
	return sealed, nil
}

func (r *VerificationRepository) open(v *models.IdentityVerification) error {
	if r.cipher == nil {
		return nil
	}
	ref, err := r.cipher.Open(v.DocumentRef, v.ID)
	if err != nil {
		return fmt.Errorf("failed to decrypt document reference of verification %s: %w", v.ID, err)
	}
	v.DocumentRef = ref
	return nil
}

const verificationColumns = `id, user_id, document_type, document_ref, status, rejection_reason,
		reviewed_by, reviewed_at, created_at`

// CreateVerification inserts a pending submission
func (r *VerificationRepository) CreateVerification(ctx context.Context, tx db.DBTX, v *models.IdentityVerification) error {
	ref, err := r.seal(v)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO identity_verifications (id, user_id, document_type, document_ref, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.UserID, v.DocumentType, ref, v.Status, v.CreatedAt,
	)
	return err
}

// GetVerification retrieves a submission by ID, nil when it does not exist
func (r *VerificationRepository) GetVerification(ctx context.Context, id string) (*models.IdentityVerification, error) {
	var v models.IdentityVerification
	err := r.db.GetContext(ctx, &v, `SELECT `+verificationColumns+` FROM identity_verifications WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.open(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListByStatus lists submissions in one status, oldest first so the review queue is FIFO
func (r *VerificationRepository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.IdentityVerification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	list := make([]*models.IdentityVerification, 0)
	err := r.db.SelectContext(ctx, &list, `
		SELECT `+verificationColumns+` FROM identity_verifications
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, err
	}
	for _, v := range list {
		if err := r.open(v); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Review records an admin decision on a pending submission. It reports false
// when the submission was already reviewed.
func (r *VerificationRepository) Review(ctx context.Context, tx db.DBTX, v *models.IdentityVerification) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE identity_verifications
		SET status = $2, rejection_reason = $3, reviewed_by = $4, reviewed_at = $5
		WHERE id = $1 AND status = 'pending'`,
		v.ID, v.Status, v.RejectionReason, v.ReviewedBy, v.ReviewedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
