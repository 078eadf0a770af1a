// fraud_case_repository.go implements FraudCaseRepository. Reads outside a
// transaction go through sqlx; writes and row locks run on the caller's tx.
package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/gigmarket/marketplace/internal/db"
	"github.com/gigmarket/marketplace/internal/db/models"
)

// FraudCaseRepository handles fraud case database operations
type FraudCaseRepository struct {
	db *sqlx.DB
}

// NewFraudCaseRepository creates a new fraud case repository
func NewFraudCaseRepository(db *sqlx.DB) *FraudCaseRepository {
	return &FraudCaseRepository{db: db}
}

const fraudCaseColumns = `id, user_id, status, summary, financial_impact, recovered_amount, resolution,
		opened_by, closed_by, opened_at, closed_at, updated_at`

// CreateCase inserts a case using tx
func (r *FraudCaseRepository) CreateCase(ctx context.Context, tx db.DBTX, c *models.FraudCase) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO fraud_cases (
			id, user_id, status, summary, financial_impact, recovered_amount,
			opened_by, opened_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.UserID, c.Status, c.Summary, c.FinancialImpact, c.RecoveredAmount,
		c.OpenedBy, c.OpenedAt, c.UpdatedAt,
	)
	return err
}

// GetCase retrieves a case by ID, nil when it does not exist
func (r *FraudCaseRepository) GetCase(ctx context.Context, id string) (*models.FraudCase, error) {
	var c models.FraudCase
	err := r.db.GetContext(ctx, &c, `SELECT `+fraudCaseColumns+` FROM fraud_cases WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// LockCase reads a case with FOR UPDATE so concurrent admin edits serialize
func (r *FraudCaseRepository) LockCase(ctx context.Context, tx db.DBTX, id string) (*models.FraudCase, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+fraudCaseColumns+` FROM fraud_cases WHERE id = $1 FOR UPDATE`, id)
	c, err := scanFraudCase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// FindOpenCase returns the user's newest case that is not closed, locked for tx
func (r *FraudCaseRepository) FindOpenCase(ctx context.Context, tx db.DBTX, userID string) (*models.FraudCase, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+fraudCaseColumns+` FROM fraud_cases
		WHERE user_id = $1 AND status <> 'closed'
		ORDER BY opened_at DESC LIMIT 1
		FOR UPDATE`, userID)
	c, err := scanFraudCase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListCases lists cases newest first, optionally filtered by status
func (r *FraudCaseRepository) ListCases(ctx context.Context, status string, limit, offset int) ([]*models.FraudCase, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var total int
	var cases []*models.FraudCase
	if status == "" {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM fraud_cases`); err != nil {
			return nil, 0, err
		}
		err := r.db.SelectContext(ctx, &cases,
			`SELECT `+fraudCaseColumns+` FROM fraud_cases ORDER BY opened_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
		if err != nil {
			return nil, 0, err
		}
	} else {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM fraud_cases WHERE status = $1`, status); err != nil {
			return nil, 0, err
		}
		err := r.db.SelectContext(ctx, &cases,
			`SELECT `+fraudCaseColumns+` FROM fraud_cases WHERE status = $1 ORDER BY opened_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset)
		if err != nil {
			return nil, 0, err
		}
	}
	if cases == nil {
		cases = make([]*models.FraudCase, 0)
	}
	return cases, total, nil
}

// UpdateCase writes the mutable fields of a case
func (r *FraudCaseRepository) UpdateCase(ctx context.Context, tx db.DBTX, c *models.FraudCase) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE fraud_cases
		SET status = $2, summary = $3, recovered_amount = $4, resolution = $5,
		    closed_by = $6, closed_at = $7, updated_at = $8
		WHERE id = $1`,
		c.ID, c.Status, c.Summary, c.RecoveredAmount, c.Resolution, c.ClosedBy, c.ClosedAt, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecomputeFinancialImpact sets financial_impact to the sum of the linked alerts'
// amounts and returns it.
func (r *FraudCaseRepository) RecomputeFinancialImpact(ctx context.Context, tx db.DBTX, caseID string) (float64, error) {
	var impact float64
	err := tx.QueryRowContext(ctx, `
		UPDATE fraud_cases
		SET financial_impact = (
			SELECT COALESCE(SUM(amount), 0) FROM fraud_alerts WHERE case_id = $1
		), updated_at = NOW()
		WHERE id = $1
		RETURNING financial_impact::float8`, caseID).Scan(&impact)
	return impact, err
}

func scanFraudCase(row rowScanner) (*models.FraudCase, error) {
	c := &models.FraudCase{}
	err := row.Scan(
		&c.ID, &c.UserID, &c.Status, &c.Summary, &c.FinancialImpact, &c.RecoveredAmount, &c.Resolution,
		&c.OpenedBy, &c.ClosedBy, &c.OpenedAt, &c.ClosedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
