// fraud_alert_repository.go implements FraudAlertRepository: alert inserts that join the
// caller's audit transaction, the admin listing filters, and case linking.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/gigmarket/marketplace/internal/db"
	"github.com/gigmarket/marketplace/internal/db/models"
)

// FraudAlertRepository handles fraud alert database operations
type FraudAlertRepository struct {
	db *sql.DB
}

// NewFraudAlertRepository creates a new FraudAlertRepository
func NewFraudAlertRepository(db *sql.DB) *FraudAlertRepository {
	return &FraudAlertRepository{db: db}
}

const fraudAlertColumns = `id, user_id, case_id, alert_type, message, assessment, risk_score, severity,
		status, amount, ip_address, user_agent, metadata, triggered_at, resolved_by, resolution_note, resolved_at`

// CreateAlert inserts an alert using tx
func (r *FraudAlertRepository) CreateAlert(ctx context.Context, tx db.DBTX, a *models.FraudAlert) error {
	assessment, err := jsonObject(a.Assessment)
	if err != nil {
		return fmt.Errorf("failed to encode assessment: %w", err)
	}
	metadata, err := jsonObject(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fraud_alerts (
			id, user_id, case_id, alert_type, message, assessment, risk_score, severity,
			status, amount, ip_address, user_agent, metadata, triggered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.UserID, a.CaseID, a.AlertType, a.Message, assessment, a.RiskScore, a.Severity,
		a.Status, a.Amount, a.IPAddress, a.UserAgent, metadata, a.TriggeredAt,
	)
	return err
}

// GetAlert retrieves an alert by ID, nil when it does not exist
func (r *FraudAlertRepository) GetAlert(ctx context.Context, id string) (*models.FraudAlert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fraudAlertColumns+` FROM fraud_alerts WHERE id = $1`, id)
	a, err := scanFraudAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListAlerts retrieves alerts matching the filter, newest first, with the total count
func (r *FraudAlertRepository) ListAlerts(ctx context.Context, f models.FraudAlertFilter) ([]*models.FraudAlert, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	add := func(clause string, v interface{}) {
		where += fmt.Sprintf(clause, paramIndex)
		args = append(args, v)
		paramIndex++
	}
	if f.Status != "" {
		add(` AND status = $%d`, f.Status)
	}
	if f.Severity != "" {
		add(` AND severity = $%d`, f.Severity)
	}
	if f.UserID != "" {
		add(` AND user_id = $%d`, f.UserID)
	}
	if f.CaseID != "" {
		add(` AND case_id = $%d`, f.CaseID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fraud_alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + fraudAlertColumns + ` FROM fraud_alerts` + where +
		fmt.Sprintf(` ORDER BY triggered_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts, err := scanFraudAlerts(rows)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// UpdateAlertStatus writes a resolution for an alert that is still active and
// reports whether a row changed.
func (r *FraudAlertRepository) UpdateAlertStatus(ctx context.Context, tx db.DBTX, a *models.FraudAlert) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE fraud_alerts
		SET status = $2, resolved_by = $3, resolution_note = $4, resolved_at = $5
		WHERE id = $1 AND status = 'active'`,
		a.ID, a.Status, a.ResolvedBy, a.ResolutionNote, a.ResolvedAt,
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

// LinkAlert attaches an alert to a case
func (r *FraudAlertRepository) LinkAlert(ctx context.Context, tx db.DBTX, alertID, caseID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE fraud_alerts SET case_id = $2 WHERE id = $1`, alertID, caseID)
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

// ListAlertsByCase returns a case's alerts, oldest first
func (r *FraudAlertRepository) ListAlertsByCase(ctx context.Context, caseID string) ([]*models.FraudAlert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fraudAlertColumns+` FROM fraud_alerts WHERE case_id = $1 ORDER BY triggered_at ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFraudAlerts(rows)
}

func scanFraudAlert(row rowScanner) (*models.FraudAlert, error) {
	a := &models.FraudAlert{}
	var assessmentJSON, metaJSON []byte
	err := row.Scan(
		&a.ID, &a.UserID, &a.CaseID, &a.AlertType, &a.Message, &assessmentJSON, &a.RiskScore, &a.Severity,
		&a.Status, &a.Amount, &a.IPAddress, &a.UserAgent, &metaJSON, &a.TriggeredAt,
		&a.ResolvedBy, &a.ResolutionNote, &a.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.Assessment, err = unmarshalJSONB(assessmentJSON); err != nil {
		return nil, err
	}
	if a.Metadata, err = unmarshalJSONB(metaJSON); err != nil {
		return nil, err
	}
	return a, nil
}

func scanFraudAlerts(rows *sql.Rows) ([]*models.FraudAlert, error) {
	alerts := make([]*models.FraudAlert, 0)
	for rows.Next() {
		a, err := scanFraudAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// jsonObject encodes a map for a NOT NULL JSONB column; nil becomes {}.
func jsonObject(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
