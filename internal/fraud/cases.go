package fraud

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/db"
	"github.com/gigmarket/marketplace/internal/db/models"
)

// CaseStore persists fraud cases. FraudCaseRepository implements it.
type CaseStore interface {
	CreateCase(ctx context.Context, tx db.DBTX, c *models.FraudCase) error
	GetCase(ctx context.Context, id string) (*models.FraudCase, error)
	// LockCase reads a case and locks its row for the rest of tx.
	LockCase(ctx context.Context, tx db.DBTX, id string) (*models.FraudCase, error)
	// FindOpenCase returns the user's newest case that is not closed, or nil.
	FindOpenCase(ctx context.Context, tx db.DBTX, userID string) (*models.FraudCase, error)
	ListCases(ctx context.Context, status string, limit, offset int) ([]*models.FraudCase, int, error)
	UpdateCase(ctx context.Context, tx db.DBTX, c *models.FraudCase) error
	// RecomputeFinancialImpact sets financial_impact to the sum of linked alert
	// amounts and returns the new value.
	RecomputeFinancialImpact(ctx context.Context, tx db.DBTX, caseID string) (float64, error)
}

// CaseManager runs the admin investigation workflow.
type CaseManager struct {
	cases  CaseStore
	alerts AlertStore
	trail  AuditTrail
	now    func() time.Time
}

// NewCaseManager creates a CaseManager.
func NewCaseManager(cases CaseStore, alerts AlertStore, trail AuditTrail) *CaseManager {
	return &CaseManager{cases: cases, alerts: alerts, trail: trail, now: time.Now}
}

// OpenCaseInput opens a case, optionally with alerts linked from the start.
type OpenCaseInput struct {
	UserID   string   `json:"user_id"`
	Summary  string   `json:"summary"`
	AlertIDs []string `json:"alert_ids"`
}

// OpenCase creates a case and links the given alerts. Every alert must exist
// and belong to the case's user.
func (m *CaseManager) OpenCase(ctx context.Context, actor Actor, in OpenCaseInput) (*models.FraudCase, error) {
	fields := map[string]string{}
	if strings.TrimSpace(in.UserID) == "" {
		fields["user_id"] = "user_id is required"
	}
	if strings.TrimSpace(in.Summary) == "" {
		fields["summary"] = "summary is required"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	linked := make([]*models.FraudAlert, 0, len(in.AlertIDs))
	for _, id := range in.AlertIDs {
		a, err := m.alerts.GetAlert(ctx, id)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
		}
		if a.UserID == nil || *a.UserID != in.UserID {
			return nil, fieldError("alert_ids", fmt.Sprintf("alert %s belongs to a different user", id))
		}
		linked = append(linked, a)
	}

	now := m.now().UTC()
	c := &models.FraudCase{
		ID:        uuid.New().String(),
		UserID:    strings.TrimSpace(in.UserID),
		Status:    models.CaseStatusOpen,
		Summary:   strings.TrimSpace(in.Summary),
		OpenedBy:  optional(actor.UserID),
		OpenedAt:  now,
		UpdatedAt: now,
	}

	err := m.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		if err := m.cases.CreateCase(ctx, tx, c); err != nil {
			return fmt.Errorf("failed to create fraud case: %w", err)
		}
		for _, a := range linked {
			if err := m.alerts.LinkAlert(ctx, tx, a.ID, c.ID); err != nil {
				return fmt.Errorf("failed to link alert: %w", err)
			}
		}
		if len(linked) > 0 {
			impact, err := m.cases.RecomputeFinancialImpact(ctx, tx, c.ID)
			if err != nil {
				return fmt.Errorf("failed to recompute financial impact: %w", err)
			}
			c.FinancialImpact = impact
		}
		values := caseValues(c)
		values["alert_ids"] = in.AlertIDs
		return record(actor.entry("fraud_cases", models.AuditActionCreate, c.ID, nil, values))
	})
	if err != nil {
		return nil, err
	}
	c.Alerts = linked
	return c, nil
}

// GetCase returns a case with its linked alerts, or ErrCaseNotFound.
func (m *CaseManager) GetCase(ctx context.Context, id string) (*models.FraudCase, error) {
	c, err := m.cases.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCaseNotFound
	}
	c.Alerts, err = m.alerts.ListAlertsByCase(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCases returns cases, optionally filtered by status.
func (m *CaseManager) ListCases(ctx context.Context, status string, limit, offset int) ([]*models.FraudCase, int, error) {
	return m.cases.ListCases(ctx, status, limit, offset)
}

// LinkAlert attaches an alert to an open case and recomputes the case's
// financial impact in the same transaction.
func (m *CaseManager) LinkAlert(ctx context.Context, actor Actor, caseID, alertID string) (*models.FraudCase, error) {
	alert, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, ErrAlertNotFound
	}

	var out *models.FraudCase
	err = m.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		c, err := m.lockOpen(ctx, tx, caseID)
		if err != nil {
			return err
		}
		if alert.UserID == nil || *alert.UserID != c.UserID {
			return fieldError("alert_id", "alert belongs to a different user")
		}
		if err := m.alerts.LinkAlert(ctx, tx, alert.ID, c.ID); err != nil {
			return fmt.Errorf("failed to link alert: %w", err)
		}
		before := c.FinancialImpact
		c.FinancialImpact, err = m.cases.RecomputeFinancialImpact(ctx, tx, c.ID)
		if err != nil {
			return fmt.Errorf("failed to recompute financial impact: %w", err)
		}
		out = c
		return record(actor.entry("fraud_cases", models.AuditActionUpdate, c.ID,
			map[string]interface{}{"financial_impact": before},
			map[string]interface{}{"financial_impact": c.FinancialImpact, "linked_alert_id": alert.ID}))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCaseInput changes an open case. Closing goes through CloseCase.
type UpdateCaseInput struct {
	Status          *string  `json:"status,omitempty"`
	RecoveredAmount *float64 `json:"recovered_amount,omitempty"`
}

// UpdateCase moves a case to investigating and/or records a recovered amount.
func (m *CaseManager) UpdateCase(ctx context.Context, actor Actor, caseID string, in UpdateCaseInput) (*models.FraudCase, error) {
	fields := map[string]string{}
	if in.Status == nil && in.RecoveredAmount == nil {
		fields["status"] = "status or recovered_amount is required"
	}
	if in.Status != nil && *in.Status != models.CaseStatusInvestigating {
		fields["status"] = "status can only be set to investigating; use close to close a case"
	}
	if in.RecoveredAmount != nil && *in.RecoveredAmount < 0 {
		fields["recovered_amount"] = "recovered_amount cannot be negative"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	var out *models.FraudCase
	err := m.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		c, err := m.lockOpen(ctx, tx, caseID)
		if err != nil {
			return err
		}
		old := caseValues(c)
		if in.Status != nil && *in.Status != c.Status {
			if !c.CanTransitionTo(*in.Status) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, *in.Status)
			}
			c.Status = *in.Status
		}
		if in.RecoveredAmount != nil {
			c.RecoveredAmount = *in.RecoveredAmount
		}
		c.UpdatedAt = m.now().UTC()
		if err := m.cases.UpdateCase(ctx, tx, c); err != nil {
			return fmt.Errorf("failed to update fraud case: %w", err)
		}
		out = c
		return record(actor.entry("fraud_cases", models.AuditActionUpdate, c.ID, old, caseValues(c)))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CloseCase closes a case. A resolution is required and closed is terminal.
func (m *CaseManager) CloseCase(ctx context.Context, actor Actor, caseID, resolution string) (*models.FraudCase, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, fieldError("resolution", "a resolution is required to close a case")
	}

	var out *models.FraudCase
	err := m.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		c, err := m.lockOpen(ctx, tx, caseID)
		if err != nil {
			return err
		}
		old := caseValues(c)
		now := m.now().UTC()
		c.Status = models.CaseStatusClosed
		c.Resolution = &resolution
		c.ClosedBy = optional(actor.UserID)
		c.ClosedAt = &now
		c.UpdatedAt = now
		if err := m.cases.UpdateCase(ctx, tx, c); err != nil {
			return fmt.Errorf("failed to close fraud case: %w", err)
		}
		out = c
		values := caseValues(c)
		values["resolution"] = resolution
		return record(actor.entry("fraud_cases", models.AuditActionUpdate, c.ID, old, values))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *CaseManager) lockOpen(ctx context.Context, tx *sql.Tx, id string) (*models.FraudCase, error) {
	c, err := m.cases.LockCase(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load fraud case: %w", err)
	}
	if c == nil {
		return nil, ErrCaseNotFound
	}
	if c.IsClosed() {
		return nil, ErrCaseClosed
	}
	return c, nil
}

func caseValues(c *models.FraudCase) map[string]interface{} {
	return map[string]interface{}{
		"user_id":          c.UserID,
		"status":           c.Status,
		"summary":          c.Summary,
		"financial_impact": c.FinancialImpact,
		"recovered_amount": c.RecoveredAmount,
	}
}
