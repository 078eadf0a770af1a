package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/db"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/telemetry"
)

// AlertStore persists fraud alerts. FraudAlertRepository implements it.
type AlertStore interface {
	CreateAlert(ctx context.Context, tx db.DBTX, a *models.FraudAlert) error
	GetAlert(ctx context.Context, id string) (*models.FraudAlert, error)
	ListAlerts(ctx context.Context, f models.FraudAlertFilter) ([]*models.FraudAlert, int, error)
	// UpdateAlertStatus applies a resolution to an alert that is still active.
	// It reports false when the alert was no longer active.
	UpdateAlertStatus(ctx context.Context, tx db.DBTX, a *models.FraudAlert) (bool, error)
	LinkAlert(ctx context.Context, tx db.DBTX, alertID, caseID string) error
	ListAlertsByCase(ctx context.Context, caseID string) ([]*models.FraudAlert, error)
}

// AuditTrail runs a transaction whose audit entries commit with it.
// *audit.Logger implements it.
type AuditTrail interface {
	Transact(ctx context.Context, fn func(tx *sql.Tx, record audit.RecordFunc) error) error
}

// Actor identifies who performs an admin mutation.
type Actor struct {
	UserID    string
	IP        string
	UserAgent string
}

func (a Actor) entry(table, action, recordID string, oldValues, newValues map[string]interface{}) audit.LogInput {
	return audit.LogInput{
		TableName: table,
		Action:    action,
		RecordID:  recordID,
		UserID:    a.UserID,
		UserType:  models.UserTypeAdmin,
		OldValues: oldValues,
		NewValues: newValues,
		IPAddress: a.IP,
		UserAgent: a.UserAgent,
	}
}

// AlertManager persists alerts raised by the detector and carries out the
// admin triage workflow on them.
type AlertManager struct {
	alerts AlertStore
	cases  CaseStore
	trail  AuditTrail
	now    func() time.Time
}

// NewAlertManager creates an AlertManager.
func NewAlertManager(alerts AlertStore, cases CaseStore, trail AuditTrail) *AlertManager {
	return &AlertManager{alerts: alerts, cases: cases, trail: trail, now: time.Now}
}

// RecordAlert persists a system alert for an assessment that requires action.
// When openCase is set the alert is linked to the user's open case, opening
// one if none exists.
func (m *AlertManager) RecordAlert(ctx context.Context, rc *RequestContext, a Assessment, openCase bool) (*models.FraudAlert, error) {
	severity := Severity(a.RiskScore)
	alert := &models.FraudAlert{
		ID:          uuid.New().String(),
		UserID:      optional(rc.UserID),
		AlertType:   models.AlertTypeSystem,
		Message:     alertMessage(a),
		Assessment:  assessmentMap(a),
		RiskScore:   a.RiskScore,
		Severity:    severity,
		Status:      models.AlertStatusActive,
		IPAddress:   optional(rc.IP),
		UserAgent:   optional(rc.UserAgent),
		TriggeredAt: m.now().UTC(),
		Metadata: map[string]interface{}{
			"route":        rc.RouteName,
			"method":       rc.Method,
			"path":         rc.Path,
			"action_class": string(a.ActionClass),
			"decision":     string(a.Decision),
		},
	}
	// only money that moved counts toward a case's financial impact
	if a.ActionClass == ClassPayment {
		alert.Amount = rc.Amount
	}

	err := m.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		if err := m.alerts.CreateAlert(ctx, tx, alert); err != nil {
			return fmt.Errorf("failed to create fraud alert: %w", err)
		}
		if err := record(audit.LogInput{
			TableName: "fraud_alerts",
			Action:    models.AuditActionCreate,
			RecordID:  alert.ID,
			UserType:  models.UserTypeSystem,
			NewValues: alertValues(alert),
			Metadata:  map[string]interface{}{"subject_user_id": rc.UserID},
			IPAddress: rc.IP,
			UserAgent: rc.UserAgent,
		}); err != nil {
			return err
		}
		if openCase && rc.UserID != "" {
			return m.attachToOpenCase(ctx, tx, record, alert)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.FraudAlertsTotal.WithLabelValues(severity).Inc()
	return alert, nil
}

func (m *AlertManager) attachToOpenCase(ctx context.Context, tx *sql.Tx, record audit.RecordFunc, alert *models.FraudAlert) error {
	c, err := m.cases.FindOpenCase(ctx, tx, *alert.UserID)
	if err != nil {
		return fmt.Errorf("failed to look up open case: %w", err)
	}
	if c == nil {
		now := m.now().UTC()
		c = &models.FraudCase{
			ID:        uuid.New().String(),
			UserID:    *alert.UserID,
			Status:    models.CaseStatusOpen,
			Summary:   "Opened automatically for critical alert: " + alert.Message,
			OpenedAt:  now,
			UpdatedAt: now,
		}
		if err := m.cases.CreateCase(ctx, tx, c); err != nil {
			return fmt.Errorf("failed to open case: %w", err)
		}
		if err := record(audit.LogInput{
			TableName: "fraud_cases",
			Action:    models.AuditActionCreate,
			RecordID:  c.ID,
			UserType:  models.UserTypeSystem,
			NewValues: caseValues(c),
		}); err != nil {
			return err
		}
		slog.Info("fraud: opened case for critical alert", "case_id", c.ID, "user_id", c.UserID)
	}

	if err := m.alerts.LinkAlert(ctx, tx, alert.ID, c.ID); err != nil {
		return fmt.Errorf("failed to link alert to case: %w", err)
	}
	alert.CaseID = &c.ID
	impact, err := m.cases.RecomputeFinancialImpact(ctx, tx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to recompute financial impact: %w", err)
	}
	return record(audit.LogInput{
		TableName: "fraud_cases",
		Action:    models.AuditActionUpdate,
		RecordID:  c.ID,
		UserType:  models.UserTypeSystem,
		OldValues: map[string]interface{}{"financial_impact": c.FinancialImpact},
		NewValues: map[string]interface{}{"financial_impact": impact, "linked_alert_id": alert.ID},
	})
}

// ListAlerts returns alerts matching f, newest first, and the total match count.
func (m *AlertManager) ListAlerts(ctx context.Context, f models.FraudAlertFilter) ([]*models.FraudAlert, int, error) {
	return m.alerts.ListAlerts(ctx, f)
}

// GetAlert returns one alert or ErrAlertNotFound.
func (m *AlertManager) GetAlert(ctx context.Context, id string) (*models.FraudAlert, error) {
	a, err := m.alerts.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAlertNotFound
	}
	return a, nil
}

// ResolveAlert marks an active alert resolved. A note is required.
func (m *AlertManager) ResolveAlert(ctx context.Context, actor Actor, id, note string) (*models.FraudAlert, error) {
	return m.closeAlert(ctx, actor, id, note, models.AlertStatusResolved)
}

// DismissAlert marks an active alert as a false positive. A note is required.
func (m *AlertManager) DismissAlert(ctx context.Context, actor Actor, id, note string) (*models.FraudAlert, error) {
	return m.closeAlert(ctx, actor, id, note, models.AlertStatusDismissed)
}

func (m *AlertManager) closeAlert(ctx context.Context, actor Actor, id, note, status string) (*models.FraudAlert, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, fieldError("note", "a note explaining the decision is required")
	}
	alert, err := m.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if !alert.IsActive() {
		return nil, fmt.Errorf("%w: alert is already %s", ErrInvalidTransition, alert.Status)
	}

	now := m.now().UTC()
	updated := *alert
	updated.Status = status
	updated.ResolvedBy = optional(actor.UserID)
	updated.ResolutionNote = &note
	updated.ResolvedAt = &now

	err = m.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		ok, err := m.alerts.UpdateAlertStatus(ctx, tx, &updated)
		if err != nil {
			return fmt.Errorf("failed to update fraud alert: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: alert is no longer active", ErrInvalidTransition)
		}
		return record(actor.entry("fraud_alerts", models.AuditActionUpdate, alert.ID,
			map[string]interface{}{"status": alert.Status},
			map[string]interface{}{"status": status, "resolution_note": note}))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ManualAlertInput is an alert filed by an admin.
type ManualAlertInput struct {
	UserID    string   `json:"user_id"`
	Message   string   `json:"message"`
	RiskScore int      `json:"risk_score"`
	Amount    *float64 `json:"amount,omitempty"`
}

func (in ManualAlertInput) validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(in.UserID) == "" {
		fields["user_id"] = "user_id is required"
	}
	if strings.TrimSpace(in.Message) == "" {
		fields["message"] = "message is required"
	}
	if in.RiskScore < 0 || in.RiskScore > 100 {
		fields["risk_score"] = "risk_score must be between 0 and 100"
	}
	if in.Amount != nil && *in.Amount < 0 {
		fields["amount"] = "amount cannot be negative"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// CreateManualAlert files an alert on behalf of an admin.
func (m *AlertManager) CreateManualAlert(ctx context.Context, actor Actor, in ManualAlertInput) (*models.FraudAlert, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	alert := &models.FraudAlert{
		ID:          uuid.New().String(),
		UserID:      optional(strings.TrimSpace(in.UserID)),
		AlertType:   models.AlertTypeManual,
		Message:     strings.TrimSpace(in.Message),
		Assessment:  map[string]interface{}{"filed_by": actor.UserID},
		RiskScore:   in.RiskScore,
		Severity:    Severity(in.RiskScore),
		Status:      models.AlertStatusActive,
		Amount:      in.Amount,
		TriggeredAt: m.now().UTC(),
		Metadata:    map[string]interface{}{},
	}

	err := m.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		if err := m.alerts.CreateAlert(ctx, tx, alert); err != nil {
			return fmt.Errorf("failed to create fraud alert: %w", err)
		}
		return record(actor.entry("fraud_alerts", models.AuditActionCreate, alert.ID, nil, alertValues(alert)))
	})
	if err != nil {
		return nil, err
	}
	telemetry.FraudAlertsTotal.WithLabelValues(alert.Severity).Inc()
	return alert, nil
}

func alertMessage(a Assessment) string {
	if len(a.Alerts) == 0 {
		return fmt.Sprintf("Risk score %d for %s", a.RiskScore, a.ActionClass)
	}
	return strings.Join(a.Alerts, "; ")
}

func assessmentMap(a Assessment) map[string]interface{} {
	raw, err := json.Marshal(a)
	if err != nil {
		return map[string]interface{}{"risk_score": a.RiskScore}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"risk_score": a.RiskScore}
	}
	return out
}

func alertValues(a *models.FraudAlert) map[string]interface{} {
	v := map[string]interface{}{
		"alert_type": a.AlertType,
		"risk_score": a.RiskScore,
		"severity":   a.Severity,
		"status":     a.Status,
		"message":    a.Message,
	}
	if a.UserID != nil {
		v["user_id"] = *a.UserID
	}
	if a.Amount != nil {
		v["amount"] = *a.Amount
	}
	return v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
