package models

import "time"

// Alert types
const (
	AlertTypeSystem = "system"
	AlertTypeManual = "manual"
)

// Alert statuses
const (
	AlertStatusActive    = "active"
	AlertStatusResolved  = "resolved"
	AlertStatusDismissed = "dismissed"
)

// Case statuses
const (
	CaseStatusOpen          = "open"
	CaseStatusInvestigating = "investigating"
	CaseStatusClosed        = "closed"
)

// FraudAlert is a persisted record that a risk assessment crossed an alert threshold
type FraudAlert struct {
	ID             string                 `json:"id" db:"id"`
	UserID         *string                `json:"user_id,omitempty" db:"user_id"`
	CaseID         *string                `json:"case_id,omitempty" db:"case_id"`
	AlertType      string                 `json:"alert_type" db:"alert_type"`
	Message        string                 `json:"message" db:"message"`
	Assessment     map[string]interface{} `json:"assessment" db:"-"`
	RiskScore      int                    `json:"risk_score" db:"risk_score"`
	Severity       string                 `json:"severity" db:"severity"`
	Status         string                 `json:"status" db:"status"`
	Amount         *float64               `json:"amount,omitempty" db:"amount"`
	IPAddress      *string                `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent      *string                `json:"user_agent,omitempty" db:"user_agent"`
	Metadata       map[string]interface{} `json:"metadata" db:"-"`
	TriggeredAt    time.Time              `json:"triggered_at" db:"triggered_at"`
	ResolvedBy     *string                `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolutionNote *string                `json:"resolution_note,omitempty" db:"resolution_note"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty" db:"resolved_at"`
}

// IsActive reports whether the alert still awaits an admin decision
func (a *FraudAlert) IsActive() bool {
	return a.Status == AlertStatusActive
}

// FraudAlertFilter narrows ListAlerts
type FraudAlertFilter struct {
	Status   string
	Severity string
	UserID   string
	CaseID   string
	Limit    int
	Offset   int
}

// FraudCase aggregates related alerts for one user under investigation
type FraudCase struct {
	ID              string     `json:"id" db:"id"`
	UserID          string     `json:"user_id" db:"user_id"`
	Status          string     `json:"status" db:"status"`
	Summary         string     `json:"summary" db:"summary"`
	FinancialImpact float64    `json:"financial_impact" db:"financial_impact"`
	RecoveredAmount float64    `json:"recovered_amount" db:"recovered_amount"`
	Resolution      *string    `json:"resolution,omitempty" db:"resolution"`
	OpenedBy        *string    `json:"opened_by,omitempty" db:"opened_by"`
	ClosedBy        *string    `json:"closed_by,omitempty" db:"closed_by"`
	OpenedAt        time.Time  `json:"opened_at" db:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`

	Alerts []*FraudAlert `json:"alerts,omitempty" db:"-"`
}

// IsClosed reports whether the case reached its terminal state
func (c *FraudCase) IsClosed() bool {
	return c.Status == CaseStatusClosed
}

// CanTransitionTo reports whether moving from the current status to next is allowed:
// open -> investigating -> closed, or open -> closed.
func (c *FraudCase) CanTransitionTo(next string) bool {
	switch c.Status {
	case CaseStatusOpen:
		return next == CaseStatusInvestigating || next == CaseStatusClosed
	case CaseStatusInvestigating:
		return next == CaseStatusClosed
	default:
		return false
	}
}
