// stats.go serves the risk dashboard summary: alert, case and review queue counts.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/gigmarket/marketplace/internal/api/respond"
)

// StatsHandler handles stats-related API requests
type StatsHandler struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(database *sqlx.DB) *StatsHandler {
	return &StatsHandler{db: database, now: time.Now}
}

// DashboardStats is the response of GET /api/v1/admin/stats/dashboard
type DashboardStats struct {
	Users                int64           `json:"users"`
	Alerts               AlertStats      `json:"alerts"`
	Cases                CaseStats       `json:"cases"`
	PendingVerifications int64           `json:"pending_verifications"`
	AuditHeadSeq         int64           `json:"audit_head_seq"`
	ActiveBySeverity     []SeverityCount `json:"active_by_severity"`
}

// AlertStats counts alerts by status
type AlertStats struct {
	Active    int64 `json:"active"`
	Last24h   int64 `json:"last_24h"`
	Resolved  int64 `json:"resolved"`
	Dismissed int64 `json:"dismissed"`
}

// CaseStats counts cases and sums their money
type CaseStats struct {
	Open            int64   `json:"open"`
	Investigating   int64   `json:"investigating"`
	Closed          int64   `json:"closed"`
	FinancialImpact float64 `json:"financial_impact"`
	RecoveredAmount float64 `json:"recovered_amount"`
}

// SeverityCount is the number of active alerts of one severity
type SeverityCount struct {
	Severity string `json:"severity" db:"severity"`
	Count    int64  `json:"count" db:"count"`
}

// @Summary      Get dashboard statistics
// @Description  Returns alert, case, verification queue and audit chain counts for the risk dashboard
// @Tags         Stats
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  DashboardStats
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/stats/dashboard [get]
// GetDashboardStats returns the counts in a single round-trip plus the severity breakdown.
func (h *StatsHandler) GetDashboardStats(c *gin.Context) {
	ctx := c.Request.Context()
	since := h.now().Add(-24 * time.Hour)

	query := `
		SELECT
			(SELECT COUNT(*) FROM users) AS user_count,
			(SELECT COUNT(*) FROM fraud_alerts WHERE status = 'active') AS active_alerts,
			(SELECT COUNT(*) FROM fraud_alerts WHERE triggered_at >= $1) AS recent_alerts,
			(SELECT COUNT(*) FROM fraud_alerts WHERE status = 'resolved') AS resolved_alerts,
			(SELECT COUNT(*) FROM fraud_alerts WHERE status = 'dismissed') AS dismissed_alerts,
			(SELECT COUNT(*) FROM fraud_cases WHERE status = 'open') AS open_cases,
			(SELECT COUNT(*) FROM fraud_cases WHERE status = 'investigating') AS investigating_cases,
			(SELECT COUNT(*) FROM fraud_cases WHERE status = 'closed') AS closed_cases,
			(SELECT COALESCE(SUM(financial_impact), 0)::float8 FROM fraud_cases) AS impact,
			(SELECT COALESCE(SUM(recovered_amount), 0)::float8 FROM fraud_cases) AS recovered,
			(SELECT COUNT(*) FROM identity_verifications WHERE status = 'pending') AS pending_verifications,
			(SELECT COALESCE(MAX(last_seq), 0) FROM audit_chain_head) AS head_seq
	`

	var stats DashboardStats
	err := h.db.QueryRowContext(ctx, query, since).Scan(
		&stats.Users,
		&stats.Alerts.Active,
		&stats.Alerts.Last24h,
		&stats.Alerts.Resolved,
		&stats.Alerts.Dismissed,
		&stats.Cases.Open,
		&stats.Cases.Investigating,
		&stats.Cases.Closed,
		&stats.Cases.FinancialImpact,
		&stats.Cases.RecoveredAmount,
		&stats.PendingVerifications,
		&stats.AuditHeadSeq,
	)
	if err != nil {
		respond.Error(c, "Failed to load dashboard statistics", err)
		return
	}

	stats.ActiveBySeverity = []SeverityCount{}
	if err := h.db.SelectContext(ctx, &stats.ActiveBySeverity, `
		SELECT severity, COUNT(*) AS count
		FROM fraud_alerts
		WHERE status = 'active'
		GROUP BY severity
		ORDER BY count DESC
	`); err != nil {
		respond.Error(c, "Failed to load dashboard statistics", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
