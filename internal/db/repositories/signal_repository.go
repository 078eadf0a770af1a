// signal_repository.go implements SignalRepository, the read-only queries behind
// the fraud detector's per-user activity signals.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gigmarket/marketplace/internal/db/models"
)

// SignalRepository answers windowed activity counts for one user
type SignalRepository struct {
	db *sqlx.DB
}

// NewSignalRepository creates a new signal repository
func NewSignalRepository(db *sqlx.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

func (r *SignalRepository) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

// CountPayments counts payments the user made since the given time, in any status
func (r *SignalRepository) CountPayments(ctx context.Context, userID string, since time.Time) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM payments WHERE payer_id = $1 AND created_at >= $2`, userID, since)
}

// AveragePaymentAmount is the mean of the user's completed payments, 0 with no history
func (r *SignalRepository) AveragePaymentAmount(ctx context.Context, userID string) (float64, error) {
	var avg sql.NullFloat64
	err := r.db.GetContext(ctx, &avg,
		`SELECT AVG(amount)::float8 FROM payments WHERE payer_id = $1 AND status = $2`,
		userID, models.PaymentStatusCompleted)
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

// CompletedPaymentStats returns how many payments completed since the given time
// and how many of those were whole-number amounts.
func (r *SignalRepository) CompletedPaymentStats(ctx context.Context, userID string, since time.Time) (int, int, error) {
	var stats struct {
		Total int `db:"total"`
		Whole int `db:"whole"`
	}
	err := r.db.GetContext(ctx, &stats, `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE amount = TRUNC(amount)) AS whole
		FROM payments
		WHERE payer_id = $1 AND status = $2 AND created_at >= $3`,
		userID, models.PaymentStatusCompleted, since)
	if err != nil {
		return 0, 0, err
	}
	return stats.Total, stats.Whole, nil
}

// CountProfileChanges counts audited profile writes by the user. The audit log is
// the only place that keeps each change; the profiles row holds just the latest.
func (r *SignalRepository) CountProfileChanges(ctx context.Context, userID string, since time.Time) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM audit_logs
		WHERE table_name = 'profiles' AND action IN ($1, $2) AND user_id = $3 AND created_at >= $4`,
		models.AuditActionCreate, models.AuditActionUpdate, userID, since)
}

// CountBids counts bids the user placed since the given time
func (r *SignalRepository) CountBids(ctx context.Context, userID string, since time.Time) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM bids WHERE freelancer_id = $1 AND created_at >= $2`, userID, since)
}

// AverageBidAmount is the mean of all the user's bids, 0 with no history
func (r *SignalRepository) AverageBidAmount(ctx context.Context, userID string) (float64, error) {
	var avg sql.NullFloat64
	if err := r.db.GetContext(ctx, &avg, `SELECT AVG(amount)::float8 FROM bids WHERE freelancer_id = $1`, userID); err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

// CountProjects counts projects the user posted since the given time
func (r *SignalRepository) CountProjects(ctx context.Context, userID string, since time.Time) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM projects WHERE client_id = $1 AND created_at >= $2`, userID, since)
}

// CountMessages counts messages the user sent since the given time
func (r *SignalRepository) CountMessages(ctx context.Context, userID string, since time.Time) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM messages WHERE sender_id = $1 AND created_at >= $2`, userID, since)
}

// CountRequestsFromIP counts the user's audited activity from one IP address.
// Sampled behavior entries are part of it, so the count is a lower bound.
func (r *SignalRepository) CountRequestsFromIP(ctx context.Context, userID, ip string, since time.Time) (int, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE user_id = $1 AND ip_address = $2 AND created_at >= $3`,
		userID, ip, since)
}

// CurrentEmail returns the user's stored email, or "" for an unknown user
func (r *SignalRepository) CurrentEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.db.GetContext(ctx, &email, `SELECT email FROM users WHERE id = $1`, userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return email, err
}
