package fraud

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"
)

// Trailing windows used by the rule table.
const (
	PaymentBurstWindow  = 5 * time.Minute
	RoundPaymentWindow  = 24 * time.Hour
	ProfileChangeWindow = time.Hour
	BidBurstWindow      = 10 * time.Minute
	ProjectBurstWindow  = 2 * time.Hour
	MessageBurstWindow  = 5 * time.Minute
	RequestBurstWindow  = time.Minute
)

// TelemetryFields are the client-supplied behavioral inputs carried through
// to sampled audit entries without validation.
var TelemetryFields = []string{"typing_cadence", "mouse_movements", "time_on_form", "tab_switches"}

// RequestContext is everything the engine knows about the request being
// assessed. It is built once by the interceptor and passed down explicitly.
type RequestContext struct {
	UserID      string
	UserEmail   string
	Role        string
	IsAdmin     bool
	IP          string
	UserAgent   string
	SessionID   string
	RouteName   string
	Method      string
	Path        string
	ActionClass ActionClass
	Now         time.Time
	Amount      *float64
	Fields      map[string]string
	Telemetry   map[string]any
}

// SignalSource answers the historical questions the rules ask. Every windowed
// count covers rows created at or after since.
type SignalSource interface {
	CountPayments(ctx context.Context, userID string, since time.Time) (int, error)
	// AveragePaymentAmount is the mean amount over all of the user's completed payments.
	AveragePaymentAmount(ctx context.Context, userID string) (float64, error)
	// CompletedPaymentStats returns how many completed payments the user made since,
	// and how many of those were whole-number amounts.
	CompletedPaymentStats(ctx context.Context, userID string, since time.Time) (total, whole int, err error)
	// CountProfileChanges counts CREATE/UPDATE audit entries on the profiles table.
	CountProfileChanges(ctx context.Context, userID string, since time.Time) (int, error)
	CountBids(ctx context.Context, userID string, since time.Time) (int, error)
	AverageBidAmount(ctx context.Context, userID string) (float64, error)
	CountProjects(ctx context.Context, userID string, since time.Time) (int, error)
	CountMessages(ctx context.Context, userID string, since time.Time) (int, error)
	// CountRequestsFromIP counts audit entries for the user from ip.
	CountRequestsFromIP(ctx context.Context, userID, ip string, since time.Time) (int, error)
	CurrentEmail(ctx context.Context, userID string) (string, error)
}

// Signals is the bundle a rule evaluator reads. Only the fields relevant to
// the action class are populated.
type Signals struct {
	Class  ActionClass
	Amount *float64

	RecentPayments         int
	AvgCompletedPayment    float64
	CompletedPayments24h   int
	WholeNumberPayments24h int

	ProfileChanges int
	EmailChanged   bool

	RecentBids   int
	AvgBidAmount float64

	RecentProjects int
	RecentMessages int

	RequestsFromIP int

	Telemetry map[string]any

	// Failed lists signals whose query failed and were treated as zero.
	Failed []string
}

// Collector gathers signals for a request. Query failures are logged and the
// affected signal is left at zero, so a broken query can never produce a block.
type Collector struct {
	source SignalSource
}

// NewCollector creates a Collector backed by source.
func NewCollector(source SignalSource) *Collector {
	return &Collector{source: source}
}

// Collect gathers the signals needed to evaluate rc.ActionClass.
func (c *Collector) Collect(ctx context.Context, rc *RequestContext) Signals {
	s := Signals{
		Class:     rc.ActionClass,
		Amount:    rc.Amount,
		Telemetry: rc.Telemetry,
	}
	now := rc.Now
	if now.IsZero() {
		now = time.Now()
	}
	uid := rc.UserID

	count := func(name string, fn func() (int, error)) int {
		n, err := fn()
		if err != nil {
			c.fail(&s, name, uid, err)
			return 0
		}
		return n
	}
	// withAttempt counts the action being assessed into its own window. The
	// row does not exist yet, so "3rd payment in 5 minutes" is two stored
	// payments plus this one. A failed query stays at zero.
	withAttempt := func(name string, fn func() (int, error)) int {
		n, err := fn()
		if err != nil {
			c.fail(&s, name, uid, err)
			return 0
		}
		return n + 1
	}
	average := func(name string, fn func() (float64, error)) float64 {
		v, err := fn()
		if err != nil || math.IsNaN(v) {
			c.fail(&s, name, uid, err)
			return 0
		}
		return v
	}

	switch rc.ActionClass {
	case ClassPayment:
		s.RecentPayments = withAttempt("recent_payments", func() (int, error) {
			return c.source.CountPayments(ctx, uid, now.Add(-PaymentBurstWindow))
		})
		s.AvgCompletedPayment = average("avg_completed_payment", func() (float64, error) {
			return c.source.AveragePaymentAmount(ctx, uid)
		})
		total, whole, err := c.source.CompletedPaymentStats(ctx, uid, now.Add(-RoundPaymentWindow))
		if err != nil {
			c.fail(&s, "completed_payment_stats", uid, err)
		} else {
			s.CompletedPayments24h, s.WholeNumberPayments24h = total, whole
		}

	case ClassProfileUpdate:
		s.ProfileChanges = withAttempt("profile_changes", func() (int, error) {
			return c.source.CountProfileChanges(ctx, uid, now.Add(-ProfileChangeWindow))
		})
		if email, ok := rc.Fields["email"]; ok && email != "" {
			current, err := c.source.CurrentEmail(ctx, uid)
			if err != nil {
				c.fail(&s, "current_email", uid, err)
			} else {
				s.EmailChanged = !strings.EqualFold(strings.TrimSpace(email), current)
			}
		}

	case ClassBid:
		s.RecentBids = withAttempt("recent_bids", func() (int, error) {
			return c.source.CountBids(ctx, uid, now.Add(-BidBurstWindow))
		})
		s.AvgBidAmount = average("avg_bid_amount", func() (float64, error) {
			return c.source.AverageBidAmount(ctx, uid)
		})

	case ClassProjectCreation:
		s.RecentProjects = withAttempt("recent_projects", func() (int, error) {
			return c.source.CountProjects(ctx, uid, now.Add(-ProjectBurstWindow))
		})

	case ClassMessaging:
		s.RecentMessages = withAttempt("recent_messages", func() (int, error) {
			return c.source.CountMessages(ctx, uid, now.Add(-MessageBurstWindow))
		})

	default:
		if rc.IP != "" {
			s.RequestsFromIP = count("requests_from_ip", func() (int, error) {
				return c.source.CountRequestsFromIP(ctx, uid, rc.IP, now.Add(-RequestBurstWindow))
			})
		}
	}

	return s
}

func (c *Collector) fail(s *Signals, name, userID string, err error) {
	s.Failed = append(s.Failed, name)
	slog.Warn("fraud: signal unavailable, treating as zero",
		"signal", name, "user_id", userID, "class", s.Class, "error", err)
}
