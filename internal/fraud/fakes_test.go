package fraud

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/db"
	"github.com/gigmarket/marketplace/internal/db/models"
)

var errStore = errors.New("store unavailable")

// fakeSource serves fixed signal values and records which queries ran.
type fakeSource struct {
	mu sync.Mutex

	payments       int
	avgPayment     float64
	completed      int
	whole          int
	profileChanges int
	bids           int
	avgBid         float64
	projects       int
	messages       int
	requestsFromIP int
	email          string
	fail           map[string]error
	panicOn        string
	calls          []string
}

func (f *fakeSource) hit(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.panicOn == name {
		panic("signal query exploded")
	}
	return f.fail[name]
}

func (f *fakeSource) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSource) CountPayments(context.Context, string, time.Time) (int, error) {
	return f.payments, f.hit("payments")
}

func (f *fakeSource) AveragePaymentAmount(context.Context, string) (float64, error) {
	return f.avgPayment, f.hit("avg_payment")
}

func (f *fakeSource) CompletedPaymentStats(context.Context, string, time.Time) (int, int, error) {
	return f.completed, f.whole, f.hit("completed_stats")
}

func (f *fakeSource) CountProfileChanges(context.Context, string, time.Time) (int, error) {
	return f.profileChanges, f.hit("profile_changes")
}

func (f *fakeSource) CountBids(context.Context, string, time.Time) (int, error) {
	return f.bids, f.hit("bids")
}

func (f *fakeSource) AverageBidAmount(context.Context, string) (float64, error) {
	return f.avgBid, f.hit("avg_bid")
}

func (f *fakeSource) CountProjects(context.Context, string, time.Time) (int, error) {
	return f.projects, f.hit("projects")
}

func (f *fakeSource) CountMessages(context.Context, string, time.Time) (int, error) {
	return f.messages, f.hit("messages")
}

func (f *fakeSource) CountRequestsFromIP(context.Context, string, string, time.Time) (int, error) {
	return f.requestsFromIP, f.hit("requests_from_ip")
}

func (f *fakeSource) CurrentEmail(context.Context, string) (string, error) {
	return f.email, f.hit("email")
}

// hotSource would fire every rule of every class.
func hotSource() *fakeSource {
	return &fakeSource{
		payments: 10, avgPayment: 10, completed: 10, whole: 10,
		profileChanges: 5, bids: 20, avgBid: 10, projects: 10, messages: 50,
		requestsFromIP: 500, email: "old@example.com",
	}
}

// memAlerts is an in-memory AlertStore.
type memAlerts struct {
	mu        sync.Mutex
	rows      map[string]*models.FraudAlert
	createErr error
}

func newMemAlerts() *memAlerts {
	return &memAlerts{rows: map[string]*models.FraudAlert{}}
}

func (m *memAlerts) CreateAlert(_ context.Context, _ db.DBTX, a *models.FraudAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *a
	m.rows[a.ID] = &cp
	return nil
}

func (m *memAlerts) GetAlert(_ context.Context, id string) (*models.FraudAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memAlerts) ListAlerts(_ context.Context, f models.FraudAlertFilter) ([]*models.FraudAlert, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FraudAlert
	for _, a := range m.rows {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out, len(out), nil
}

func (m *memAlerts) UpdateAlertStatus(_ context.Context, _ db.DBTX, a *models.FraudAlert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[a.ID]
	if !ok || cur.Status != models.AlertStatusActive {
		return false, nil
	}
	cp := *a
	m.rows[a.ID] = &cp
	return true, nil
}

func (m *memAlerts) LinkAlert(_ context.Context, _ db.DBTX, alertID, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[alertID]
	if !ok {
		return sql.ErrNoRows
	}
	id := caseID
	a.CaseID = &id
	return nil
}

func (m *memAlerts) ListAlertsByCase(_ context.Context, caseID string) ([]*models.FraudAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FraudAlert
	for _, a := range m.rows {
		if a.CaseID != nil && *a.CaseID == caseID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memAlerts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memCases is an in-memory CaseStore that sums impact from a memAlerts.
type memCases struct {
	mu     sync.Mutex
	rows   map[string]*models.FraudCase
	alerts *memAlerts
}

func newMemCases(alerts *memAlerts) *memCases {
	return &memCases{rows: map[string]*models.FraudCase{}, alerts: alerts}
}

func (m *memCases) CreateCase(_ context.Context, _ db.DBTX, c *models.FraudCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *memCases) GetCase(_ context.Context, id string) (*models.FraudCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memCases) LockCase(ctx context.Context, _ db.DBTX, id string) (*models.FraudCase, error) {
	return m.GetCase(ctx, id)
}

func (m *memCases) FindOpenCase(_ context.Context, _ db.DBTX, userID string) (*models.FraudCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.UserID == userID && !c.IsClosed() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memCases) ListCases(_ context.Context, status string, _, _ int) ([]*models.FraudCase, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FraudCase
	for _, c := range m.rows {
		if status == "" || c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *memCases) UpdateCase(_ context.Context, _ db.DBTX, c *models.FraudCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[c.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *memCases) RecomputeFinancialImpact(ctx context.Context, _ db.DBTX, caseID string) (float64, error) {
	linked, _ := m.alerts.ListAlertsByCase(ctx, caseID)
	var sum float64
	for _, a := range linked {
		if a.Amount != nil {
			sum += *a.Amount
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rows[caseID]; ok {
		c.FinancialImpact = sum
	}
	return sum, nil
}

// fakeTrail runs fn without a database and keeps the recorded entries.
// Entries recorded in a failed transaction are discarded.
type fakeTrail struct {
	mu        sync.Mutex
	entries   []audit.LogInput
	recordErr error
}

func (f *fakeTrail) Transact(_ context.Context, fn func(tx *sql.Tx, record audit.RecordFunc) error) error {
	var pending []audit.LogInput
	err := fn(nil, func(in audit.LogInput) error {
		if f.recordErr != nil {
			return f.recordErr
		}
		pending = append(pending, in)
		return nil
	})
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.entries = append(f.entries, pending...)
	f.mu.Unlock()
	return nil
}

func (f *fakeTrail) recorded() []audit.LogInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audit.LogInput(nil), f.entries...)
}

// fakeRecorder captures behavioral entries.
type fakeRecorder struct {
	got chan audit.LogInput
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{got: make(chan audit.LogInput, 10)}
}

func (f *fakeRecorder) RecordBehavior(_ context.Context, in audit.LogInput) {
	f.got <- in
}

func floatPtr(v float64) *float64 { return &v }
