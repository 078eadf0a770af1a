package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollect_OnlyQueriesSignalsForClass(t *testing.T) {
	tests := []struct {
		class ActionClass
		want  []string
	}{
		{ClassPayment, []string{"payments", "avg_payment", "completed_stats"}},
		{ClassProfileUpdate, []string{"profile_changes"}},
		{ClassBid, []string{"bids", "avg_bid"}},
		{ClassProjectCreation, []string{"projects"}},
		{ClassMessaging, []string{"messages"}},
		{ClassLogin, []string{"requests_from_ip"}},
		{ClassFormSubmission, []string{"requests_from_ip"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			src := &fakeSource{}
			NewCollector(src).Collect(context.Background(), &RequestContext{
				UserID: "u1", IP: "10.0.0.1", ActionClass: tt.class, Now: time.Now(),
			})
			assert.Equal(t, tt.want, src.called())
		})
	}
}

func TestCollect_PaymentSignals(t *testing.T) {
	src := &fakeSource{payments: 2, avgPayment: 40, completed: 5, whole: 4}
	s := NewCollector(src).Collect(context.Background(), &RequestContext{
		UserID: "u1", ActionClass: ClassPayment, Amount: floatPtr(99),
	})
	assert.Equal(t, 3, s.RecentPayments, "two stored payments plus the one being assessed")
	assert.Equal(t, 40.0, s.AvgCompletedPayment)
	assert.Equal(t, 5, s.CompletedPayments24h)
	assert.Equal(t, 4, s.WholeNumberPayments24h)
	assert.Equal(t, 99.0, *s.Amount)
	assert.Empty(t, s.Failed)
}

func TestCollect_WindowCountsIncludeAttempt(t *testing.T) {
	src := &fakeSource{payments: 2, profileChanges: 1, bids: 4, projects: 2, messages: 9}
	collect := func(class ActionClass) Signals {
		return NewCollector(src).Collect(context.Background(), &RequestContext{UserID: "u1", ActionClass: class})
	}
	assert.Equal(t, 3, collect(ClassPayment).RecentPayments)
	assert.Equal(t, 2, collect(ClassProfileUpdate).ProfileChanges)
	assert.Equal(t, 5, collect(ClassBid).RecentBids)
	assert.Equal(t, 3, collect(ClassProjectCreation).RecentProjects)
	assert.Equal(t, 10, collect(ClassMessaging).RecentMessages)
}

func TestCollect_FailingQueryIsZero(t *testing.T) {
	src := &fakeSource{payments: 9, avgPayment: 10, completed: 3, whole: 3, fail: map[string]error{
		"payments":        errStore,
		"completed_stats": errStore,
	}}
	s := NewCollector(src).Collect(context.Background(), &RequestContext{UserID: "u1", ActionClass: ClassPayment})
	assert.Zero(t, s.RecentPayments)
	assert.Zero(t, s.CompletedPayments24h)
	assert.Zero(t, s.WholeNumberPayments24h)
	assert.Equal(t, 10.0, s.AvgCompletedPayment)
	assert.ElementsMatch(t, []string{"recent_payments", "completed_payment_stats"}, s.Failed)

	a := Evaluate(ClassPayment, s)
	assert.False(t, a.RequiresAction, "a broken signal must not raise risk")
}

func TestCollect_EmailChange(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		fail   bool
		want   bool
	}{
		{"different email", map[string]string{"email": "new@example.com"}, false, true},
		{"same email different case", map[string]string{"email": " Old@Example.com "}, false, false},
		{"no email field", map[string]string{"headline": "x"}, false, false},
		{"empty email field", map[string]string{"email": ""}, false, false},
		{"lookup fails", map[string]string{"email": "new@example.com"}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{email: "old@example.com"}
			if tt.fail {
				src.fail = map[string]error{"email": errStore}
			}
			s := NewCollector(src).Collect(context.Background(), &RequestContext{
				UserID: "u1", ActionClass: ClassProfileUpdate, Fields: tt.fields,
			})
			assert.Equal(t, tt.want, s.EmailChanged)
		})
	}
}

func TestCollect_GeneralWithoutIPSkipsQuery(t *testing.T) {
	src := &fakeSource{requestsFromIP: 99}
	s := NewCollector(src).Collect(context.Background(), &RequestContext{UserID: "u1", ActionClass: ClassLogin})
	assert.Zero(t, s.RequestsFromIP)
	assert.Empty(t, src.called())
}

func TestCollect_PassesTelemetryThrough(t *testing.T) {
	tel := map[string]any{"typing_cadence": []any{120.0, 95.0}, "tab_switches": "3"}
	s := NewCollector(&fakeSource{}).Collect(context.Background(), &RequestContext{
		UserID: "u1", ActionClass: ClassMessaging, Telemetry: tel,
	})
	assert.Equal(t, tel, s.Telemetry)
}
