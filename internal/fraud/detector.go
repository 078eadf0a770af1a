package fraud

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/safego"
	"github.com/gigmarket/marketplace/internal/telemetry"
)

// BehaviorTable is the audit table name used for sampled request entries.
const BehaviorTable = "user_behavior"

// behaviorWriteTimeout bounds a single sampled write.
const behaviorWriteTimeout = 5 * time.Second

// BehaviorRecorder writes best-effort behavioral entries. *audit.Logger implements it.
type BehaviorRecorder interface {
	RecordBehavior(ctx context.Context, in audit.LogInput)
}

// Outcome is the detector's verdict on one request.
type Outcome struct {
	Assessment Assessment
	Alert      *models.FraudAlert
	// Skipped is set when the request was not evaluated at all.
	Skipped bool
}

// Detector ties collection, rule evaluation, decision and alerting together
// for the request interceptor.
type Detector struct {
	collector *Collector
	alerts    *AlertManager
	recorder  BehaviorRecorder
	sampler   SampleDecider
	policy    atomic.Pointer[Policy]
}

// DetectorOption customizes a Detector.
type DetectorOption func(*Detector)

// WithSampler replaces the policy's rate-based sampling, mainly for tests.
func WithSampler(s SampleDecider) DetectorOption {
	return func(d *Detector) { d.sampler = s }
}

// NewDetector creates a Detector.
func NewDetector(source SignalSource, alerts *AlertManager, recorder BehaviorRecorder, policy Policy, opts ...DetectorOption) *Detector {
	d := &Detector{
		collector: NewCollector(source),
		alerts:    alerts,
		recorder:  recorder,
	}
	d.policy.Store(&policy)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Policy returns the live policy.
func (d *Detector) Policy() Policy {
	return *d.policy.Load()
}

// SetPolicy swaps the live policy. Safe to call while requests are in flight.
func (d *Detector) SetPolicy(p Policy) {
	d.policy.Store(&p)
	slog.Info("fraud: policy updated",
		"enabled", p.Enabled,
		"behavior_sample_rate", p.SampleRate,
		"auto_open_case_on_critical", p.AutoOpenCaseOnCritical)
}

// Assess evaluates rc. Admins, anonymous users and low-risk classes are
// skipped without touching the store. An alert is persisted whenever the
// assessment requires action; failing to persist it is logged and does not
// change the decision.
func (d *Detector) Assess(ctx context.Context, rc *RequestContext) *Outcome {
	policy := d.Policy()
	if !policy.Enabled || rc.UserID == "" || rc.IsAdmin || IsLowRisk(rc.ActionClass) {
		return &Outcome{Skipped: true, Assessment: Assessment{ActionClass: rc.ActionClass, Decision: DecisionAllow}}
	}

	if policy.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.EvaluationTimeout)
		defer cancel()
	}

	start := time.Now()
	signals := d.collector.Collect(ctx, rc)
	a := Evaluate(rc.ActionClass, signals)
	telemetry.FraudEvaluationDuration.Observe(time.Since(start).Seconds())
	telemetry.FraudEvaluationsTotal.WithLabelValues(string(rc.ActionClass), string(a.Decision)).Inc()

	out := &Outcome{Assessment: a}
	if !a.RequiresAction {
		return out
	}

	openCase := policy.AutoOpenCaseOnCritical && a.Severity == SeverityCritical
	alert, err := d.alerts.RecordAlert(ctx, rc, a, openCase)
	if err != nil {
		slog.Error("fraud: failed to persist alert",
			"user_id", rc.UserID, "class", rc.ActionClass, "score", a.RiskScore, "error", err)
	}
	out.Alert = alert

	logFn := slog.Info
	if a.Decision.Blocking() {
		logFn = slog.Warn
	}
	logFn("fraud: risk detected",
		"user_id", rc.UserID,
		"class", rc.ActionClass,
		"score", a.RiskScore,
		"decision", a.Decision,
		"route", rc.RouteName,
		"ip", rc.IP)
	return out
}

// ShouldSample decides whether a request that reached its handler gets a
// behavioral audit entry.
func (d *Detector) ShouldSample() bool {
	if d.sampler != nil {
		return d.sampler.Sample()
	}
	return RateSampler{Rate: d.Policy().SampleRate}.Sample()
}

// RecordRequest writes a sampled REQUEST entry in the background. It never
// blocks or fails the request.
func (d *Detector) RecordRequest(rc *RequestContext, status int) {
	if d.recorder == nil {
		return
	}
	metadata := map[string]interface{}{
		"route":        rc.RouteName,
		"method":       rc.Method,
		"path":         rc.Path,
		"action_class": string(rc.ActionClass),
		"status":       status,
	}
	if len(rc.Telemetry) > 0 {
		metadata["telemetry"] = rc.Telemetry
	}
	in := audit.LogInput{
		TableName: BehaviorTable,
		Action:    models.AuditActionRequest,
		RecordID:  rc.UserID,
		UserID:    rc.UserID,
		UserType:  models.UserTypeUser,
		Metadata:  metadata,
		IPAddress: rc.IP,
		UserAgent: rc.UserAgent,
		SessionID: rc.SessionID,
	}
	safego.Go("fraud.behavior_record", func() {
		ctx, cancel := context.WithTimeout(context.Background(), behaviorWriteTimeout)
		defer cancel()
		d.recorder.RecordBehavior(ctx, in)
	})
}
