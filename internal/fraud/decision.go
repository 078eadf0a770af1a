package fraud

import (
	"math/rand/v2"
	"time"

	"github.com/gigmarket/marketplace/internal/config"
)

// Decision is what the interceptor does with a request.
type Decision string

const (
	DecisionAllow     Decision = "allow"
	DecisionFlag      Decision = "flag"
	DecisionChallenge Decision = "challenge"
	DecisionBlock     Decision = "block"
)

// Score bands.
const (
	BlockThreshold     = 90
	ChallengeThreshold = 70
	MediumThreshold    = 50
)

// Severities, derived from score bands.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Decide maps an assessment to a decision by score band.
func Decide(a Assessment) Decision {
	switch {
	case a.RiskScore >= BlockThreshold:
		return DecisionBlock
	case a.RiskScore >= ChallengeThreshold:
		return DecisionChallenge
	case a.RequiresAction:
		return DecisionFlag
	default:
		return DecisionAllow
	}
}

// Severity maps a score to its band. Boundary scores belong to the higher band.
func Severity(score int) string {
	switch {
	case score >= BlockThreshold:
		return SeverityCritical
	case score >= ChallengeThreshold:
		return SeverityHigh
	case score >= MediumThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Blocking reports whether the decision stops the request before the handler.
func (d Decision) Blocking() bool {
	return d == DecisionBlock || d == DecisionChallenge
}

// SampleDecider decides whether a request gets a behavioral audit entry.
type SampleDecider interface {
	Sample() bool
}

// RateSampler samples with probability Rate.
type RateSampler struct {
	Rate float64
}

func (s RateSampler) Sample() bool {
	if s.Rate <= 0 {
		return false
	}
	return rand.Float64() < s.Rate
}

// FixedSampler always returns its own value.
type FixedSampler bool

func (s FixedSampler) Sample() bool { return bool(s) }

// Policy is the hot-reloadable part of the engine's configuration.
type Policy struct {
	Enabled                bool
	SampleRate             float64
	AutoOpenCaseOnCritical bool
	EvaluationTimeout      time.Duration
}

// PolicyFromConfig converts the fraud config section.
func PolicyFromConfig(c config.FraudConfig) Policy {
	return Policy{
		Enabled:                c.Enabled,
		SampleRate:             c.BehaviorSampleRate,
		AutoOpenCaseOnCritical: c.AutoOpenCaseOnCritical,
		EvaluationTimeout:      c.EvaluationTimeout,
	}
}
