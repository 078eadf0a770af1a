package fraud

// Assessment is the outcome of evaluating one request.
type Assessment struct {
	ActionClass     ActionClass `json:"action_class"`
	RequiresAction  bool        `json:"requires_action"`
	RiskScore       int         `json:"risk_score"`
	Alerts          []string    `json:"alerts"`
	Recommendations []string    `json:"recommendations"`
	Decision        Decision    `json:"decision"`
	Severity        string      `json:"severity,omitempty"`
}

// accumulator folds fired rules: the score is the max of contributions,
// messages append, and requires_action is true once anything fires.
type accumulator struct {
	score  int
	fired  bool
	alerts []string
	recs   []string
}

func (a *accumulator) fire(score int, alert, recommendation string) {
	a.fired = true
	if score > a.score {
		a.score = score
	}
	a.alerts = append(a.alerts, alert)
	a.recs = append(a.recs, recommendation)
}

func (a *accumulator) assessment(class ActionClass) Assessment {
	score := a.score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	out := Assessment{
		ActionClass:     class,
		RequiresAction:  a.fired,
		RiskScore:       score,
		Alerts:          a.alerts,
		Recommendations: a.recs,
	}
	if out.Alerts == nil {
		out.Alerts = []string{}
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	out.Decision = Decide(out)
	if out.RequiresAction {
		out.Severity = Severity(out.RiskScore)
	}
	return out
}

// Rule thresholds and score contributions.
const (
	paymentBurstCount     = 3
	paymentBurstScore     = 75
	paymentAmountFactor   = 3.0
	paymentAmountScore    = 60
	roundPaymentRatio     = 0.8
	roundPaymentScore     = 80
	profileChangeCount    = 2
	profileChangeScore    = 70
	emailChangeScore      = 85
	bidBurstCount         = 5
	bidBurstScore         = 65
	bidAmountFactor       = 2.0
	bidAmountScore        = 55
	projectBurstCount     = 3
	projectBurstScore     = 60
	messageBurstCount     = 10
	messageBurstScore     = 50
	requestBurstThreshold = 50
	requestBurstScore     = 40
)

// Evaluate runs the rule set for class over s. Rules never perform I/O.
func Evaluate(class ActionClass, s Signals) Assessment {
	var acc accumulator
	switch class {
	case ClassPayment:
		evaluatePayment(&acc, s)
	case ClassProfileUpdate:
		evaluateProfile(&acc, s)
	case ClassBid:
		evaluateBid(&acc, s)
	case ClassProjectCreation:
		evaluateProject(&acc, s)
	case ClassMessaging:
		evaluateMessaging(&acc, s)
	default:
		if !IsLowRisk(class) {
			evaluateGeneral(&acc, s)
		}
	}
	return acc.assessment(class)
}

func evaluatePayment(acc *accumulator, s Signals) {
	if s.RecentPayments >= paymentBurstCount {
		acc.fire(paymentBurstScore,
			"Multiple payments submitted within 5 minutes",
			"Verify the payments with the account holder before releasing funds")
	}
	if s.Amount != nil && s.AvgCompletedPayment > 0 && *s.Amount > paymentAmountFactor*s.AvgCompletedPayment {
		acc.fire(paymentAmountScore,
			"Payment amount is more than three times the user's average",
			"Confirm the payment amount with the user")
	}
	if s.CompletedPayments24h > 0 {
		ratio := float64(s.WholeNumberPayments24h) / float64(s.CompletedPayments24h)
		if ratio > roundPaymentRatio {
			acc.fire(roundPaymentScore,
				"Most payments in the last 24 hours are round amounts",
				"Review recent payments for structuring or testing of stolen cards")
		}
	}
}

func evaluateProfile(acc *accumulator, s Signals) {
	if s.ProfileChanges >= profileChangeCount {
		acc.fire(profileChangeScore,
			"Profile changed repeatedly within the last hour",
			"Check for account takeover")
	}
	if s.EmailChanged {
		acc.fire(emailChangeScore,
			"Account email address change requested",
			"Require verification of the new email address")
	}
}

func evaluateBid(acc *accumulator, s Signals) {
	if s.RecentBids >= bidBurstCount {
		acc.fire(bidBurstScore,
			"Many bids placed within 10 minutes",
			"Check for automated bidding")
	}
	if s.Amount != nil && s.AvgBidAmount > 0 && *s.Amount > bidAmountFactor*s.AvgBidAmount {
		acc.fire(bidAmountScore,
			"Bid amount is more than twice the user's average bid",
			"Review the bid for price manipulation")
	}
}

func evaluateProject(acc *accumulator, s Signals) {
	if s.RecentProjects >= projectBurstCount {
		acc.fire(projectBurstScore,
			"Several projects created within 2 hours",
			"Review the projects for spam or scam listings")
	}
}

func evaluateMessaging(acc *accumulator, s Signals) {
	if s.RecentMessages >= messageBurstCount {
		acc.fire(messageBurstScore,
			"High volume of messages sent within 5 minutes",
			"Check messages for spam or off-platform solicitation")
	}
}

func evaluateGeneral(acc *accumulator, s Signals) {
	if s.RequestsFromIP > requestBurstThreshold {
		acc.fire(requestBurstScore,
			"Unusually high request rate from this IP address",
			"Monitor the session for automation")
	}
}
