// Package fraud scores marketplace requests for fraud risk.
//
// A request is classified into an ActionClass, the signals relevant to that
// class are collected from the store, a fixed rule table turns them into an
// Assessment, and the assessment's score selects a Decision. Assessments that
// require action are persisted as FraudAlerts, which admins triage and group
// into FraudCases.
package fraud

import "strings"

// ActionClass identifies the kind of user action being assessed.
type ActionClass string

const (
	ClassPayment         ActionClass = "payment"
	ClassProfileUpdate   ActionClass = "profile_update"
	ClassBid             ActionClass = "bid"
	ClassProjectCreation ActionClass = "project_creation"
	ClassMessaging       ActionClass = "messaging"
	ClassLogin           ActionClass = "login"
	ClassFormSubmission  ActionClass = "form_submission"
	ClassGeneralActivity ActionClass = "general_activity"
	ClassPageView        ActionClass = "page_view"
	ClassStaticContent   ActionClass = "static_content"
	ClassHealthCheck     ActionClass = "health_check"
)

// routeKeywords is checked in order; the first keyword contained in the route
// name wins.
var routeKeywords = []struct {
	keyword string
	class   ActionClass
}{
	{"login", ClassLogin},
	{"message", ClassMessaging},
	{"bid", ClassBid},
	{"payment", ClassPayment},
	{"profile", ClassProfileUpdate},
	{"project", ClassProjectCreation},
}

// ResolveActionClass picks the class for a request. An explicit override wins;
// otherwise the route name is matched against the keyword table, unmatched
// POSTs are form submissions and everything else is general activity.
func ResolveActionClass(override ActionClass, routeName, method string) ActionClass {
	if override != "" {
		return override
	}
	name := strings.ToLower(routeName)
	for _, k := range routeKeywords {
		if strings.Contains(name, k.keyword) {
			return k.class
		}
	}
	if strings.EqualFold(method, "POST") {
		return ClassFormSubmission
	}
	return ClassGeneralActivity
}

// IsLowRisk reports whether requests of this class skip evaluation entirely.
func IsLowRisk(c ActionClass) bool {
	switch c {
	case ClassGeneralActivity, ClassPageView, ClassStaticContent, ClassHealthCheck:
		return true
	}
	return false
}

// Valid reports whether c is one of the known classes.
func (c ActionClass) Valid() bool {
	switch c {
	case ClassPayment, ClassProfileUpdate, ClassBid, ClassProjectCreation, ClassMessaging,
		ClassLogin, ClassFormSubmission, ClassGeneralActivity, ClassPageView,
		ClassStaticContent, ClassHealthCheck:
		return true
	}
	return false
}
