package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gigmarket/marketplace/internal/fraud"
	"github.com/gigmarket/marketplace/internal/telemetry"
	"github.com/gin-gonic/gin"
)

const (
	// RouteNameKey holds the dotted route name set by Named.
	RouteNameKey = "route_name"
	// FraudWarningKey holds a *FraudWarning when a request was flagged but allowed.
	FraudWarningKey = "fraud_warning"
	// FraudWarningHeader is set on flagged responses.
	FraudWarningHeader = "X-Fraud-Warning"
	// SessionIDHeader lets clients correlate requests of one browsing session.
	SessionIDHeader = "X-Session-ID"

	flashAlertCookie   = "fraud_alert"
	flashWarningCookie = "fraud_warning"

	maxInspectedBody = 1 << 20
)

// Caller-facing messages. They never carry rule or score details.
const (
	blockedMessage   = "This action was blocked for your protection. Please contact support if you believe this is a mistake."
	challengeMessage = "Additional verification is required before this action can be completed."
	flaggedMessage   = "This activity has been flagged for review. You may continue."
)

// FraudWarning is merged into JSON responses of flagged requests.
type FraudWarning struct {
	Warning string `json:"warning"`
	Message string `json:"message"`
}

type fraudOptions struct {
	class fraud.ActionClass
}

// FraudOption customizes FraudMiddleware for one route.
type FraudOption func(*fraudOptions)

// WithActionClass pins the action class instead of inferring it from the route name.
func WithActionClass(class fraud.ActionClass) FraudOption {
	return func(o *fraudOptions) { o.class = class }
}

// Named records the route name used for action-class inference and logs.
func Named(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(RouteNameKey, name)
		c.Next()
	}
}

// FraudMiddleware assesses authenticated, non-admin requests before the handler runs.
//
// Block and challenge decisions short-circuit the request; flagged requests continue
// with a warning attached. Anything that goes wrong inside the assessment is logged
// and the request proceeds as if nothing was detected. Requests that reach the
// handler are sampled for behavioral audit entries.
func FraudMiddleware(detector *fraud.Detector, opts ...FraudOption) gin.HandlerFunc {
	var o fraudOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(c *gin.Context) {
		if !detector.Policy().Enabled {
			c.Next()
			return
		}
		user := CurrentUser(c)
		if user == nil || user.IsAdmin() {
			c.Next()
			return
		}

		rc := buildRequestContext(c, o.class)
		rc.UserID = user.ID
		rc.UserEmail = user.Email
		rc.Role = user.Role

		if out := safeAssess(c, detector, rc); out != nil && !out.Skipped {
			switch out.Assessment.Decision {
			case fraud.DecisionBlock, fraud.DecisionChallenge:
				writeDecision(c, out.Assessment.Decision)
				return
			case fraud.DecisionFlag:
				flag(c)
			}
		}

		c.Next()

		if detector.ShouldSample() {
			detector.RecordRequest(rc, c.Writer.Status())
		}
	}
}

// safeAssess runs the detector and turns a panic into "nothing detected".
func safeAssess(c *gin.Context, detector *fraud.Detector, rc *fraud.RequestContext) (out *fraud.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.FraudEvaluationFailuresTotal.Inc()
			slog.Error("fraud: evaluation failed, allowing request",
				"panic", r,
				"user_id", rc.UserID,
				"route", rc.RouteName,
				"request_id", c.GetString(RequestIDKey))
			out = nil
		}
	}()
	return detector.Assess(c.Request.Context(), rc)
}

func buildRequestContext(c *gin.Context, override fraud.ActionClass) *fraud.RequestContext {
	route := c.GetString(RouteNameKey)
	if route == "" {
		route = c.FullPath()
	}
	// token id first: the client cannot choose it
	session := c.GetString(ContextSessionKey)
	if session == "" {
		session = c.GetHeader(SessionIDHeader)
	}
	if session == "" {
		session = c.GetString(RequestIDKey)
	}

	rc := &fraud.RequestContext{
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		SessionID:   session,
		RouteName:   route,
		Method:      c.Request.Method,
		Path:        c.Request.URL.Path,
		ActionClass: fraud.ResolveActionClass(override, route, c.Request.Method),
		Now:         time.Now().UTC(),
	}

	body := readBody(c.Request)
	if len(body) == 0 {
		return rc
	}
	rc.Fields = make(map[string]string, len(body))
	for k, v := range body {
		if s, ok := scalarString(v); ok {
			rc.Fields[k] = s
		}
	}
	if s, ok := rc.Fields["amount"]; ok {
		if amount, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(amount) && !math.IsInf(amount, 0) {
			rc.Amount = &amount
		}
	}
	for _, name := range fraud.TelemetryFields {
		if v, ok := body[name]; ok {
			if rc.Telemetry == nil {
				rc.Telemetry = make(map[string]any, len(fraud.TelemetryFields))
			}
			rc.Telemetry[name] = v
		}
	}
	return rc
}

// readBody decodes a JSON object or form body and puts the bytes back so the
// handler reads the request unchanged. Bodies beyond maxInspectedBody are not
// inspected.
func readBody(r *http.Request) map[string]any {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" && mediaType != "application/x-www-form-urlencoded" {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxInspectedBody+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), r.Body), r.Body}
	if err != nil || len(raw) == 0 || len(raw) > maxInspectedBody {
		return nil
	}

	if mediaType == "application/json" {
		var m map[string]any
		if json.Unmarshal(raw, &m) != nil {
			return nil
		}
		return m
	}

	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil
	}
	m := make(map[string]any, len(values))
	for k := range values {
		m[k] = values.Get(k)
	}
	return m
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// wantsJSON reports whether the caller is an API client rather than a page.
func wantsJSON(c *gin.Context) bool {
	return strings.HasPrefix(c.Request.URL.Path, "/api/") ||
		strings.Contains(c.GetHeader("Accept"), "application/json") ||
		c.GetHeader("X-Requested-With") == "XMLHttpRequest"
}

// writeDecision aborts the request for a block or challenge.
func writeDecision(c *gin.Context, d fraud.Decision) {
	if !wantsJSON(c) {
		msg := blockedMessage
		if d == fraud.DecisionChallenge {
			msg = challengeMessage
		}
		setFlash(c, flashAlertCookie, msg)
		c.Redirect(http.StatusFound, redirectBack(c))
		c.Abort()
		return
	}

	if d == fraud.DecisionChallenge {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":                 "verification_required",
			"message":               challengeMessage,
			"verification_required": true,
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":   "fraud_detected",
		"message": blockedMessage,
	})
}

func flag(c *gin.Context) {
	w := &FraudWarning{Warning: "activity_flagged", Message: flaggedMessage}
	c.Set(FraudWarningKey, w)
	c.Header(FraudWarningHeader, w.Warning)
	if !wantsJSON(c) {
		setFlash(c, flashWarningCookie, w.Message)
	}
}

func setFlash(c *gin.Context, name, msg string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// isLocalPath rejects paths a browser would resolve against another host:
// "//host/x" and "/\host/x" are protocol-relative.
func isLocalPath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	return len(p) == 1 || (p[1] != '/' && p[1] != '\\')
}

// redirectBack returns the Referer when it points at this host, otherwise "/".
func redirectBack(c *gin.Context) string {
	ref := c.GetHeader("Referer")
	if ref == "" {
		return "/"
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Host != "" && u.Host != c.Request.Host) {
		return "/"
	}
	if !isLocalPath(u.Path) {
		return "/"
	}
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}
