// Package respond holds the JSON response helpers shared by the marketplace and
// admin handlers: fraud warning merging, error mapping, pagination and actor
// extraction.
package respond

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/fraud"
	"github.com/gigmarket/marketplace/internal/middleware"
	"github.com/gigmarket/marketplace/internal/storage"
)

// debugKey marks requests whose error responses may carry internal details.
const debugKey = "debug_errors"

// DebugMode enables error details for administrators when the server runs with
// server.debug. Non-admin callers never see them.
func DebugMode(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(debugKey, enabled)
		c.Next()
	}
}

// JSON writes body, adding the fraud warning when the request was flagged.
func JSON(c *gin.Context, status int, body gin.H) {
	if v, ok := c.Get(middleware.FraudWarningKey); ok {
		if w, ok := v.(*middleware.FraudWarning); ok && w != nil {
			body["warning"] = w.Warning
			body["message"] = w.Message
		}
	}
	c.JSON(status, body)
}

// BadRequest reports a malformed request body.
func BadRequest(c *gin.Context, err error) {
	body := gin.H{"error": "Invalid request body"}
	withDetails(c, body, err)
	c.JSON(http.StatusBadRequest, body)
}

// Validation reports field-level validation failures. Nothing was changed.
func Validation(c *gin.Context, fields map[string]string) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"error":  "validation_failed",
		"fields": fields,
	})
}

// NotFound reports a missing resource.
func NotFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
}

// Error maps a service error to a response. msg is the generic text shown for
// unexpected failures.
func Error(c *gin.Context, msg string, err error) {
	var verr *fraud.ValidationError
	switch {
	case errors.As(err, &verr):
		Validation(c, verr.Fields)
	case errors.Is(err, fraud.ErrAlertNotFound):
		NotFound(c, "Alert")
	case errors.Is(err, fraud.ErrCaseNotFound):
		NotFound(c, "Case")
	case errors.Is(err, audit.ErrEntryNotFound):
		NotFound(c, "Audit log entry")
	case errors.Is(err, audit.ErrInvalidExportRange):
		Validation(c, map[string]string{"range": err.Error()})
	case errors.Is(err, fraud.ErrCaseClosed), errors.Is(err, fraud.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrObjectExists):
		c.JSON(http.StatusConflict, gin.H{"error": "Export already exists"})
	default:
		slog.Error(msg, "error", err, "request_id", c.GetString(middleware.RequestIDKey))
		body := gin.H{"error": msg}
		withDetails(c, body, err)
		c.JSON(http.StatusInternalServerError, body)
	}
}

func withDetails(c *gin.Context, body gin.H, err error) {
	if err != nil && c.GetBool(debugKey) && c.GetBool(middleware.ContextIsAdminKey) {
		body["details"] = err.Error()
	}
}

// Actor identifies the authenticated caller for audit entries.
func Actor(c *gin.Context) fraud.Actor {
	return fraud.Actor{
		UserID:    c.GetString(middleware.ContextUserIDKey),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// Page reads page/per_page query parameters. per_page is capped at 100.
func Page(c *gin.Context) (page, perPage, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage, (page - 1) * perPage
}

// Pagination is the pagination block included in list responses.
func Pagination(page, perPage, total int) gin.H {
	return gin.H{"page": page, "per_page": perPage, "total": total}
}
