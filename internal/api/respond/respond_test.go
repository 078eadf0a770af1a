package respond

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/fraud"
	"github.com/gigmarket/marketplace/internal/middleware"
	"github.com/gigmarket/marketplace/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestJSON_MergesFraudWarning(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set(middleware.FraudWarningKey, &middleware.FraudWarning{Warning: "activity_flagged", Message: "flagged"})

	JSON(c, http.StatusCreated, gin.H{"id": "p1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"p1","warning":"activity_flagged","message":"flagged"}`, w.Body.String())
}

func TestJSON_NoWarning(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	JSON(c, http.StatusOK, gin.H{"id": "p1"})

	assert.JSONEq(t, `{"id":"p1"}`, w.Body.String())
}

func TestError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"validation", &fraud.ValidationError{Fields: map[string]string{"note": "required"}}, http.StatusUnprocessableEntity, `{"error":"validation_failed","fields":{"note":"required"}}`},
		{"alert missing", fraud.ErrAlertNotFound, http.StatusNotFound, `{"error":"Alert not found"}`},
		{"wrapped case missing", fmt.Errorf("lookup: %w", fraud.ErrCaseNotFound), http.StatusNotFound, `{"error":"Case not found"}`},
		{"audit entry missing", audit.ErrEntryNotFound, http.StatusNotFound, `{"error":"Audit log entry not found"}`},
		{"closed case", fraud.ErrCaseClosed, http.StatusConflict, `{"error":"fraud case is closed"}`},
		{"export path taken", storage.Exists("audit-exports/x.jsonl"), http.StatusConflict, `{"error":"Export already exists"}`},
		{"unexpected", errors.New("pq: connection reset"), http.StatusInternalServerError, `{"error":"Failed to do thing"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			Error(c, "Failed to do thing", tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestError_DetailsOnlyForAdminsInDebug(t *testing.T) {
	tests := []struct {
		name    string
		debug   bool
		admin   bool
		details bool
	}{
		{"debug admin", true, true, true},
		{"debug member", true, false, false},
		{"release admin", false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Set(debugKey, tt.debug)
			c.Set(middleware.ContextIsAdminKey, tt.admin)

			Error(c, "Failed", errors.New("secret internals"))

			if tt.details {
				assert.Contains(t, w.Body.String(), "secret internals")
			} else {
				assert.NotContains(t, w.Body.String(), "secret internals")
			}
		})
	}
}

func TestPage(t *testing.T) {
	tests := []struct {
		query                 string
		page, perPage, offset int
	}{
		{"", 1, 20, 0},
		{"?page=3&per_page=10", 3, 10, 20},
		{"?page=0&per_page=500", 1, 20, 0},
		{"?page=abc", 1, 20, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			page, perPage, offset := Page(c)
			assert.Equal(t, []int{tt.page, tt.perPage, tt.offset}, []int{page, perPage, offset})
		})
	}
}

func TestActor(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Request.RemoteAddr = "203.0.113.5:1234"
	c.Request.Header.Set("User-Agent", "console")
	c.Set(middleware.ContextUserIDKey, "admin-1")

	assert.Equal(t, fraud.Actor{UserID: "admin-1", IP: "203.0.113.5", UserAgent: "console"}, Actor(c))
}
