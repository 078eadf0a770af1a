package admin

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/db/models"
)

type fakeAuditLogs struct {
	entry  *models.AuditLog
	filter models.AuditLogFilter
}

func (f *fakeAuditLogs) ListAuditLogs(_ context.Context, filter models.AuditLogFilter) ([]*models.AuditLog, int, error) {
	f.filter = filter
	return []*models.AuditLog{f.entry}, 1, nil
}

func (f *fakeAuditLogs) GetAuditLog(context.Context, string) (*models.AuditLog, error) {
	return f.entry, nil
}

type fakeVerifier struct {
	integrity *audit.IntegrityResult
	report    *audit.ChainReport
	err       error
}

func (f *fakeVerifier) VerifyIntegrity(context.Context, string) (*audit.IntegrityResult, error) {
	return f.integrity, f.err
}

func (f *fakeVerifier) VerifyChain(context.Context) (*audit.ChainReport, error) {
	return f.report, f.err
}

type fakeExporter struct {
	from, to int64
	err      error
}

func (f *fakeExporter) Export(_ context.Context, from, to int64) (*audit.ExportResult, error) {
	f.from, f.to = from, to
	if f.err != nil {
		return nil, f.err
	}
	return &audit.ExportResult{Path: "audit-exports/1-5.jsonl", FromSeq: 1, ToSeq: 5, Entries: 5}, nil
}

func auditRouter(logs AuditBrowser, v AuditVerifier, x ChainExporter) *gin.Engine {
	h := NewAuditHandlers(logs, v, x)
	r := gin.New()
	g := r.Group("/admin", asAdmin)
	g.GET("/audit-logs", h.List)
	g.GET("/audit-logs/verify", h.VerifyChain)
	g.POST("/audit-logs/exports", h.Export)
	g.GET("/audit-logs/:id", h.Get)
	g.GET("/audit-logs/:id/verify", h.VerifyEntry)
	return r
}

func TestAuditList_Filters(t *testing.T) {
	logs := &fakeAuditLogs{entry: &models.AuditLog{ID: "e1", Seq: 1}}
	r := auditRouter(logs, &fakeVerifier{}, nil)

	w := serveJSON(r, http.MethodGet, "/admin/audit-logs?table_name=payments&action=CREATE&from=2026-01-02T00:00:00Z", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payments", logs.filter.TableName)
	assert.Equal(t, "CREATE", logs.filter.Action)
	require.NotNil(t, logs.filter.From)
	assert.True(t, logs.filter.From.Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, logs.filter.To)

	w = serveJSON(r, http.MethodGet, "/admin/audit-logs?to=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditGet_NotFound(t *testing.T) {
	w := serveJSON(auditRouter(&fakeAuditLogs{}, &fakeVerifier{}, nil), http.MethodGet, "/admin/audit-logs/e9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditVerifyEntry(t *testing.T) {
	v := &fakeVerifier{integrity: &audit.IntegrityResult{ID: "e1", Seq: 1, Valid: false, HashValid: false, LinkValid: true}}
	w := serveJSON(auditRouter(&fakeAuditLogs{}, v, nil), http.MethodGet, "/admin/audit-logs/e1/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, jsonBody(t, w)["valid"])

	v = &fakeVerifier{err: fmt.Errorf("lookup: %w", audit.ErrEntryNotFound)}
	w = serveJSON(auditRouter(&fakeAuditLogs{}, v, nil), http.MethodGet, "/admin/audit-logs/e9/verify", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditVerifyChain_ReportsBreak(t *testing.T) {
	seq := int64(7)
	v := &fakeVerifier{report: &audit.ChainReport{Valid: false, Checked: 12, FirstInvalidSeq: &seq}}

	w := serveJSON(auditRouter(&fakeAuditLogs{}, v, nil), http.MethodGet, "/admin/audit-logs/verify", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := jsonBody(t, w)
	assert.Equal(t, false, body["valid"])
	assert.EqualValues(t, 7, body["first_invalid_seq"])
}

func TestAuditExport(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		w := serveJSON(auditRouter(&fakeAuditLogs{}, &fakeVerifier{}, nil), http.MethodPost, "/admin/audit-logs/exports", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
	t.Run("whole chain", func(t *testing.T) {
		x := &fakeExporter{}
		w := serveJSON(auditRouter(&fakeAuditLogs{}, &fakeVerifier{}, x), http.MethodPost, "/admin/audit-logs/exports", nil)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, []int64{0, 0}, []int64{x.from, x.to})
		assert.Equal(t, "audit-exports/1-5.jsonl", jsonBody(t, w)["path"])
	})
	t.Run("invalid range", func(t *testing.T) {
		x := &fakeExporter{err: fmt.Errorf("%w: 9-3", audit.ErrInvalidExportRange)}
		w := serveJSON(auditRouter(&fakeAuditLogs{}, &fakeVerifier{}, x), http.MethodPost, "/admin/audit-logs/exports", gin.H{"from_seq": 9, "to_seq": 3})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, []int64{9, 3}, []int64{x.from, x.to})
	})
}
