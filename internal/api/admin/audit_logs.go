package admin

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gigmarket/marketplace/internal/api/respond"
	"github.com/gigmarket/marketplace/internal/db/models"
)

// AuditHandlers serves /api/v1/admin/audit-logs
type AuditHandlers struct {
	logs     AuditBrowser
	verifier AuditVerifier
	exporter ChainExporter
}

// NewAuditHandlers creates audit log handlers. exporter may be nil when no
// storage backend is configured.
func NewAuditHandlers(logs AuditBrowser, verifier AuditVerifier, exporter ChainExporter) *AuditHandlers {
	return &AuditHandlers{logs: logs, verifier: verifier, exporter: exporter}
}

// ExportRequest selects the chain segment to export. to_seq 0 exports up to the head.
type ExportRequest struct {
	FromSeq int64 `json:"from_seq"`
	ToSeq   int64 `json:"to_seq"`
}

// @Summary      List audit logs
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        table_name  query  string  false  "Table"
// @Param        action      query  string  false  "CREATE, UPDATE, DELETE or REQUEST"
// @Param        user_id     query  string  false  "Actor"
// @Param        record_id   query  string  false  "Record"
// @Param        from        query  string  false  "RFC 3339 lower bound"
// @Param        to          query  string  false  "RFC 3339 upper bound"
// @Param        page        query  int     false  "Page number (default 1)"
// @Param        per_page    query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "audit_logs: []models.AuditLog, pagination: map"
// @Failure      400  {object}  map[string]interface{}  "Invalid time bound"
// @Router       /api/v1/admin/audit-logs [get]
func (h *AuditHandlers) List(c *gin.Context) {
	page, perPage, offset := respond.Page(c)
	filter := models.AuditLogFilter{
		TableName: c.Query("table_name"),
		Action:    c.Query("action"),
		UserID:    c.Query("user_id"),
		RecordID:  c.Query("record_id"),
		Limit:     perPage,
		Offset:    offset,
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + " timestamp, expected RFC 3339"})
			return
		}
		*dst = &t
	}

	logs, total, err := h.logs.ListAuditLogs(c.Request.Context(), filter)
	if err != nil {
		respond.Error(c, "Failed to list audit logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"audit_logs": logs,
		"pagination": respond.Pagination(page, perPage, total),
	})
}

// @Summary      Get audit log entry
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Entry ID"
// @Success      200  {object}  map[string]interface{}  "audit_log: models.AuditLog"
// @Failure      404  {object}  map[string]interface{}  "Audit log entry not found"
// @Router       /api/v1/admin/audit-logs/{id} [get]
func (h *AuditHandlers) Get(c *gin.Context) {
	entry, err := h.logs.GetAuditLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		respond.Error(c, "Failed to get audit log entry", err)
		return
	}
	if entry == nil {
		respond.NotFound(c, "Audit log entry")
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_log": entry})
}

// @Summary      Verify audit log entry
// @Description  Recomputes the entry hash and checks the link to its predecessor
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Entry ID"
// @Success      200  {object}  audit.IntegrityResult
// @Failure      404  {object}  map[string]interface{}  "Audit log entry not found"
// @Router       /api/v1/admin/audit-logs/{id}/verify [get]
func (h *AuditHandlers) VerifyEntry(c *gin.Context) {
	res, err := h.verifier.VerifyIntegrity(c.Request.Context(), c.Param("id"))
	if err != nil {
		respond.Error(c, "Failed to verify audit log entry", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary      Verify audit chain
// @Description  Walks the whole chain from genesis
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  audit.ChainReport
// @Router       /api/v1/admin/audit-logs/verify [get]
func (h *AuditHandlers) VerifyChain(c *gin.Context) {
	report, err := h.verifier.VerifyChain(c.Request.Context())
	if err != nil {
		respond.Error(c, "Failed to verify audit chain", err)
		return
	}
	if !report.Valid {
		slog.Error("audit chain verification failed",
			"first_invalid_seq", report.FirstInvalidSeq, "checked", report.Checked, "trigger", "admin")
	}
	c.JSON(http.StatusOK, report)
}

// @Summary      Export audit chain segment
// @Description  Uploads entries as JSON lines to the configured storage backend
// @Tags         Audit
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  ExportRequest  false  "Range"
// @Success      201  {object}  audit.ExportResult
// @Failure      422  {object}  map[string]interface{}  "Invalid range"
// @Failure      503  {object}  map[string]interface{}  "No storage backend"
// @Router       /api/v1/admin/audit-logs/exports [post]
func (h *AuditHandlers) Export(c *gin.Context) {
	if h.exporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Audit export storage is not configured"})
		return
	}
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respond.BadRequest(c, err)
		return
	}
	res, err := h.exporter.Export(c.Request.Context(), req.FromSeq, req.ToSeq)
	if err != nil {
		respond.Error(c, "Failed to export audit logs", err)
		return
	}
	slog.Info("audit chain segment exported", "path", res.Path, "from_seq", res.FromSeq, "to_seq", res.ToSeq, "entries", res.Entries)
	c.JSON(http.StatusCreated, res)
}
