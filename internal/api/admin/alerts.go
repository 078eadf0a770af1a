package admin

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigmarket/marketplace/internal/api/respond"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/fraud"
)

// AlertHandlers serves /api/v1/admin/alerts
type AlertHandlers struct {
	alerts AlertService
}

// NewAlertHandlers creates alert handlers
func NewAlertHandlers(alerts AlertService) *AlertHandlers {
	return &AlertHandlers{alerts: alerts}
}

// alertDecision is the body of resolve and dismiss
type alertDecision struct {
	Note string `json:"note"`
}

// @Summary      List fraud alerts
// @Tags         Fraud
// @Security     Bearer
// @Produce      json
// @Param        status    query  string  false  "active, resolved or dismissed"
// @Param        severity  query  string  false  "low, medium, high or critical"
// @Param        user_id   query  string  false  "Subject user"
// @Param        case_id   query  string  false  "Linked case"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "alerts: []models.FraudAlert, pagination: map"
// @Router       /api/v1/admin/alerts [get]
func (h *AlertHandlers) List(c *gin.Context) {
	page, perPage, offset := respond.Page(c)
	alerts, total, err := h.alerts.ListAlerts(c.Request.Context(), models.FraudAlertFilter{
		Status:   c.Query("status"),
		Severity: c.Query("severity"),
		UserID:   c.Query("user_id"),
		CaseID:   c.Query("case_id"),
		Limit:    perPage,
		Offset:   offset,
	})
	if err != nil {
		respond.Error(c, "Failed to list alerts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts":     alerts,
		"pagination": respond.Pagination(page, perPage, total),
	})
}

// @Summary      Get fraud alert
// @Tags         Fraud
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Alert ID"
// @Success      200  {object}  map[string]interface{}  "alert: models.FraudAlert"
// @Failure      404  {object}  map[string]interface{}  "Alert not found"
// @Router       /api/v1/admin/alerts/{id} [get]
func (h *AlertHandlers) Get(c *gin.Context) {
	alert, err := h.alerts.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		respond.Error(c, "Failed to get alert", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert})
}

// @Summary      File manual alert
// @Tags         Fraud
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  fraud.ManualAlertInput  true  "Alert"
// @Success      201  {object}  map[string]interface{}  "alert: models.FraudAlert"
// @Failure      422  {object}  map[string]interface{}  "Validation failed"
// @Router       /api/v1/admin/alerts [post]
func (h *AlertHandlers) Create(c *gin.Context) {
	var in fraud.ManualAlertInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, err)
		return
	}
	alert, err := h.alerts.CreateManualAlert(c.Request.Context(), respond.Actor(c), in)
	if err != nil {
		respond.Error(c, "Failed to create alert", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"alert": alert})
}

// @Summary      Resolve fraud alert
// @Tags         Fraud
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string  true  "Alert ID"
// @Success      200  {object}  map[string]interface{}  "alert: models.FraudAlert"
// @Failure      409  {object}  map[string]interface{}  "Alert is not active"
// @Failure      422  {object}  map[string]interface{}  "Note required"
// @Router       /api/v1/admin/alerts/{id}/resolve [post]
func (h *AlertHandlers) Resolve(c *gin.Context) {
	h.decide(c, h.alerts.ResolveAlert)
}

// @Summary      Dismiss fraud alert
// @Description  Mark an alert as a false positive
// @Tags         Fraud
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string  true  "Alert ID"
// @Success      200  {object}  map[string]interface{}  "alert: models.FraudAlert"
// @Failure      409  {object}  map[string]interface{}  "Alert is not active"
// @Failure      422  {object}  map[string]interface{}  "Note required"
// @Router       /api/v1/admin/alerts/{id}/dismiss [post]
func (h *AlertHandlers) Dismiss(c *gin.Context) {
	h.decide(c, h.alerts.DismissAlert)
}

type alertTransition func(ctx context.Context, actor fraud.Actor, id, note string) (*models.FraudAlert, error)

func (h *AlertHandlers) decide(c *gin.Context, transition alertTransition) {
	var body alertDecision
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		respond.BadRequest(c, err)
		return
	}
	alert, err := transition(c.Request.Context(), respond.Actor(c), c.Param("id"), body.Note)
	if err != nil {
		respond.Error(c, "Failed to update alert", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert})
}
