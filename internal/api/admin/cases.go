package admin

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigmarket/marketplace/internal/api/respond"
	"github.com/gigmarket/marketplace/internal/fraud"
)

// CaseHandlers serves /api/v1/admin/cases
type CaseHandlers struct {
	cases CaseService
}

// NewCaseHandlers creates case handlers
func NewCaseHandlers(cases CaseService) *CaseHandlers {
	return &CaseHandlers{cases: cases}
}

type linkAlertRequest struct {
	AlertID string `json:"alert_id" binding:"required"`
}

type closeCaseRequest struct {
	Resolution string `json:"resolution"`
}

// @Summary      List fraud cases
// @Tags         Fraud
// @Security     Bearer
// @Produce      json
// @Param        status    query  string  false  "open, investigating or closed"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "cases: []models.FraudCase, pagination: map"
// @Router       /api/v1/admin/cases [get]
func (h *CaseHandlers) List(c *gin.Context) {
	page, perPage, offset := respond.Page(c)
	cases, total, err := h.cases.ListCases(c.Request.Context(), c.Query("status"), perPage, offset)
	if err != nil {
		respond.Error(c, "Failed to list cases", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cases":      cases,
		"pagination": respond.Pagination(page, perPage, total),
	})
}

// @Summary      Get fraud case
// @Description  Returns the case with its linked alerts
// @Tags         Fraud
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Case ID"
// @Success      200  {object}  map[string]interface{}  "case: models.FraudCase"
// @Failure      404  {object}  map[string]interface{}  "Case not found"
// @Router       /api/v1/admin/cases/{id} [get]
func (h *CaseHandlers) Get(c *gin.Context) {
	fc, err := h.cases.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respond.Error(c, "Failed to get case", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": fc})
}

// @Summary      Open fraud case
// @Tags         Fraud
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  fraud.OpenCaseInput  true  "Case"
// @Success      201  {object}  map[string]interface{}  "case: models.FraudCase"
// @Failure      422  {object}  map[string]interface{}  "Validation failed"
// @Router       /api/v1/admin/cases [post]
func (h *CaseHandlers) Open(c *gin.Context) {
	var in fraud.OpenCaseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, err)
		return
	}
	fc, err := h.cases.OpenCase(c.Request.Context(), respond.Actor(c), in)
	if err != nil {
		respond.Error(c, "Failed to open case", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"case": fc})
}

// @Summary      Link alert to case
// @Description  Links an alert of the case's user and recomputes the financial impact
// @Tags         Fraud
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Case ID"
// @Success      200  {object}  map[string]interface{}  "case: models.FraudCase"
// @Failure      409  {object}  map[string]interface{}  "Case is closed"
// @Router       /api/v1/admin/cases/{id}/alerts [post]
func (h *CaseHandlers) LinkAlert(c *gin.Context) {
	var req linkAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}
	fc, err := h.cases.LinkAlert(c.Request.Context(), respond.Actor(c), c.Param("id"), req.AlertID)
	if err != nil {
		respond.Error(c, "Failed to link alert", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": fc})
}

// @Summary      Update fraud case
// @Description  Move the case to investigating and/or record a recovered amount
// @Tags         Fraud
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                 true  "Case ID"
// @Param        body  body  fraud.UpdateCaseInput  true  "Changes"
// @Success      200  {object}  map[string]interface{}  "case: models.FraudCase"
// @Failure      409  {object}  map[string]interface{}  "Invalid transition"
// @Router       /api/v1/admin/cases/{id}/status [post]
func (h *CaseHandlers) Update(c *gin.Context) {
	var in fraud.UpdateCaseInput
	if err := c.ShouldBindJSON(&in); err != nil && !errors.Is(err, io.EOF) {
		respond.BadRequest(c, err)
		return
	}
	fc, err := h.cases.UpdateCase(c.Request.Context(), respond.Actor(c), c.Param("id"), in)
	if err != nil {
		respond.Error(c, "Failed to update case", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": fc})
}

// @Summary      Close fraud case
// @Tags         Fraud
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Case ID"
// @Success      200  {object}  map[string]interface{}  "case: models.FraudCase"
// @Failure      409  {object}  map[string]interface{}  "Case already closed"
// @Failure      422  {object}  map[string]interface{}  "Resolution required"
// @Router       /api/v1/admin/cases/{id}/close [post]
func (h *CaseHandlers) Close(c *gin.Context) {
	var req closeCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respond.BadRequest(c, err)
		return
	}
	fc, err := h.cases.CloseCase(c.Request.Context(), respond.Actor(c), c.Param("id"), req.Resolution)
	if err != nil {
		respond.Error(c, "Failed to close case", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": fc})
}
