package admin

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gigmarket/marketplace/internal/api/respond"
	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/fraud"
)

// errAlreadyReviewed is returned from the review transaction when another
// admin decided first.
var errAlreadyReviewed = errors.New("verification was already reviewed")

// VerificationHandlers serves the identity verification review queue
type VerificationHandlers struct {
	store VerificationStore
	trail Trail
	now   func() time.Time
}

// NewVerificationHandlers creates review handlers
func NewVerificationHandlers(store VerificationStore, trail Trail) *VerificationHandlers {
	return &VerificationHandlers{store: store, trail: trail, now: time.Now}
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// @Summary      List verifications
// @Description  Lists submissions awaiting review, oldest first
// @Tags         Verification
// @Security     Bearer
// @Produce      json
// @Param        status    query  string  false  "pending (default), approved or rejected"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "verifications: []models.IdentityVerification"
// @Router       /api/v1/admin/verifications [get]
func (h *VerificationHandlers) List(c *gin.Context) {
	page, perPage, offset := respond.Page(c)
	status := c.DefaultQuery("status", models.VerificationPending)
	list, err := h.store.ListByStatus(c.Request.Context(), status, perPage, offset)
	if err != nil {
		respond.Error(c, "Failed to list verifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"verifications": list,
		"pagination":    gin.H{"page": page, "per_page": perPage},
	})
}

// @Summary      Approve verification
// @Tags         Verification
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Verification ID"
// @Success      200  {object}  map[string]interface{}  "verification: models.IdentityVerification"
// @Failure      404  {object}  map[string]interface{}  "Verification not found"
// @Failure      409  {object}  map[string]interface{}  "Already reviewed"
// @Router       /api/v1/admin/verifications/{id}/approve [post]
func (h *VerificationHandlers) Approve(c *gin.Context) {
	h.review(c, models.VerificationApproved, nil)
}

// @Summary      Reject verification
// @Tags         Verification
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Verification ID"
// @Success      200  {object}  map[string]interface{}  "verification: models.IdentityVerification"
// @Failure      404  {object}  map[string]interface{}  "Verification not found"
// @Failure      409  {object}  map[string]interface{}  "Already reviewed"
// @Failure      422  {object}  map[string]interface{}  "Reason required"
// @Router       /api/v1/admin/verifications/{id}/reject [post]
func (h *VerificationHandlers) Reject(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respond.BadRequest(c, err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		respond.Validation(c, map[string]string{"reason": "a rejection reason is required"})
		return
	}
	h.review(c, models.VerificationRejected, &reason)
}

func (h *VerificationHandlers) review(c *gin.Context, status string, reason *string) {
	ctx := c.Request.Context()
	v, err := h.store.GetVerification(ctx, c.Param("id"))
	if err != nil {
		respond.Error(c, "Failed to review verification", err)
		return
	}
	if v == nil {
		respond.NotFound(c, "Verification")
		return
	}
	if v.Status != models.VerificationPending {
		c.JSON(http.StatusConflict, gin.H{"error": "Verification was already " + v.Status})
		return
	}

	actor := respond.Actor(c)
	now := h.now().UTC()
	updated := *v
	updated.Status = status
	updated.RejectionReason = reason
	updated.ReviewedBy = &actor.UserID
	updated.ReviewedAt = &now

	newValues := map[string]interface{}{"status": status}
	if reason != nil {
		newValues["rejection_reason"] = *reason
	}
	err = h.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		ok, err := h.store.Review(ctx, tx, &updated)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyReviewed
		}
		return record(adminEntry(actor, "identity_verifications", models.AuditActionUpdate, v.ID,
			map[string]interface{}{"status": v.Status, "subject_user_id": v.UserID}, newValues))
	})
	if errors.Is(err, errAlreadyReviewed) {
		c.JSON(http.StatusConflict, gin.H{"error": "Verification was already reviewed"})
		return
	}
	if err != nil {
		respond.Error(c, "Failed to review verification", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": &updated})
}

func adminEntry(actor fraud.Actor, table, action, recordID string, oldValues, newValues map[string]interface{}) audit.LogInput {
	return audit.LogInput{
		TableName: table,
		Action:    action,
		RecordID:  recordID,
		UserID:    actor.UserID,
		UserType:  models.UserTypeAdmin,
		OldValues: oldValues,
		NewValues: newValues,
		IPAddress: actor.IP,
		UserAgent: actor.UserAgent,
	}
}
