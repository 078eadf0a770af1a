package marketplace

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gigmarket/marketplace/internal/api/respond"
	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/middleware"
)

// SubmitVerificationRequest is the body of POST /api/v1/verifications.
// DocumentRef points at a document held by the external verification vendor.
type SubmitVerificationRequest struct {
	DocumentType string `json:"document_type" binding:"required,oneof=passport national_id drivers_license"`
	DocumentRef  string `json:"document_ref" binding:"required,max=255"`
}

// @Summary      Submit identity verification
// @Tags         Verification
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  SubmitVerificationRequest  true  "Document reference"
// @Success      201  {object}  map[string]interface{}  "verification: models.IdentityVerification"
// @Failure      400  {object}  map[string]interface{}  "Invalid request body"
// @Router       /api/v1/verifications [post]
func (h *Handlers) SubmitVerification(c *gin.Context) {
	var req SubmitVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	v := &models.IdentityVerification{
		ID:           uuid.New().String(),
		UserID:       c.GetString(middleware.ContextUserIDKey),
		DocumentType: req.DocumentType,
		DocumentRef:  req.DocumentRef,
		Status:       models.VerificationPending,
		CreatedAt:    time.Now().UTC(),
	}
	err := h.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		if err := h.verifications.CreateVerification(ctx, tx, v); err != nil {
			return err
		}
		// the audit log is shipped externally; the document reference stays in its table
		logged := values(v)
		delete(logged, "document_ref")
		return record(entry(c, "identity_verifications", models.AuditActionCreate, v.ID, nil, logged))
	})
	if err != nil {
		respond.Error(c, "Failed to submit verification", err)
		return
	}
	respond.JSON(c, http.StatusCreated, gin.H{"verification": v})
}
