package marketplace

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gigmarket/marketplace/internal/api/respond"
	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/middleware"
)

// CreateProjectRequest is the body of POST /api/v1/projects
type CreateProjectRequest struct {
	Title       string  `json:"title" binding:"required,max=255"`
	Description string  `json:"description" binding:"required"`
	Budget      float64 `json:"budget" binding:"required,gt=0,lte=9999999999.99"`
}

// CreateBidRequest is the body of POST /api/v1/projects/:id/bids
type CreateBidRequest struct {
	Amount   float64 `json:"amount" binding:"required,gt=0,lte=9999999999.99"`
	Proposal string  `json:"proposal" binding:"required"`
}

// CreatePaymentRequest is the body of POST /api/v1/payments
type CreatePaymentRequest struct {
	Amount    float64 `json:"amount" binding:"required,gt=0,lte=9999999999.99"`
	PayeeID   *string `json:"payee_id" binding:"omitempty,uuid"`
	ProjectID *string `json:"project_id" binding:"omitempty,uuid"`
}

// CreateMessageRequest is the body of POST /api/v1/messages
type CreateMessageRequest struct {
	RecipientID string `json:"recipient_id" binding:"required,uuid"`
	Body        string `json:"body" binding:"required,max=10000"`
}

// @Summary      Post project
// @Tags         Projects
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateProjectRequest  true  "Project"
// @Success      201  {object}  map[string]interface{}  "project: models.Project"
// @Failure      400  {object}  map[string]interface{}  "Invalid request body"
// @Router       /api/v1/projects [post]
func (h *Handlers) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	project := &models.Project{
		ID:          uuid.New().String(),
		ClientID:    c.GetString(middleware.ContextUserIDKey),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Budget:      req.Budget,
		Status:      models.ProjectStatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	err := h.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		if err := h.market.CreateProject(ctx, tx, project); err != nil {
			return err
		}
		return record(entry(c, "projects", models.AuditActionCreate, project.ID, nil, values(project)))
	})
	if err != nil {
		respond.Error(c, "Failed to create project", err)
		return
	}
	respond.JSON(c, http.StatusCreated, gin.H{"project": project})
}

// @Summary      Bid on project
// @Tags         Projects
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string            true  "Project ID"
// @Param        body  body  CreateBidRequest  true  "Bid"
// @Success      201  {object}  map[string]interface{}  "bid: models.Bid"
// @Failure      404  {object}  map[string]interface{}  "Project not found"
// @Failure      422  {object}  map[string]interface{}  "Validation failed"
// @Router       /api/v1/projects/{id}/bids [post]
func (h *Handlers) CreateBid(c *gin.Context) {
	var req CreateBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	userID := c.GetString(middleware.ContextUserIDKey)

	project, err := h.market.GetProject(ctx, c.Param("id"))
	if err != nil {
		respond.Error(c, "Failed to create bid", err)
		return
	}
	if project == nil {
		respond.NotFound(c, "Project")
		return
	}
	switch {
	case project.ClientID == userID:
		respond.Validation(c, map[string]string{"project_id": "cannot bid on your own project"})
		return
	case project.Status != models.ProjectStatusOpen:
		respond.Validation(c, map[string]string{"project_id": "project is not open for bids"})
		return
	}

	bid := &models.Bid{
		ID:           uuid.New().String(),
		ProjectID:    project.ID,
		FreelancerID: userID,
		Amount:       req.Amount,
		Proposal:     req.Proposal,
		CreatedAt:    time.Now().UTC(),
	}
	err = h.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		if err := h.market.CreateBid(ctx, tx, bid); err != nil {
			return err
		}
		return record(entry(c, "bids", models.AuditActionCreate, bid.ID, nil, values(bid)))
	})
	if err != nil {
		respond.Error(c, "Failed to create bid", err)
		return
	}
	respond.JSON(c, http.StatusCreated, gin.H{"bid": bid})
}

// @Summary      Make payment
// @Description  Record a completed payment from the caller
// @Tags         Payments
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreatePaymentRequest  true  "Payment"
// @Success      201  {object}  map[string]interface{}  "payment: models.Payment"
// @Failure      403  {object}  map[string]interface{}  "Blocked"
// @Failure      422  {object}  map[string]interface{}  "Verification required or validation failed"
// @Router       /api/v1/payments [post]
func (h *Handlers) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	userID := c.GetString(middleware.ContextUserIDKey)

	fields := map[string]string{}
	if req.PayeeID != nil {
		if *req.PayeeID == userID {
			fields["payee_id"] = "cannot pay yourself"
		} else if payee, err := h.users.GetUserByID(ctx, *req.PayeeID); err != nil {
			respond.Error(c, "Failed to create payment", err)
			return
		} else if payee == nil {
			fields["payee_id"] = "unknown user"
		}
	}
	if req.ProjectID != nil {
		project, err := h.market.GetProject(ctx, *req.ProjectID)
		if err != nil {
			respond.Error(c, "Failed to create payment", err)
			return
		}
		if project == nil {
			fields["project_id"] = "unknown project"
		}
	}
	if len(fields) > 0 {
		respond.Validation(c, fields)
		return
	}

	payment := &models.Payment{
		ID:        uuid.New().String(),
		PayerID:   userID,
		PayeeID:   req.PayeeID,
		ProjectID: req.ProjectID,
		Amount:    req.Amount,
		Status:    models.PaymentStatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
	err := h.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		if err := h.market.CreatePayment(ctx, tx, payment); err != nil {
			return err
		}
		return record(entry(c, "payments", models.AuditActionCreate, payment.ID, nil, values(payment)))
	})
	if err != nil {
		respond.Error(c, "Failed to create payment", err)
		return
	}
	respond.JSON(c, http.StatusCreated, gin.H{"payment": payment})
}

// @Summary      Send message
// @Tags         Messages
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateMessageRequest  true  "Message"
// @Success      201  {object}  map[string]interface{}  "direct_message: models.Message"
// @Failure      422  {object}  map[string]interface{}  "Validation failed"
// @Router       /api/v1/messages [post]
func (h *Handlers) CreateMessage(c *gin.Context) {
	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	userID := c.GetString(middleware.ContextUserIDKey)

	if req.RecipientID == userID {
		respond.Validation(c, map[string]string{"recipient_id": "cannot message yourself"})
		return
	}
	recipient, err := h.users.GetUserByID(ctx, req.RecipientID)
	if err != nil {
		respond.Error(c, "Failed to send message", err)
		return
	}
	if recipient == nil {
		respond.Validation(c, map[string]string{"recipient_id": "unknown user"})
		return
	}

	msg := &models.Message{
		ID:          uuid.New().String(),
		SenderID:    userID,
		RecipientID: recipient.ID,
		Body:        req.Body,
		CreatedAt:   time.Now().UTC(),
	}
	err = h.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		if err := h.market.CreateMessage(ctx, tx, msg); err != nil {
			return err
		}
		// message bodies stay out of the audit log
		return record(entry(c, "messages", models.AuditActionCreate, msg.ID, nil, map[string]interface{}{
			"sender_id":    msg.SenderID,
			"recipient_id": msg.RecipientID,
			"length":       len(msg.Body),
		}))
	})
	if err != nil {
		respond.Error(c, "Failed to send message", err)
		return
	}
	respond.JSON(c, http.StatusCreated, gin.H{"direct_message": msg})
}
