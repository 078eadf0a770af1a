package marketplace

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gigmarket/marketplace/internal/api/respond"
	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/auth"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/middleware"
)

const defaultTokenTTL = 24 * time.Hour

// RegisterRequest is the body of POST /api/v1/auth/register
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required,max=255"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

// LoginRequest is the body of POST /api/v1/auth/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// @Summary      Register
// @Description  Create a member account
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterRequest  true  "Account details"
// @Success      201  {object}  map[string]interface{}  "user: models.User"
// @Failure      400  {object}  map[string]interface{}  "Invalid request body"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Router       /api/v1/auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}
	email := normalizeEmail(req.Email)

	ctx := c.Request.Context()
	existing, err := h.users.GetUserByEmail(ctx, email)
	if err != nil {
		respond.Error(c, "Failed to register user", err)
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respond.Error(c, "Failed to register user", err)
		return
	}
	user := &models.User{Email: email, Name: strings.TrimSpace(req.Name), PasswordHash: hash}

	err = h.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		if err := h.users.CreateUser(ctx, tx, user); err != nil {
			return err
		}
		in := entry(c, "users", models.AuditActionCreate, user.ID, nil, values(user))
		in.UserID = user.ID
		return record(in)
	})
	if err != nil {
		respond.Error(c, "Failed to register user", err)
		return
	}

	slog.Info("user registered", "user_id", user.ID)
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// @Summary      Log in
// @Description  Exchange email and password for a bearer token
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  map[string]interface{}  "token, expires_in, user"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Router       /api/v1/auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}

	user, err := h.users.GetUserByEmail(c.Request.Context(), normalizeEmail(req.Email))
	if err != nil {
		respond.Error(c, "Failed to log in", err)
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	ok, err := auth.CheckPassword(user.PasswordHash, req.Password)
	if err != nil || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	ttl := h.cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	token, err := auth.GenerateJWT(user.ID, user.Email, user.Role, ttl)
	if err != nil {
		respond.Error(c, "Failed to issue token", err)
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(ttl.Seconds()),
		"user":       user,
	})
}

// @Summary      Current user
// @Tags         Authentication
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "user: models.User"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/me [get]
func (h *Handlers) Me(c *gin.Context) {
	respond.JSON(c, http.StatusOK, gin.H{"user": middleware.CurrentUser(c)})
}
