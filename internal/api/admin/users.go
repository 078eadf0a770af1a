// users.go implements the read-only member lookup used while triaging alerts.
package admin

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigmarket/marketplace/internal/api/respond"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/db/repositories"
)

// recentAlertLimit caps the alerts embedded in a user lookup.
const recentAlertLimit = 20

// UserHandlers handles user lookup endpoints
type UserHandlers struct {
	userRepo *repositories.UserRepository
	alerts   AlertService
}

// NewUserHandlers creates a new UserHandlers instance
func NewUserHandlers(db *sql.DB, alerts AlertService) *UserHandlers {
	return &UserHandlers{
		userRepo: repositories.NewUserRepository(db),
		alerts:   alerts,
	}
}

// @Summary      List users
// @Description  Get a paginated list of all users, newest first
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        page      query  int  false  "Page number (default 1)"
// @Param        per_page  query  int  false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "users: []models.User, pagination: map"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/users [get]
// ListUsersHandler lists all users with pagination
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage, offset := respond.Page(c)

		users, total, err := h.userRepo.ListUsers(c.Request.Context(), perPage, offset)
		if err != nil {
			respond.Error(c, "Failed to list users", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"users":      users,
			"pagination": respond.Pagination(page, perPage, total),
		})
	}
}

// @Summary      Get user
// @Description  Get a user with their most recent fraud alerts
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "User ID"
// @Success      200  {object}  map[string]interface{}  "user: models.User, alerts: []models.FraudAlert"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/users/{id} [get]
// GetUserHandler retrieves a specific user by ID
func (h *UserHandlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")

		user, err := h.userRepo.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			respond.Error(c, "Failed to retrieve user", err)
			return
		}
		if user == nil {
			respond.NotFound(c, "User")
			return
		}

		alerts, total, err := h.alerts.ListAlerts(c.Request.Context(), models.FraudAlertFilter{
			UserID: userID,
			Limit:  recentAlertLimit,
		})
		if err != nil {
			respond.Error(c, "Failed to retrieve user alerts", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user":        user,
			"alerts":      alerts,
			"alert_total": total,
		})
	}
}
