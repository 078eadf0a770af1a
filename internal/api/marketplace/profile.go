package marketplace

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gigmarket/marketplace/internal/api/respond"
	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/middleware"
)

// UpdateProfileRequest is the body of PUT /api/v1/profile. Omitted fields keep
// their current value.
type UpdateProfileRequest struct {
	DisplayName *string  `json:"display_name" binding:"omitempty,max=255"`
	Headline    *string  `json:"headline" binding:"omitempty,max=255"`
	Bio         *string  `json:"bio" binding:"omitempty,max=5000"`
	HourlyRate  *float64 `json:"hourly_rate" binding:"omitempty,gte=0"`
	Email       *string  `json:"email" binding:"omitempty,email"`
}

func (r UpdateProfileRequest) touchesProfile() bool {
	return r.DisplayName != nil || r.Headline != nil || r.Bio != nil || r.HourlyRate != nil
}

// @Summary      Update profile
// @Description  Update the caller's profile and, optionally, their email address
// @Tags         Profile
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  UpdateProfileRequest  true  "Profile fields"
// @Success      200  {object}  map[string]interface{}  "profile, user"
// @Failure      400  {object}  map[string]interface{}  "Invalid request body"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Failure      422  {object}  map[string]interface{}  "Verification required"
// @Router       /api/v1/profile [put]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}
	user := middleware.CurrentUser(c)
	ctx := c.Request.Context()

	var newEmail string
	if req.Email != nil {
		if e := normalizeEmail(*req.Email); e != normalizeEmail(user.Email) {
			newEmail = e
		}
	}
	if !req.touchesProfile() && newEmail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No changes requested"})
		return
	}

	if newEmail != "" {
		taken, err := h.users.GetUserByEmail(ctx, newEmail)
		if err != nil {
			respond.Error(c, "Failed to update profile", err)
			return
		}
		if taken != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return
		}
	}

	current, err := h.market.GetProfile(ctx, user.ID)
	if err != nil {
		respond.Error(c, "Failed to update profile", err)
		return
	}
	profile := mergeProfile(user.ID, current, req)

	updated := *user
	err = h.trail.Transact(ctx, func(tx *sql.Tx, record audit.RecordFunc) error {
		if req.touchesProfile() {
			if err := h.market.UpsertProfile(ctx, tx, profile); err != nil {
				return err
			}
			action := models.AuditActionUpdate
			var old map[string]interface{}
			if current == nil {
				action = models.AuditActionCreate
			} else {
				old = values(current)
			}
			if err := record(entry(c, "profiles", action, user.ID, old, values(profile))); err != nil {
				return err
			}
		}
		if newEmail != "" {
			if err := h.users.UpdateEmail(ctx, tx, user.ID, newEmail); err != nil {
				return err
			}
			updated.Email = newEmail
			if err := record(entry(c, "users", models.AuditActionUpdate, user.ID,
				map[string]interface{}{"email": user.Email},
				map[string]interface{}{"email": newEmail})); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		respond.Error(c, "Failed to update profile", err)
		return
	}

	if !req.touchesProfile() {
		profile = current
	}
	respond.JSON(c, http.StatusOK, gin.H{"profile": profile, "user": &updated})
}

func mergeProfile(userID string, current *models.Profile, req UpdateProfileRequest) *models.Profile {
	p := &models.Profile{UserID: userID}
	if current != nil {
		*p = *current
	}
	if req.DisplayName != nil {
		p.DisplayName = req.DisplayName
	}
	if req.Headline != nil {
		p.Headline = req.Headline
	}
	if req.Bio != nil {
		p.Bio = req.Bio
	}
	if req.HourlyRate != nil {
		p.HourlyRate = req.HourlyRate
	}
	p.UpdatedAt = time.Now().UTC()
	return p
}
