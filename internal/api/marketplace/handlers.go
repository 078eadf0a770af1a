// Package marketplace implements the member-facing JSON endpoints: accounts,
// profiles, projects, bids, payments, messages and identity verification
// submissions. Every state change commits together with its audit entry, and
// those entries plus the domain rows are what the risk signals read back.
package marketplace

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/config"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/db/repositories"
	"github.com/gigmarket/marketplace/internal/middleware"
)

// Trail runs a transaction whose audit entries commit with it. *audit.Logger
// implements it.
type Trail interface {
	Transact(ctx context.Context, fn func(tx *sql.Tx, record audit.RecordFunc) error) error
}

// Handlers serves the marketplace endpoints
type Handlers struct {
	cfg           *config.Config
	users         *repositories.UserRepository
	market        *repositories.MarketplaceRepository
	verifications *repositories.VerificationRepository
	trail         Trail
}

// NewHandlers creates the marketplace handlers. verifications is shared with
// the admin review queue so both use the same document cipher.
func NewHandlers(cfg *config.Config, database *sqlx.DB, verifications *repositories.VerificationRepository, trail Trail) *Handlers {
	return &Handlers{
		cfg:           cfg,
		users:         repositories.NewUserRepository(database.DB),
		market:        repositories.NewMarketplaceRepository(database),
		verifications: verifications,
		trail:         trail,
	}
}

// entry describes a change made by the calling member.
func entry(c *gin.Context, table, action, recordID string, oldValues, newValues map[string]interface{}) audit.LogInput {
	session := c.GetHeader(middleware.SessionIDHeader)
	if session == "" {
		session = c.GetString(middleware.RequestIDKey)
	}
	return audit.LogInput{
		TableName: table,
		Action:    action,
		RecordID:  recordID,
		UserID:    c.GetString(middleware.ContextUserIDKey),
		UserType:  models.UserTypeUser,
		OldValues: oldValues,
		NewValues: newValues,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		SessionID: session,
	}
}

// values flattens a row into the map stored in old_values/new_values. Fields
// tagged json:"-" (password hashes) never reach the audit log.
func values(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return m
}
