// marketplace_repository.go implements MarketplaceRepository: the profile, project,
// bid, payment and message writes whose history the risk signals read back.
package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/gigmarket/marketplace/internal/db"
	"github.com/gigmarket/marketplace/internal/db/models"
)

// MarketplaceRepository handles marketplace activity rows
type MarketplaceRepository struct {
	db *sqlx.DB
}

// NewMarketplaceRepository creates a new marketplace repository
func NewMarketplaceRepository(db *sqlx.DB) *MarketplaceRepository {
	return &MarketplaceRepository{db: db}
}

// GetProfile returns a user's profile, nil when none was saved yet
func (r *MarketplaceRepository) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.GetContext(ctx, &p,
		`SELECT user_id, display_name, headline, bio, hourly_rate, updated_at FROM profiles WHERE user_id = $1`,
		userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProfile creates or replaces a user's profile
func (r *MarketplaceRepository) UpsertProfile(ctx context.Context, tx db.DBTX, p *models.Profile) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (user_id, display_name, headline, bio, hourly_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			headline     = EXCLUDED.headline,
			bio          = EXCLUDED.bio,
			hourly_rate  = EXCLUDED.hourly_rate,
			updated_at   = EXCLUDED.updated_at`,
		p.UserID, p.DisplayName, p.Headline, p.Bio, p.HourlyRate, p.UpdatedAt,
	)
	return err
}

// GetProject retrieves a project by ID, nil when it does not exist
func (r *MarketplaceRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := r.db.GetContext(ctx, &p,
		`SELECT id, client_id, title, description, budget, status, created_at FROM projects WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProject inserts a project
func (r *MarketplaceRepository) CreateProject(ctx context.Context, tx db.DBTX, p *models.Project) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, client_id, title, description, budget, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.ClientID, p.Title, p.Description, p.Budget, p.Status, p.CreatedAt,
	)
	return err
}

// CreateBid inserts a bid
func (r *MarketplaceRepository) CreateBid(ctx context.Context, tx db.DBTX, b *models.Bid) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bids (id, project_id, freelancer_id, amount, proposal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.ProjectID, b.FreelancerID, b.Amount, b.Proposal, b.CreatedAt,
	)
	return err
}

// CreatePayment inserts a payment
func (r *MarketplaceRepository) CreatePayment(ctx context.Context, tx db.DBTX, p *models.Payment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, payer_id, payee_id, project_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.PayerID, p.PayeeID, p.ProjectID, p.Amount, p.Status, p.CreatedAt,
	)
	return err
}

// CreateMessage inserts a message
func (r *MarketplaceRepository) CreateMessage(ctx context.Context, tx db.DBTX, m *models.Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, recipient_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.SenderID, m.RecipientID, m.Body, m.CreatedAt,
	)
	return err
}
