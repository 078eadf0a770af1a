package repositories

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/gigmarket/marketplace/internal/db/models"
)

func newMarketplaceRepo(t *testing.T) (*MarketplaceRepository, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMarketplaceRepository(sqlx.NewDb(db, "sqlmock")), db, mock
}

func TestMarketplaceRepository_GetProfile(t *testing.T) {
	repo, _, mock := newMarketplaceRepo(t)
	cols := []string{"user_id", "display_name", "headline", "bio", "hourly_rate", "updated_at"}
	mock.ExpectQuery("FROM profiles WHERE user_id").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", "Ada", nil, nil, 85.0, time.Now()))
	mock.ExpectQuery("FROM profiles WHERE user_id").
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows(cols))

	p, err := repo.GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *p.DisplayName != "Ada" || p.Headline != nil || *p.HourlyRate != 85 {
		t.Errorf("unexpected profile: %+v", p)
	}

	p, err = repo.GetProfile(context.Background(), "u2")
	if err != nil || p != nil {
		t.Errorf("GetProfile(no profile) = %v, %v; want nil, nil", p, err)
	}
}

func TestMarketplaceRepository_GetProject(t *testing.T) {
	repo, _, mock := newMarketplaceRepo(t)
	mock.ExpectQuery("FROM projects WHERE id").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "title", "description", "budget", "status", "created_at"}).
			AddRow("p1", "u1", "Logo", "Need a logo", 300.0, "open", time.Now()))

	p, err := repo.GetProject(context.Background(), "p1")
	if err != nil || p.ClientID != "u1" || p.Budget != 300 {
		t.Errorf("GetProject = %+v, %v", p, err)
	}
}

func TestMarketplaceRepository_Inserts(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		query string
		run   func(r *MarketplaceRepository, tx *sql.DB) error
	}{
		{"profile upsert", "ON CONFLICT \\(user_id\\) DO UPDATE", func(r *MarketplaceRepository, tx *sql.DB) error {
			return r.UpsertProfile(context.Background(), tx, &models.Profile{UserID: "u1", UpdatedAt: now})
		}},
		{"project", "INSERT INTO projects", func(r *MarketplaceRepository, tx *sql.DB) error {
			return r.CreateProject(context.Background(), tx, &models.Project{ID: "p1", ClientID: "u1", Title: "t", Budget: 10, Status: "open", CreatedAt: now})
		}},
		{"bid", "INSERT INTO bids", func(r *MarketplaceRepository, tx *sql.DB) error {
			return r.CreateBid(context.Background(), tx, &models.Bid{ID: "b1", ProjectID: "p1", FreelancerID: "u2", Amount: 50, CreatedAt: now})
		}},
		{"payment", "INSERT INTO payments", func(r *MarketplaceRepository, tx *sql.DB) error {
			return r.CreatePayment(context.Background(), tx, &models.Payment{ID: "pay1", PayerID: "u1", Amount: 99.99, Status: models.PaymentStatusCompleted, CreatedAt: now})
		}},
		{"message", "INSERT INTO messages", func(r *MarketplaceRepository, tx *sql.DB) error {
			return r.CreateMessage(context.Background(), tx, &models.Message{ID: "m1", SenderID: "u1", RecipientID: "u2", Body: "hi", CreatedAt: now})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, db, mock := newMarketplaceRepo(t)
			mock.ExpectExec(tt.query).WillReturnResult(sqlmock.NewResult(0, 1))
			if err := tt.run(repo, db); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestMarketplaceRepository_InsertError(t *testing.T) {
	repo, db, mock := newMarketplaceRepo(t)
	mock.ExpectExec("INSERT INTO payments").WillReturnError(errDB)

	err := repo.CreatePayment(context.Background(), db, &models.Payment{ID: "pay1", PayerID: "u1"})
	if err == nil {
		t.Fatal("expected error")
	}
}
