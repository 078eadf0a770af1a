package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/gigmarket/marketplace/internal/fraud"
)

var _ fraud.SignalSource = (*SignalRepository)(nil)

func newSignalRepo(t *testing.T) (*SignalRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSignalRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func countRow(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func TestSignalRepository_Counts(t *testing.T) {
	since := time.Now().Add(-time.Hour)
	tests := []struct {
		name  string
		query string
		call  func(r *SignalRepository) (int, error)
	}{
		{"payments", "FROM payments WHERE payer_id", func(r *SignalRepository) (int, error) {
			return r.CountPayments(context.Background(), "u1", since)
		}},
		{"bids", "FROM bids WHERE freelancer_id", func(r *SignalRepository) (int, error) {
			return r.CountBids(context.Background(), "u1", since)
		}},
		{"projects", "FROM projects WHERE client_id", func(r *SignalRepository) (int, error) {
			return r.CountProjects(context.Background(), "u1", since)
		}},
		{"messages", "FROM messages WHERE sender_id", func(r *SignalRepository) (int, error) {
			return r.CountMessages(context.Background(), "u1", since)
		}},
		{"profile changes", "FROM audit_logs", func(r *SignalRepository) (int, error) {
			return r.CountProfileChanges(context.Background(), "u1", since)
		}},
		{"requests from ip", "ip_address", func(r *SignalRepository) (int, error) {
			return r.CountRequestsFromIP(context.Background(), "u1", "10.0.0.1", since)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newSignalRepo(t)
			mock.ExpectQuery(tt.query).WillReturnRows(countRow(4))

			n, err := tt.call(repo)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n != 4 {
				t.Errorf("count = %d, want 4", n)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestSignalRepository_CountError(t *testing.T) {
	repo, mock := newSignalRepo(t)
	mock.ExpectQuery("FROM payments").WillReturnError(errDB)

	n, err := repo.CountPayments(context.Background(), "u1", time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 0 {
		t.Errorf("count = %d on error, want 0", n)
	}
}

func TestSignalRepository_CountProfileChangesFiltersWrites(t *testing.T) {
	repo, mock := newSignalRepo(t)
	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery("table_name = 'profiles'").
		WithArgs("CREATE", "UPDATE", "u1", since).
		WillReturnRows(countRow(2))

	n, err := repo.CountProfileChanges(context.Background(), "u1", since)
	if err != nil || n != 2 {
		t.Errorf("CountProfileChanges = %d, %v", n, err)
	}
}

func TestSignalRepository_Averages(t *testing.T) {
	repo, mock := newSignalRepo(t)
	mock.ExpectQuery("AVG\\(amount\\).*FROM payments").
		WithArgs("u1", "completed").
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(42.5))
	mock.ExpectQuery("AVG\\(amount\\).*FROM bids").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(nil))

	avg, err := repo.AveragePaymentAmount(context.Background(), "u1")
	if err != nil || avg != 42.5 {
		t.Errorf("AveragePaymentAmount = %v, %v", avg, err)
	}
	avg, err = repo.AverageBidAmount(context.Background(), "u1")
	if err != nil || avg != 0 {
		t.Errorf("AverageBidAmount with no bids = %v, %v; want 0", avg, err)
	}
}

func TestSignalRepository_CompletedPaymentStats(t *testing.T) {
	repo, mock := newSignalRepo(t)
	mock.ExpectQuery("TRUNC\\(amount\\)").
		WithArgs("u1", "completed", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"total", "whole"}).AddRow(10, 9))

	total, whole, err := repo.CompletedPaymentStats(context.Background(), "u1", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 10 || whole != 9 {
		t.Errorf("stats = (%d, %d), want (10, 9)", total, whole)
	}
}

func TestSignalRepository_CurrentEmail(t *testing.T) {
	repo, mock := newSignalRepo(t)
	mock.ExpectQuery("SELECT email FROM users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("a@example.com"))
	mock.ExpectQuery("SELECT email FROM users").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"email"}))

	email, err := repo.CurrentEmail(context.Background(), "u1")
	if err != nil || email != "a@example.com" {
		t.Errorf("CurrentEmail = %q, %v", email, err)
	}
	email, err = repo.CurrentEmail(context.Background(), "ghost")
	if err != nil || email != "" {
		t.Errorf("CurrentEmail(unknown) = %q, %v; want empty, nil", email, err)
	}
}
