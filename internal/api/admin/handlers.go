// Package admin implements the administrator endpoints: fraud alert triage,
// case management, identity verification review and audit log inspection.
// These routes sit behind RequireAdmin and are never assessed for fraud.
package admin

import (
	"context"
	"database/sql"

	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/db"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/db/repositories"
	"github.com/gigmarket/marketplace/internal/fraud"
)

// AlertService is the alert workflow. *fraud.AlertManager implements it.
type AlertService interface {
	ListAlerts(ctx context.Context, f models.FraudAlertFilter) ([]*models.FraudAlert, int, error)
	GetAlert(ctx context.Context, id string) (*models.FraudAlert, error)
	ResolveAlert(ctx context.Context, actor fraud.Actor, id, note string) (*models.FraudAlert, error)
	DismissAlert(ctx context.Context, actor fraud.Actor, id, note string) (*models.FraudAlert, error)
	CreateManualAlert(ctx context.Context, actor fraud.Actor, in fraud.ManualAlertInput) (*models.FraudAlert, error)
}

// CaseService is the case workflow. *fraud.CaseManager implements it.
type CaseService interface {
	OpenCase(ctx context.Context, actor fraud.Actor, in fraud.OpenCaseInput) (*models.FraudCase, error)
	GetCase(ctx context.Context, id string) (*models.FraudCase, error)
	ListCases(ctx context.Context, status string, limit, offset int) ([]*models.FraudCase, int, error)
	LinkAlert(ctx context.Context, actor fraud.Actor, caseID, alertID string) (*models.FraudCase, error)
	UpdateCase(ctx context.Context, actor fraud.Actor, caseID string, in fraud.UpdateCaseInput) (*models.FraudCase, error)
	CloseCase(ctx context.Context, actor fraud.Actor, caseID, resolution string) (*models.FraudCase, error)
}

// VerificationStore is the review queue. *repositories.VerificationRepository implements it.
type VerificationStore interface {
	GetVerification(ctx context.Context, id string) (*models.IdentityVerification, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.IdentityVerification, error)
	Review(ctx context.Context, tx db.DBTX, v *models.IdentityVerification) (bool, error)
}

// AuditBrowser reads audit entries. *repositories.AuditRepository implements it.
type AuditBrowser interface {
	ListAuditLogs(ctx context.Context, f models.AuditLogFilter) ([]*models.AuditLog, int, error)
	GetAuditLog(ctx context.Context, id string) (*models.AuditLog, error)
}

// AuditVerifier checks the chain. *audit.Logger implements it.
type AuditVerifier interface {
	VerifyIntegrity(ctx context.Context, id string) (*audit.IntegrityResult, error)
	VerifyChain(ctx context.Context) (*audit.ChainReport, error)
}

// ChainExporter uploads chain segments. *audit.Exporter implements it.
type ChainExporter interface {
	Export(ctx context.Context, fromSeq, toSeq int64) (*audit.ExportResult, error)
}

// Trail runs a transaction whose audit entries commit with it.
type Trail interface {
	Transact(ctx context.Context, fn func(tx *sql.Tx, record audit.RecordFunc) error) error
}

var (
	_ AlertService      = (*fraud.AlertManager)(nil)
	_ CaseService       = (*fraud.CaseManager)(nil)
	_ VerificationStore = (*repositories.VerificationRepository)(nil)
	_ AuditBrowser      = (*repositories.AuditRepository)(nil)
	_ AuditVerifier     = (*audit.Logger)(nil)
	_ ChainExporter     = (*audit.Exporter)(nil)
	_ Trail             = (*audit.Logger)(nil)
)
