// Package audit maintains the append-only, hash-chained audit log.
//
// Every entry carries the SHA-256 of its canonical content and the hash of the
// entry written before it, forming a single global chain rooted at GenesisHash.
// Appends serialize on the audit_chain_head row lock so concurrent writers can
// never fork the chain. Committed entries are additionally forwarded to the
// configured Shippers (webhook, file) so a copy lives outside the database.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gigmarket/marketplace/internal/db"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/safego"
	"github.com/gigmarket/marketplace/internal/telemetry"
)

var (
	// ErrEntryNotFound is returned when a referenced audit entry does not exist.
	ErrEntryNotFound = errors.New("audit log entry not found")
	// ErrChainHeadMissing means the audit_chain_head row was never seeded.
	ErrChainHeadMissing = errors.New("audit chain head missing")
)

// verifyBatchSize is the page size used when walking the chain.
const verifyBatchSize = 500

// maxReportedInvalid caps ChainReport.InvalidIDs.
const maxReportedInvalid = 100

// Store is the persistence the Logger needs. AuditRepository implements it.
type Store interface {
	// LockChainHead locks the chain head row for the rest of tx and returns it.
	LockChainHead(ctx context.Context, tx db.DBTX) (seq int64, hash string, err error)
	InsertAuditLog(ctx context.Context, tx db.DBTX, entry *models.AuditLog) error
	AdvanceChainHead(ctx context.Context, tx db.DBTX, seq int64, hash string) error
	// ChainHead reads the head without locking.
	ChainHead(ctx context.Context) (seq int64, hash string, err error)
	GetAuditLog(ctx context.Context, id string) (*models.AuditLog, error)
	GetAuditLogBySeq(ctx context.Context, seq int64) (*models.AuditLog, error)
	ListAuditLogsAfterSeq(ctx context.Context, afterSeq int64, limit int) ([]*models.AuditLog, error)
}

// TxBeginner starts transactions; *sql.DB satisfies it.
type TxBeginner = db.Beginner

// RecordFunc appends an entry inside the surrounding transaction.
type RecordFunc func(in LogInput) error

// LogInput describes one fact to record.
type LogInput struct {
	TableName string
	Action    string
	RecordID  string
	UserID    string
	UserType  string
	OldValues map[string]interface{}
	NewValues map[string]interface{}
	Metadata  map[string]interface{}
	IPAddress string
	UserAgent string
	SessionID string
}

// Logger appends to and verifies the audit chain.
type Logger struct {
	db      TxBeginner
	store   Store
	shipper Shipper
	now     func() time.Time
}

// NewLogger creates a Logger. shipper may be nil.
func NewLogger(database TxBeginner, store Store, shipper Shipper) *Logger {
	return &Logger{
		db:      database,
		store:   store,
		shipper: shipper,
		now:     time.Now,
	}
}

// CreateLog appends an entry in its own transaction and ships it once committed.
// Errors are returned to the caller: a state change whose audit record cannot be
// written should not be reported as successful.
func (l *Logger) CreateLog(ctx context.Context, in LogInput) (*models.AuditLog, error) {
	return l.create(ctx, in, "state_change")
}

// CreateLogTx appends an entry inside the caller's transaction, so the record
// commits or rolls back together with the change it describes. The caller
// should pass the returned entry to Publish after a successful commit.
func (l *Logger) CreateLogTx(ctx context.Context, tx db.DBTX, in LogInput) (*models.AuditLog, error) {
	entry, err := l.appendTx(ctx, tx, in)
	if err != nil {
		telemetry.AuditLogWritesTotal.WithLabelValues("state_change", "error").Inc()
		return nil, err
	}
	telemetry.AuditLogWritesTotal.WithLabelValues("state_change", "ok").Inc()
	return entry, nil
}

// RecordBehavior writes a sampled request entry. It never fails: store errors
// are logged and counted, because behavioral telemetry must not affect the
// request that produced it.
func (l *Logger) RecordBehavior(ctx context.Context, in LogInput) {
	if _, err := l.create(ctx, in, "behavioral"); err != nil {
		slog.Warn("audit: failed to record behavioral entry",
			"table", in.TableName, "user_id", in.UserID, "error", err)
	}
}

// Publish forwards committed entries to the shippers in the background.
func (l *Logger) Publish(entries ...*models.AuditLog) {
	if l.shipper == nil || len(entries) == 0 {
		return
	}
	safego.Go("audit.ship", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, e := range entries {
			if err := l.shipper.Ship(ctx, e); err != nil {
				slog.Warn("audit: failed to ship entry", "id", e.ID, "seq", e.Seq, "error", err)
			}
		}
	})
}

// Transact runs fn in a transaction and lets it record audit entries that
// commit atomically with its changes. Entries are published only after commit;
// an audit write failure rolls everything back.
func (l *Logger) Transact(ctx context.Context, fn func(tx *sql.Tx, record RecordFunc) error) error {
	var entries []*models.AuditLog
	err := db.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		return fn(tx, func(in LogInput) error {
			e, err := l.CreateLogTx(ctx, tx, in)
			if err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return err
	}
	l.Publish(entries...)
	return nil
}

func (l *Logger) create(ctx context.Context, in LogInput, kind string) (*models.AuditLog, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		telemetry.AuditLogWritesTotal.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	entry, err := l.appendTx(ctx, tx, in)
	if err != nil {
		_ = tx.Rollback()
		telemetry.AuditLogWritesTotal.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		telemetry.AuditLogWritesTotal.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("failed to commit audit entry: %w", err)
	}
	telemetry.AuditLogWritesTotal.WithLabelValues(kind, "ok").Inc()
	l.Publish(entry)
	return entry, nil
}

func (l *Logger) appendTx(ctx context.Context, tx db.DBTX, in LogInput) (*models.AuditLog, error) {
	if in.TableName == "" || in.Action == "" {
		return nil, fmt.Errorf("audit entry requires table name and action")
	}

	lastSeq, lastHash, err := l.store.LockChainHead(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock audit chain head: %w", err)
	}

	entry := &models.AuditLog{
		ID:           uuid.New().String(),
		Seq:          lastSeq + 1,
		TableName:    in.TableName,
		Action:       in.Action,
		RecordID:     optional(in.RecordID),
		UserID:       optional(in.UserID),
		UserType:     in.UserType,
		OldValues:    in.OldValues,
		NewValues:    in.NewValues,
		Metadata:     in.Metadata,
		IPAddress:    optional(in.IPAddress),
		UserAgent:    optional(in.UserAgent),
		SessionID:    optional(in.SessionID),
		PreviousHash: lastHash,
		CreatedAt:    l.now().UTC().Truncate(time.Microsecond),
	}
	if entry.UserType == "" {
		entry.UserType = models.UserTypeSystem
	}

	entry.HashSignature, err = ComputeHash(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to hash audit entry: %w", err)
	}

	if err := l.store.InsertAuditLog(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("failed to insert audit entry: %w", err)
	}
	if err := l.store.AdvanceChainHead(ctx, tx, entry.Seq, entry.HashSignature); err != nil {
		return nil, fmt.Errorf("failed to advance audit chain head: %w", err)
	}
	return entry, nil
}

// IntegrityResult is the outcome of verifying a single entry.
type IntegrityResult struct {
	ID           string `json:"id"`
	Seq          int64  `json:"seq"`
	Valid        bool   `json:"valid"`
	HashValid    bool   `json:"hash_valid"`
	LinkValid    bool   `json:"link_valid"`
	StoredHash   string `json:"stored_hash"`
	ComputedHash string `json:"computed_hash"`
}

// VerifyIntegrity recomputes the entry's hash from its stored content and checks
// that its previous_hash matches the stored hash of its predecessor.
func (l *Logger) VerifyIntegrity(ctx context.Context, id string) (*IntegrityResult, error) {
	entry, err := l.store.GetAuditLog(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entry: %w", err)
	}
	if entry == nil {
		return nil, ErrEntryNotFound
	}

	computed, err := ComputeHash(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to hash audit entry: %w", err)
	}

	expectedPrev := GenesisHash
	if entry.Seq > 1 {
		prev, err := l.store.GetAuditLogBySeq(ctx, entry.Seq-1)
		if err != nil {
			return nil, fmt.Errorf("failed to load predecessor: %w", err)
		}
		if prev == nil {
			expectedPrev = ""
		} else {
			expectedPrev = prev.HashSignature
		}
	}

	res := &IntegrityResult{
		ID:           entry.ID,
		Seq:          entry.Seq,
		HashValid:    computed == entry.HashSignature,
		LinkValid:    expectedPrev != "" && entry.PreviousHash == expectedPrev,
		StoredHash:   entry.HashSignature,
		ComputedHash: computed,
	}
	res.Valid = res.HashValid && res.LinkValid
	return res, nil
}

// ChainReport summarizes a full chain verification.
type ChainReport struct {
	Valid           bool      `json:"valid"`
	Checked         int64     `json:"checked"`
	FirstInvalidSeq *int64    `json:"first_invalid_seq,omitempty"`
	InvalidIDs      []string  `json:"invalid_ids,omitempty"`
	HeadSeq         int64     `json:"head_seq"`
	HeadConsistent  bool      `json:"head_consistent"`
	VerifiedAt      time.Time `json:"verified_at"`
}

// VerifyChain walks every entry in seq order from genesis. Each hash is
// recomputed with the previous entry's recomputed hash rather than the stored
// previous_hash, so altering one entry invalidates it and every entry after it.
// Gaps in seq (deleted rows) and a head row that disagrees with the last entry
// (truncated tail) also fail verification.
func (l *Logger) VerifyChain(ctx context.Context) (*ChainReport, error) {
	report := &ChainReport{Valid: true, VerifiedAt: l.now().UTC()}

	expectedPrev := GenesisHash
	expectedSeq := int64(1)
	var after int64

	markInvalid := func(e *models.AuditLog) {
		report.Valid = false
		if report.FirstInvalidSeq == nil {
			seq := e.Seq
			report.FirstInvalidSeq = &seq
		}
		if len(report.InvalidIDs) < maxReportedInvalid {
			report.InvalidIDs = append(report.InvalidIDs, e.ID)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := l.store.ListAuditLogsAfterSeq(ctx, after, verifyBatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list audit entries: %w", err)
		}
		for _, e := range batch {
			report.Checked++

			linked := *e
			linked.PreviousHash = expectedPrev
			recomputed, err := ComputeHash(&linked)
			if err != nil {
				return nil, fmt.Errorf("failed to hash entry %s: %w", e.ID, err)
			}

			if e.Seq != expectedSeq || e.PreviousHash != expectedPrev || recomputed != e.HashSignature {
				markInvalid(e)
			}

			expectedPrev = recomputed
			expectedSeq = e.Seq + 1
			after = e.Seq
		}
		if len(batch) < verifyBatchSize {
			break
		}
	}

	headSeq, headHash, err := l.store.ChainHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit chain head: %w", err)
	}
	report.HeadSeq = headSeq
	report.HeadConsistent = headSeq == after && headHash == expectedPrev
	if !report.HeadConsistent {
		report.Valid = false
	}

	result := "valid"
	if !report.Valid {
		result = "broken"
	}
	telemetry.AuditChainVerificationsTotal.WithLabelValues(result).Inc()
	return report, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
