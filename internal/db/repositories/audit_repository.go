// audit_repository.go implements AuditRepository: chained inserts under the
// audit_chain_head row lock, and the read paths used for browsing, single-entry
// verification and full chain walks.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/db"
	"github.com/gigmarket/marketplace/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `id, seq, table_name, action, record_id, user_id, user_type, old_values, new_values,
		metadata, ip_address, user_agent, session_id, previous_hash, hash_signature, created_at`

// LockChainHead takes the row lock that serializes appends and returns the
// current head. The lock is held until tx ends.
func (r *AuditRepository) LockChainHead(ctx context.Context, tx db.DBTX) (int64, string, error) {
	var seq int64
	var hash string
	err := tx.QueryRowContext(ctx,
		`SELECT last_seq, last_hash FROM audit_chain_head WHERE id = 1 FOR UPDATE`,
	).Scan(&seq, &hash)
	if err == sql.ErrNoRows {
		return 0, "", audit.ErrChainHeadMissing
	}
	if err != nil {
		return 0, "", err
	}
	return seq, hash, nil
}

// AdvanceChainHead moves the head to the entry just inserted.
func (r *AuditRepository) AdvanceChainHead(ctx context.Context, tx db.DBTX, seq int64, hash string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE audit_chain_head SET last_seq = $1, last_hash = $2, updated_at = NOW() WHERE id = 1 AND last_seq = $3`,
		seq, hash, seq-1,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("audit chain head moved concurrently (expected last_seq %d)", seq-1)
	}
	return nil
}

// ChainHead reads the head without locking.
func (r *AuditRepository) ChainHead(ctx context.Context) (int64, string, error) {
	var seq int64
	var hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT last_seq, last_hash FROM audit_chain_head WHERE id = 1`,
	).Scan(&seq, &hash)
	if err == sql.ErrNoRows {
		return 0, "", audit.ErrChainHeadMissing
	}
	return seq, hash, err
}

// InsertAuditLog writes a fully sealed entry.
func (r *AuditRepository) InsertAuditLog(ctx context.Context, tx db.DBTX, e *models.AuditLog) error {
	oldJSON, err := marshalJSONB(e.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalJSONB(e.NewValues)
	if err != nil {
		return err
	}
	metaJSON, err := marshalJSONB(e.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = tx.ExecContext(ctx, query,
		e.ID,
		e.Seq,
		e.TableName,
		e.Action,
		e.RecordID,
		e.UserID,
		e.UserType,
		oldJSON,
		newJSON,
		metaJSON,
		e.IPAddress,
		e.UserAgent,
		e.SessionID,
		e.PreviousHash,
		e.HashSignature,
		e.CreatedAt,
	)
	return err
}

// ListAuditLogs retrieves audit logs with optional filters and pagination, newest first
func (r *AuditRepository) ListAuditLogs(ctx context.Context, f models.AuditLogFilter) ([]*models.AuditLog, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	add := func(clause string, v interface{}) {
		where += fmt.Sprintf(clause, paramIndex)
		args = append(args, v)
		paramIndex++
	}

	if f.TableName != "" {
		add(` AND table_name = $%d`, f.TableName)
	}
	if f.Action != "" {
		add(` AND action = $%d`, f.Action)
	}
	if f.UserID != "" {
		add(` AND user_id = $%d`, f.UserID)
	}
	if f.RecordID != "" {
		add(` AND record_id = $%d`, f.RecordID)
	}
	if f.From != nil {
		add(` AND created_at >= $%d`, *f.From)
	}
	if f.To != nil {
		add(` AND created_at <= $%d`, *f.To)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + auditColumns + ` FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY seq DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs, err := scanAuditLogs(rows)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// GetAuditLog retrieves a single audit log entry by ID
func (r *AuditRepository) GetAuditLog(ctx context.Context, id string) (*models.AuditLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id)
	e, err := scanAuditLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// GetAuditLogBySeq retrieves the entry at a chain position
func (r *AuditRepository) GetAuditLogBySeq(ctx context.Context, seq int64) (*models.AuditLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE seq = $1`, seq)
	e, err := scanAuditLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ListAuditLogsAfterSeq returns up to limit entries with seq > afterSeq in chain order
func (r *AuditRepository) ListAuditLogsAfterSeq(ctx context.Context, afterSeq int64, limit int) ([]*models.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE seq > $1 ORDER BY seq ASC LIMIT $2`,
		afterSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditLogs(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	e := &models.AuditLog{}
	var oldJSON, newJSON, metaJSON []byte

	err := row.Scan(
		&e.ID,
		&e.Seq,
		&e.TableName,
		&e.Action,
		&e.RecordID,
		&e.UserID,
		&e.UserType,
		&oldJSON,
		&newJSON,
		&metaJSON,
		&e.IPAddress,
		&e.UserAgent,
		&e.SessionID,
		&e.PreviousHash,
		&e.HashSignature,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.OldValues, err = unmarshalJSONB(oldJSON); err != nil {
		return nil, err
	}
	if e.NewValues, err = unmarshalJSONB(newJSON); err != nil {
		return nil, err
	}
	if e.Metadata, err = unmarshalJSONB(metaJSON); err != nil {
		return nil, err
	}
	return e, nil
}

func scanAuditLogs(rows *sql.Rows) ([]*models.AuditLog, error) {
	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		e, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// marshalJSONB encodes a map for a nullable JSONB column; nil stays NULL.
func marshalJSONB(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// unmarshalJSONB is the inverse of marshalJSONB.
func unmarshalJSONB(data []byte) (map[string]interface{}, error) {
	if data == nil {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		// JSON null literal
		return nil, nil
	}
	return m, nil
}
