package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gigmarket/marketplace/internal/db/models"
)

// GenesisHash is the previous_hash of the first entry in the chain.
var GenesisHash = strings.Repeat("0", 64)

// TimestampLayout is the canonical timestamp form. Postgres timestamptz keeps
// microseconds, so entries are truncated to that precision before hashing.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp renders t in the canonical UTC layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(TimestampLayout)
}

// Canonical returns the byte string an entry's hash is computed over: a JSON
// object with the keys table, action, record_id, old_values, new_values,
// metadata, previous_hash and timestamp, always in that order. Nested maps are
// normalized through a JSON round trip so a row read back from JSONB produces
// the same bytes as the value that was written.
func Canonical(e *models.AuditLog) ([]byte, error) {
	var recordID interface{}
	if e.RecordID != nil {
		recordID = *e.RecordID
	}

	fields := []struct {
		key   string
		value interface{}
	}{
		{"table", e.TableName},
		{"action", e.Action},
		{"record_id", recordID},
		{"old_values", e.OldValues},
		{"new_values", e.NewValues},
		{"metadata", e.Metadata},
		{"previous_hash", e.PreviousHash},
		{"timestamp", FormatTimestamp(e.CreatedAt)},
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := encode(f.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := normalize(f.value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", f.key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ComputeHash returns the lowercase hex SHA-256 of Canonical(e).
func ComputeHash(e *models.AuditLog) (string, error) {
	data, err := Canonical(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// normalize encodes v, decodes it into generic JSON values and encodes it again.
// encoding/json sorts map keys, which fixes the order of struct-derived objects too.
func normalize(v interface{}) ([]byte, error) {
	raw, err := encode(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return encode(generic)
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// VerifyLink reports whether e correctly follows prev: consecutive seq,
// previous_hash pointing at prev and a hash that matches e's content. A nil
// prev means e must be the genesis entry. Receivers of shipped batches use it
// without database access.
func VerifyLink(prev, e *models.AuditLog) bool {
	wantSeq, wantPrev := int64(1), GenesisHash
	if prev != nil {
		wantSeq, wantPrev = prev.Seq+1, prev.HashSignature
	}
	if e.Seq != wantSeq || e.PreviousHash != wantPrev {
		return false
	}
	h, err := ComputeHash(e)
	return err == nil && h == e.HashSignature
}
