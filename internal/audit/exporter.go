package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gigmarket/marketplace/internal/storage"
	"github.com/gigmarket/marketplace/pkg/checksum"
)

// ExportPrefix is the object storage prefix for chain segments.
const ExportPrefix = "audit-exports"

// maxExportEntries bounds a single export request.
const maxExportEntries = 100000

// ErrInvalidExportRange rejects an empty, inverted or oversized export range.
var ErrInvalidExportRange = errors.New("invalid export range")

// ExportResult describes an uploaded chain segment.
type ExportResult struct {
	Path     string    `json:"path"`
	FromSeq  int64     `json:"from_seq"`
	ToSeq    int64     `json:"to_seq"`
	Entries  int       `json:"entries"`
	Size     int64     `json:"size"`
	Checksum string    `json:"checksum"`
	URL      string    `json:"url,omitempty"`
	Created  time.Time `json:"created_at"`
}

// Exporter writes chain segments as JSON lines to object storage, so a copy of
// the chain can be archived outside the database and re-verified later.
type Exporter struct {
	store   Store
	backend storage.Storage
	urlTTL  time.Duration
	now     func() time.Time
}

// NewExporter creates an Exporter. urlTTL controls how long returned download URLs stay valid.
func NewExporter(store Store, backend storage.Storage, urlTTL time.Duration) *Exporter {
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &Exporter{store: store, backend: backend, urlTTL: urlTTL, now: time.Now}
}

// Export uploads entries fromSeq..toSeq inclusive. toSeq 0 means up to the
// current chain head.
func (x *Exporter) Export(ctx context.Context, fromSeq, toSeq int64) (*ExportResult, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}
	if toSeq == 0 {
		head, _, err := x.store.ChainHead(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read audit chain head: %w", err)
		}
		toSeq = head
	}
	if toSeq < fromSeq {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidExportRange, fromSeq, toSeq)
	}
	if toSeq-fromSeq+1 > maxExportEntries {
		return nil, fmt.Errorf("%w: more than %d entries", ErrInvalidExportRange, maxExportEntries)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	count := 0
	after := fromSeq - 1
	for after < toSeq {
		batch, err := x.store.ListAuditLogsAfterSeq(ctx, after, verifyBatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list audit entries: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			if e.Seq > toSeq {
				break
			}
			if err := enc.Encode(e); err != nil {
				return nil, fmt.Errorf("failed to encode entry %d: %w", e.Seq, err)
			}
			count++
			after = e.Seq
		}
		if len(batch) < verifyBatchSize || batch[len(batch)-1].Seq >= toSeq {
			break
		}
	}
	if count == 0 {
		return nil, fmt.Errorf("no audit entries in range %d-%d", fromSeq, toSeq)
	}

	data := buf.Bytes()
	sum := checksum.Sum(data)

	created := x.now().UTC()
	path := fmt.Sprintf("%s/%s_%d-%d.jsonl", ExportPrefix, created.Format("20060102T150405"), fromSeq, toSeq)

	uploaded, err := x.backend.Upload(ctx, path, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to upload audit export: %w", err)
	}
	if uploaded.Checksum != "" && uploaded.Checksum != sum {
		return nil, fmt.Errorf("audit export checksum mismatch: uploaded %s, computed %s", uploaded.Checksum, sum)
	}

	res := &ExportResult{
		Path:     uploaded.Path,
		FromSeq:  fromSeq,
		ToSeq:    toSeq,
		Entries:  count,
		Size:     int64(len(data)),
		Checksum: sum,
		Created:  created,
	}
	if url, err := x.backend.GetURL(ctx, uploaded.Path, x.urlTTL); err == nil {
		res.URL = url
	}
	return res, nil
}

// VerifyExport downloads an export and compares it against the expected checksum.
func (x *Exporter) VerifyExport(ctx context.Context, path, expected string) (bool, error) {
	rc, err := x.backend.Download(ctx, path)
	if err != nil {
		return false, fmt.Errorf("failed to download audit export: %w", err)
	}
	defer rc.Close()
	return checksum.VerifySHA256(rc, expected)
}
