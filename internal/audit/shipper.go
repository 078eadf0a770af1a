package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gigmarket/marketplace/internal/config"
	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/telemetry"
)

// Shipper forwards committed audit entries to a destination outside the database.
// A shipped copy lets an auditor detect a rewritten chain even if the attacker
// recomputed every hash in the database.
type Shipper interface {
	Ship(ctx context.Context, entry *models.AuditLog) error
	Close() error
}

// Webhook request headers. The signature is hex HMAC-SHA256 of the body under
// the configured secret, so a receiver can reject entries that did not come
// from this service.
const (
	SignatureHeader = "X-Audit-Signature"
	SeqRangeHeader  = "X-Audit-Seq-Range"
)

// Batch is the body of every webhook delivery. Entries are in ascending seq
// order; receivers chain-check them with VerifyLink.
type Batch struct {
	FirstSeq int64              `json:"first_seq"`
	LastSeq  int64              `json:"last_seq"`
	Entries  []*models.AuditLog `json:"entries"`
}

func newBatch(entries []*models.AuditLog) Batch {
	sorted := append([]*models.AuditLog(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	b := Batch{Entries: sorted}
	if len(sorted) > 0 {
		b.FirstSeq, b.LastSeq = sorted[0].Seq, sorted[len(sorted)-1].Seq
	}
	return b
}

// SignBody returns the SignatureHeader value for body.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// WebhookConfig holds webhook shipper configuration
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Secret  string
	Timeout time.Duration
	// MaxRetries applies to network errors and 5xx responses only
	MaxRetries int
	// BatchSize is how many entries to batch before sending (0 = no batching)
	BatchSize     int
	FlushInterval time.Duration
}

// FileConfig holds file shipper configuration
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper builds the configured shippers, skipping disabled ones.
func NewMultiShipper(configs []config.AuditShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{shippers: make([]Shipper, 0, len(configs))}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(&WebhookConfig{
				URL:           cfg.Webhook.URL,
				Headers:       cfg.Webhook.Headers,
				Secret:        cfg.Webhook.Secret,
				Timeout:       time.Duration(cfg.Webhook.TimeoutSecs) * time.Second,
				MaxRetries:    cfg.Webhook.MaxRetries,
				BatchSize:     cfg.Webhook.BatchSize,
				FlushInterval: time.Duration(cfg.Webhook.FlushInterval) * time.Second,
			})
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(&FileConfig{
				Path:       cfg.File.Path,
				MaxSizeMB:  cfg.File.MaxSizeMB,
				MaxBackups: cfg.File.MaxBackups,
			})
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}
		ms.Add(shipper)
	}

	return ms, nil
}

// Add appends a shipper.
func (ms *MultiShipper) Add(s Shipper) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.shippers = append(ms.shippers, s)
}

// Len returns the number of active shippers.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends an entry to every destination. One failing destination does not
// stop delivery to the others; all errors are joined.
func (ms *MultiShipper) Ship(ctx context.Context, entry *models.AuditLog) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			errs = append(errs, err)
			slog.Warn("audit shipper error", "seq", entry.Seq, "error", err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WebhookShipper posts signed Batch envelopes, one entry at a time or batched.
type WebhookShipper struct {
	cfg       *WebhookConfig
	client    *http.Client
	backoff   time.Duration
	batchCh   chan *models.AuditLog
	batch     []*models.AuditLog
	batchMu   sync.Mutex
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// errPermanent marks a delivery failure that retrying cannot fix.
type errPermanent struct{ status int }

func (e errPermanent) Error() string { return fmt.Sprintf("webhook returned status %d", e.status) }

// NewWebhookShipper creates a new webhook shipper
func NewWebhookShipper(cfg *WebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	ws := &WebhookShipper{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		backoff: 200 * time.Millisecond,
		batchCh: make(chan *models.AuditLog, 1000),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if cfg.BatchSize > 0 {
		go ws.processBatches()
	} else {
		close(ws.doneCh)
	}

	return ws, nil
}

func (ws *WebhookShipper) processBatches() {
	defer close(ws.doneCh)

	flushInterval := ws.cfg.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-ws.batchCh:
			ws.batchMu.Lock()
			ws.batch = append(ws.batch, entry)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ticker.C:
			ws.batchMu.Lock()
			ws.flushBatch()
			ws.batchMu.Unlock()
		case <-ws.closeCh:
			ws.batchMu.Lock()
		drain:
			for {
				select {
				case entry := <-ws.batchCh:
					ws.batch = append(ws.batch, entry)
				default:
					break drain
				}
			}
			ws.flushBatch()
			ws.batchMu.Unlock()
			return
		}
	}
}

// flushBatch sends the current batch; callers hold batchMu.
func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout*time.Duration(ws.cfg.MaxRetries+1))
	defer cancel()

	if err := ws.deliver(ctx, ws.batch); err != nil {
		slog.Warn("failed to send audit batch", "entries", len(ws.batch), "error", err)
	}
	ws.batch = ws.batch[:0]
}

// Ship queues the entry when batching, or delivers it now.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *models.AuditLog) error {
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- entry:
			return nil
		default:
			// queue full, send directly
		}
	}
	return ws.deliver(ctx, []*models.AuditLog{entry})
}

func (ws *WebhookShipper) deliver(ctx context.Context, entries []*models.AuditLog) error {
	batch := newBatch(entries)
	data, err := json.Marshal(batch)
	if err != nil {
		telemetry.AuditShipmentsTotal.WithLabelValues("webhook", "error").Inc()
		return fmt.Errorf("failed to marshal audit batch: %w", err)
	}

	for attempt := 0; ; attempt++ {
		err = ws.send(ctx, data, batch)
		var perm errPermanent
		if err == nil || errors.As(err, &perm) || attempt >= ws.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(ws.backoff << attempt):
			continue
		}
		break
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.AuditShipmentsTotal.WithLabelValues("webhook", result).Add(float64(len(entries)))
	return err
}

func (ws *WebhookShipper) send(ctx context.Context, data []byte, batch Batch) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(SeqRangeHeader, strconv.FormatInt(batch.FirstSeq, 10)+"-"+strconv.FormatInt(batch.LastSeq, 10))
	if ws.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, SignBody(ws.cfg.Secret, data))
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return errPermanent{status: resp.StatusCode}
	}
	return nil
}

// Close flushes pending batches and stops the batch processor.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	<-ws.doneCh
	return nil
}

// FileShipper appends entries as JSON lines, rotating by size. Point it at a
// path on separate, append-only storage to keep an offline copy of the chain.
type FileShipper struct {
	cfg  *FileConfig
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper creates a new file shipper
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

// Ship appends one line
func (fs *FileShipper) Ship(_ context.Context, entry *models.AuditLog) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				slog.Error("failed to rotate audit log", "path", fs.cfg.Path, "error", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		telemetry.AuditShipmentsTotal.WithLabelValues("file", "error").Inc()
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		telemetry.AuditShipmentsTotal.WithLabelValues("file", "error").Inc()
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	telemetry.AuditShipmentsTotal.WithLabelValues("file", "ok").Inc()
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and reopens.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.cfg.Path, i), fmt.Sprintf("%s.%d", fs.cfg.Path, i+1))
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")

	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
