package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/config"
	"github.com/gigmarket/marketplace/internal/db/models"
)

func entry(seq int64, table string) *models.AuditLog {
	return &models.AuditLog{
		ID:            "id-" + table,
		Seq:           seq,
		TableName:     table,
		Action:        models.AuditActionUpdate,
		PreviousHash:  audit.GenesisHash,
		HashSignature: "ab12",
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// delivery is one request received by a fake webhook receiver.
type delivery struct {
	header http.Header
	body   []byte
	batch  audit.Batch
}

// receiver answers with the status codes in order, repeating the last one.
func receiver(t *testing.T, statuses ...int) (*httptest.Server, chan delivery) {
	t.Helper()
	got := make(chan delivery, 16)
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var b audit.Batch
		_ = json.Unmarshal(body, &b)
		got <- delivery{header: r.Header.Clone(), body: body, batch: b}

		i := int(atomic.AddInt32(&n, 1)) - 1
		status := http.StatusOK
		if len(statuses) > 0 {
			status = statuses[len(statuses)-1]
			if i < len(statuses) {
				status = statuses[i]
			}
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func next(t *testing.T, got chan delivery) delivery {
	t.Helper()
	select {
	case d := <-got:
		return d
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
		return delivery{}
	}
}

// ---------------------------------------------------------------------------
// MultiShipper
// ---------------------------------------------------------------------------

func TestNewMultiShipper_Configs(t *testing.T) {
	tests := []struct {
		name    string
		cfgs    []config.AuditShipperConfig
		wantLen int
		wantErr bool
	}{
		{"none", nil, 0, false},
		{"disabled skipped", []config.AuditShipperConfig{
			{Enabled: false, Type: "webhook", Webhook: &config.AuditWebhookConfig{URL: "http://example.com"}},
		}, 0, false},
		{"unknown type", []config.AuditShipperConfig{{Enabled: true, Type: "kafka"}}, 0, true},
		{"webhook without block", []config.AuditShipperConfig{{Enabled: true, Type: "webhook"}}, 0, true},
		{"webhook without url", []config.AuditShipperConfig{
			{Enabled: true, Type: "webhook", Webhook: &config.AuditWebhookConfig{}},
		}, 0, true},
		{"file without block", []config.AuditShipperConfig{{Enabled: true, Type: "file"}}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms, err := audit.NewMultiShipper(tt.cfgs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer ms.Close()
			if ms.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", ms.Len(), tt.wantLen)
			}
			if err := ms.Ship(context.Background(), entry(1, "users")); err != nil {
				t.Errorf("Ship() = %v, want nil", err)
			}
		})
	}
}

func TestMultiShipper_ContinuesAfterShipperError(t *testing.T) {
	bad, _ := receiver(t, http.StatusBadRequest)
	good, goodGot := receiver(t)

	ms, err := audit.NewMultiShipper([]config.AuditShipperConfig{
		{Enabled: true, Type: "webhook", Webhook: &config.AuditWebhookConfig{URL: bad.URL, TimeoutSecs: 1}},
		{Enabled: true, Type: "webhook", Webhook: &config.AuditWebhookConfig{URL: good.URL, TimeoutSecs: 1}},
	})
	if err != nil {
		t.Fatalf("NewMultiShipper: %v", err)
	}
	defer ms.Close()

	if err := ms.Ship(context.Background(), entry(1, "users")); err == nil {
		t.Error("Ship() = nil, want the first destination's error")
	}
	if d := next(t, goodGot); d.batch.FirstSeq != 1 {
		t.Errorf("second destination got batch %+v", d.batch)
	}
}

// ---------------------------------------------------------------------------
// WebhookShipper
// ---------------------------------------------------------------------------

func TestWebhookShipper_DeliversSignedBatch(t *testing.T) {
	srv, got := receiver(t)

	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:     srv.URL,
		Secret:  "shh",
		Headers: map[string]string{"X-Auth-Token": "token"},
	})
	if err != nil {
		t.Fatalf("NewWebhookShipper: %v", err)
	}
	defer ws.Close()

	e := entry(7, "payments")
	if err := ws.Ship(context.Background(), e); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	d := next(t, got)
	if ct := d.header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if d.header.Get("X-Auth-Token") != "token" {
		t.Errorf("custom header missing: %v", d.header)
	}
	if d.header.Get(audit.SeqRangeHeader) != "7-7" {
		t.Errorf("%s = %q, want 7-7", audit.SeqRangeHeader, d.header.Get(audit.SeqRangeHeader))
	}
	if sig := d.header.Get(audit.SignatureHeader); sig != audit.SignBody("shh", d.body) {
		t.Errorf("signature = %q does not match body", sig)
	}
	if len(d.batch.Entries) != 1 || d.batch.Entries[0].HashSignature != e.HashSignature || d.batch.Entries[0].TableName != "payments" {
		t.Errorf("batch = %+v", d.batch)
	}
}

func TestWebhookShipper_NoSecretNoSignature(t *testing.T) {
	srv, got := receiver(t)
	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL})
	defer ws.Close()

	if err := ws.Ship(context.Background(), entry(1, "users")); err != nil {
		t.Fatal(err)
	}
	if sig := next(t, got).header.Get(audit.SignatureHeader); sig != "" {
		t.Errorf("unexpected signature %q", sig)
	}
}

func TestWebhookShipper_Retries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		retries   int
		wantCalls int
		wantErr   bool
	}{
		{"5xx then ok", []int{http.StatusBadGateway, http.StatusOK}, 2, 2, false},
		{"5xx exhausts retries", []int{http.StatusServiceUnavailable}, 2, 3, true},
		{"4xx is permanent", []int{http.StatusUnauthorized}, 2, 1, true},
		{"no retries", []int{http.StatusInternalServerError}, 0, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := receiver(t, tt.statuses...)
			ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL, MaxRetries: tt.retries})
			defer ws.Close()

			err := ws.Ship(context.Background(), entry(1, "users"))
			if (err != nil) != tt.wantErr {
				t.Errorf("Ship() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.wantCalls {
				t.Errorf("receiver saw %d requests, want %d", len(got), tt.wantCalls)
			}
		})
	}
}

func TestWebhookShipper_CloseTwice(t *testing.T) {
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: "http://localhost:0", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewWebhookShipper: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
	ws.Close()
}

func TestWebhookShipper_BatchFlushes(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		interval time.Duration
		close    bool
	}{
		{"by size", 2, time.Hour, false},
		{"by interval", 100, 200 * time.Millisecond, false},
		{"on close", 100, time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := receiver(t)
			ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{
				URL:           srv.URL,
				BatchSize:     tt.size,
				FlushInterval: tt.interval,
			})
			defer ws.Close()

			// out of order on purpose: the envelope is sorted by seq
			ws.Ship(context.Background(), entry(11, "bids"))
			ws.Ship(context.Background(), entry(10, "bids"))
			if tt.close {
				time.Sleep(50 * time.Millisecond)
				ws.Close()
			}

			d := next(t, got)
			if d.batch.FirstSeq != 10 || d.batch.LastSeq != 11 || len(d.batch.Entries) != 2 {
				t.Errorf("batch = first %d last %d n %d, want 10-11 with 2 entries",
					d.batch.FirstSeq, d.batch.LastSeq, len(d.batch.Entries))
			}
			if d.header.Get(audit.SeqRangeHeader) != "10-11" {
				t.Errorf("%s = %q", audit.SeqRangeHeader, d.header.Get(audit.SeqRangeHeader))
			}
		})
	}
}

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

func TestFileShipper_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	fs, err := audit.NewFileShipper(&audit.FileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		if err := fs.Ship(context.Background(), entry(i, "messages")); err != nil {
			t.Fatalf("Ship(%d): %v", i, err)
		}
	}
	if err := fs.Close(); err != nil {
		t.Errorf("Close(): %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var seq int64
	for scanner.Scan() {
		var e models.AuditLog
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %d: %v", seq+1, err)
		}
		seq++
		if e.Seq != seq || e.TableName != "messages" {
			t.Errorf("line %d = (%d, %q)", seq, e.Seq, e.TableName)
		}
	}
	if seq != 3 {
		t.Errorf("file has %d lines, want 3", seq)
	}
}

func TestNewFileShipper_InvalidPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodir", "audit.jsonl")
	if _, err := audit.NewFileShipper(&audit.FileConfig{Path: path}); err == nil {
		t.Error("expected error for path with nonexistent parent, got nil")
	}
}

func TestFileShipper_Rotate(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	if err := os.WriteFile(logPath, make([]byte, 1024*1024+1), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs, err := audit.NewFileShipper(&audit.FileConfig{Path: logPath, MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}
	defer fs.Close()

	if err := fs.Ship(context.Background(), entry(1, "users")); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	info, err := os.Stat(logPath)
	if err != nil || info.Size() > 1024 {
		t.Errorf("live file after rotation: %v, %v", info, err)
	}
	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("backup .1 missing after rotation: %v", err)
	}
}
