package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigmarket/marketplace/internal/db/models"
	"github.com/gigmarket/marketplace/internal/storage"
	"github.com/gigmarket/marketplace/pkg/checksum"
)

type memBackend struct {
	objects map[string][]byte
}

func (m *memBackend) Upload(_ context.Context, path string, r io.Reader, _ int64) (*storage.UploadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.objects[path] = data
	sum, _ := checksum.CalculateSHA256(bytes.NewReader(data))
	return &storage.UploadResult{Path: path, Size: int64(len(data)), Checksum: sum}, nil
}

func (m *memBackend) Download(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBackend) Delete(_ context.Context, path string) error {
	delete(m.objects, path)
	return nil
}

func (m *memBackend) GetURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return "https://exports.example/" + path, nil
}

func (m *memBackend) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func (m *memBackend) GetMetadata(_ context.Context, path string) (*storage.FileMetadata, error) {
	return &storage.FileMetadata{Path: path, Size: int64(len(m.objects[path]))}, nil
}

func TestExport_WritesRangeAsJSONLines(t *testing.T) {
	l, store, _ := newTestLogger(t, 5)
	writeEntries(t, l, 5)

	backend := &memBackend{objects: map[string][]byte{}}
	x := NewExporter(store, backend, time.Minute)
	x.now = func() time.Time { return time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC) }

	res, err := x.Export(context.Background(), 2, 4)
	require.NoError(t, err)
	assert.Equal(t, "audit-exports/20260601T083000_2-4.jsonl", res.Path)
	assert.Equal(t, 3, res.Entries)
	assert.True(t, strings.HasPrefix(res.URL, "https://exports.example/"))

	var seqs []int64
	sc := bufio.NewScanner(bytes.NewReader(backend.objects[res.Path]))
	for sc.Scan() {
		var e models.AuditLog
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		seqs = append(seqs, e.Seq)
	}
	assert.Equal(t, []int64{2, 3, 4}, seqs)

	ok, err := x.VerifyExport(context.Background(), res.Path, res.Checksum)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExport_DefaultsToChainHead(t *testing.T) {
	l, store, _ := newTestLogger(t, 3)
	writeEntries(t, l, 3)

	x := NewExporter(store, &memBackend{objects: map[string][]byte{}}, 0)
	res, err := x.Export(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.FromSeq)
	assert.Equal(t, int64(3), res.ToSeq)
	assert.Equal(t, 3, res.Entries)
}

func TestExport_RejectsInvalidRange(t *testing.T) {
	x := NewExporter(newMemStore(), &memBackend{objects: map[string][]byte{}}, 0)
	_, err := x.Export(context.Background(), 5, 2)
	assert.ErrorIs(t, err, ErrInvalidExportRange)
}

func TestExport_EmptyRange(t *testing.T) {
	l, store, _ := newTestLogger(t, 1)
	writeEntries(t, l, 1)
	x := NewExporter(store, &memBackend{objects: map[string][]byte{}}, 0)
	_, err := x.Export(context.Background(), 10, 12)
	assert.Error(t, err)
}

func TestVerifyExport_DetectsModifiedObject(t *testing.T) {
	l, store, _ := newTestLogger(t, 2)
	writeEntries(t, l, 2)
	backend := &memBackend{objects: map[string][]byte{}}
	x := NewExporter(store, backend, 0)

	res, err := x.Export(context.Background(), 1, 2)
	require.NoError(t, err)
	backend.objects[res.Path] = append(backend.objects[res.Path], '\n')

	ok, err := x.VerifyExport(context.Background(), res.Path, res.Checksum)
	require.NoError(t, err)
	assert.False(t, ok)
}
