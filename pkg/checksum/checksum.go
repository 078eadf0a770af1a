// Package checksum computes and compares the hex SHA-256 digests recorded for
// audit exports. Storage backends store the digest as object metadata at upload
// time and the verify-export command compares an archived object against the
// digest an operator kept, so both sides must agree on one textual form:
// 64 lowercase hex characters.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

// ErrMalformed is returned for an expected digest that is not 64 hex characters.
var ErrMalformed = errors.New("checksum: expected a 64 character hex SHA-256")

// Sum returns the hex SHA-256 of data
func Sum(data []byte) string {
	s := sha256.Sum256(data)
	return hex.EncodeToString(s[:])
}

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	w := NewWriter(io.Discard)
	if _, err := io.Copy(w, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return w.Sum(), nil
}

// Normalize accepts a digest as operators tend to paste it ("sha256:" prefix,
// upper case, surrounding whitespace) and returns the canonical form.
func Normalize(digest string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(digest))
	d = strings.TrimPrefix(d, "sha256:")
	if len(d) != sha256.Size*2 {
		return "", ErrMalformed
	}
	if _, err := hex.DecodeString(d); err != nil {
		return "", ErrMalformed
	}
	return d, nil
}

// VerifySHA256 verifies that the checksum of data matches the expected checksum
func VerifySHA256(reader io.Reader, expectedChecksum string) (bool, error) {
	expected, err := Normalize(expectedChecksum)
	if err != nil {
		return false, err
	}
	actual, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1, nil
}

// Writer hashes and counts everything written through it.
type Writer struct {
	dst io.Writer
	h   hash.Hash
	n   int64
}

// NewWriter wraps dst. Use io.Discard to only hash.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst, h: sha256.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.h.Write(p[:n])
	w.n += int64(n)
	return n, err
}

// Sum returns the hex digest of the bytes written so far.
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Size is the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.n
}
