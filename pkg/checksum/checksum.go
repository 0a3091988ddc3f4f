// Package checksum computes the SHA-256 digests recorded for uploaded report media.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// CalculateSHA256 returns the hex SHA-256 of everything read from reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Reader hashes and counts the bytes passing through it, so a backend can stream
// an upload to its destination and learn the digest in the same pass.
type Reader struct {
	r      io.Reader
	hasher hash.Hash
	n      int64
}

// NewReader wraps r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, hasher: sha256.New()}
}

func (c *Reader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.hasher.Write(p[:n])
		c.n += int64(n)
	}
	return n, err
}

// Sum is the hex SHA-256 of the bytes read so far
func (c *Reader) Sum() string {
	return hex.EncodeToString(c.hasher.Sum(nil))
}

// Size is the number of bytes read so far
func (c *Reader) Size() int64 {
	return c.n
}
