// Package integrity computes the two digests used by the node: a SHA-256
// content digest that fingerprints whole shared files, and the weak per-chunk
// checksum carried on the wire.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ChunkChecksum returns the sum of the unsigned byte values of data modulo
// 2^32. Existing peers compute exactly this value, so it must not be replaced
// by a real CRC without a protocol version bump.
func ChunkChecksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

// ContentDigest returns the hex encoded SHA-256 of everything read from r.
func ContentDigest(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileDigest returns the content digest of the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	digest, err := ContentDigest(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return digest, nil
}
