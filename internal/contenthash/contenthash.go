// Package contenthash computes the content digest that keys every cached
// artifact of a model file. It is a cache key, not a security boundary.
package contenthash

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
)

const chunkSize = 64 * 1024

// File streams path through xxhash64 and returns 16 lowercase hex digits.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apperr.New(apperr.IOFailure, "contenthash.File", err)
	}
	defer f.Close()
	sum, err := Reader(f)
	if err != nil {
		return "", apperr.New(apperr.IOFailure, "contenthash.File", err)
	}
	return sum, nil
}

func Reader(r io.Reader) (string, error) {
	h := xxhash.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Valid reports whether s has the shape File returns.
func Valid(s string) bool {
	if len(s) != 16 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
