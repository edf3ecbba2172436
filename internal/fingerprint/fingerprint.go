// Package fingerprint derives stable cache keys for thumbnails.
//
// A key identifies (image content, target dimension). Two entries with the
// same content and dimension must map to the same key; distinct content must
// not collide, since a collision would display the wrong thumbnail.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Key is a filesystem-safe thumbnail cache key.
type Key string

// File derives a key for a stable local file from its path, size and
// modification time. The content is not read; size+mtime stand in for a
// content signature, which is sound as long as the file is not rewritten
// in place with identical size and mtime.
func File(path string, size int64, mtime time.Time, dim int) Key {
	sum := sha256.Sum256(fmt.Appendf(nil, "file\x00%s\x00%d\x00%d\x00%d", path, size, mtime.UnixNano(), dim))
	return Key(hex.EncodeToString(sum[:]))
}

// Content derives a key from raw image bytes, for fetched sources whose
// identity is not a stable local path. Identical bytes at different
// locations share a key, which is what lets duplicate images share one
// thumbnail.
func Content(data []byte, dim int) Key {
	h := sha256.New()
	h.Write(data)
	fmt.Fprintf(h, "\x00%d", dim)
	return Key(hex.EncodeToString(h.Sum(nil)))
}
