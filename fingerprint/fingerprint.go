// Package fingerprint derives cache keys from raw image bytes.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
)

// Sum returns the MD5 hex digest of data. Used as a cache and dedup
// key only, not as a security boundary.
func Sum(data []byte) string {
	digest := md5.Sum(data)
	return hex.EncodeToString(digest[:])
}
