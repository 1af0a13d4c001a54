package cache

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

const (
	fileExt        = ".json"
	maxReadableLen = 100
)

var unsafeChars = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"#", "_",
	"&", "_",
	"=", "_",
	" ", "_",
)

// fileNameFor maps a cache key to a filename. The readable prefix is lossy,
// so a digest of the raw key keeps distinct keys in distinct files.
func fileNameFor(key string) string {
	readable := unsafeChars.Replace(key)
	if len(readable) > maxReadableLen {
		readable = readable[:maxReadableLen]
	}

	sum := blake3.Sum256([]byte(key))
	return readable + "-" + hex.EncodeToString(sum[:8]) + fileExt
}
