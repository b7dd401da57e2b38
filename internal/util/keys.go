package util

import "strings"

// MaxKeyLen bounds key size; SQLite handles far more, this is a sanity cap.
const MaxKeyLen = 4096

// ValidKey reports whether key is usable as a record identifier: non-empty,
// bounded, and free of NUL bytes (SQLite text terminators).
func ValidKey(key string) bool {
	if key == "" || len(key) > MaxKeyLen {
		return false
	}
	return !strings.ContainsRune(key, 0)
}
