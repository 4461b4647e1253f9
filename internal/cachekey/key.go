// Package cachekey converts request paths and a resource root into the
// canonical hot-tier keys shared by the middleware and the background workers.
package cachekey

import "strings"

const (
	// DirtyPrefix marks entries pending a database write.
	DirtyPrefix = "dirty:"
	// TombstonePrefix marks soft-deleted entries awaiting expiry.
	TombstonePrefix = "delete:"
)

// Canonical converts a request path-and-query into the canonical id:
// one leading '/' stripped, every remaining '/' replaced with ':'.
// The query string participates in identity and is kept verbatim.
func Canonical(pathAndQuery string) string {
	trimmed := strings.TrimPrefix(pathAndQuery, "/")
	return strings.ReplaceAll(trimmed, "/", ":")
}

// Dirty returns the dirty key for a canonical id.
func Dirty(canonical string) string {
	return DirtyPrefix + canonical
}

// Tombstone returns the tombstone key for a canonical id.
func Tombstone(canonical string) string {
	return TombstonePrefix + canonical
}

// CleanFromDirty strips the dirty prefix. Keys without the prefix are
// returned unchanged.
func CleanFromDirty(dirtyKey string) string {
	return strings.TrimPrefix(dirtyKey, DirtyPrefix)
}

// DirtyScanPattern returns the glob the drainer scans for a resource root.
func DirtyScanPattern(root string) string {
	return DirtyPrefix + root + ":*"
}

// TombstoneScanPattern returns the glob the reactor sweeps on shutdown.
func TombstoneScanPattern(root string) string {
	return TombstonePrefix + root + ":*"
}

// TombstoneEventPrefix returns the prefix an expired-key event must carry to
// belong to the given resource root.
func TombstoneEventPrefix(root string) string {
	return TombstonePrefix + root + ":"
}

// TombstoneID extracts the resource id segment from an expired tombstone key.
// Returns ("", false) if the key is not a tombstone of the given root.
func TombstoneID(root, expiredKey string) (string, bool) {
	prefix := TombstoneEventPrefix(root)
	if !strings.HasPrefix(expiredKey, prefix) {
		return "", false
	}
	return expiredKey[len(prefix):], true
}
