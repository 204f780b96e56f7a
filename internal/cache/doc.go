// Package cache provides a file-based store for prior review results.
//
// Entries are partitioned by file identity and versioned by the fingerprint
// of the file's pending diff. A lookup hits only when both components match
// exactly; a new fingerprint written under the same identity supersedes the
// old entry, so a diff change invalidates exactly that file's cache entry
// and no others.
//
// Entries persist across sessions and projects until explicitly invalidated
// or expired by TTL. Concurrent writes to the same key are last-write-wins,
// which is safe because both writers computed from the same diff.
//
// The default cache directory is $XDG_CACHE_HOME/reviewd (or the
// OS-appropriate equivalent).
package cache
