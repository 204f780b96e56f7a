package fileid

import (
	"crypto/sha256"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Identity returns the stable identity for a file within a project. It is
// deterministic: repeated calls with the same (root, path) pair always return
// the same value, and distinct pairs return distinct values.
func Identity(projectRoot, relPath string) string {
	root := NormalizePath(projectRoot)
	rel := NormalizePath(relPath)
	// NUL separator keeps (a, b/c) distinct from (a/b, c).
	h := sha256.Sum256([]byte(root + "\x00" + rel))
	return fmt.Sprintf("%x", h[:16])
}

// Fingerprint returns the content fingerprint for a file's pending diff.
// An empty diff is valid and hashes to the fingerprint of the empty string.
func Fingerprint(diffText string) string {
	h := sha256.Sum256([]byte(diffText))
	return fmt.Sprintf("%x", h)
}

// NormalizePath canonicalizes a path for identity derivation: forward
// slashes, cleaned, no leading "./". Both cache keying and the fallback
// identity derived from LLM-reported paths use this, so the two can never
// diverge on separator or dot-segment differences.
func NormalizePath(p string) string {
	p = filepath.ToSlash(p)
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	if p == "." {
		return ""
	}
	return p
}
