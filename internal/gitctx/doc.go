// Package gitctx extracts per-file pending diffs and file content from a git
// repository.
//
// It shells out to git for diff collection and uses go-gitdiff to parse the
// unified diff text into structured stats. A file's "pending diff" is its
// working-tree change against HEAD, falling back to a synthesized new-file
// diff for untracked files, so every changed file has a diff to fingerprint.
package gitctx
