// Package fileid derives stable file identities and diff fingerprints.
//
// An identity is a SHA-256 hash of the normalized (project root, relative
// path) pair and is independent of file content, so it survives edits and is
// usable as a cache partition key. A fingerprint is a SHA-256 hash of a
// file's pending diff text and changes whenever the diff changes.
//
// All paths go through the same normalization (forward slashes, cleaned, no
// leading "./") before hashing, so identities derived from LLM-reported paths
// and identities derived during caching agree.
package fileid
