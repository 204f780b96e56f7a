// Package cli implements the reviewd command tree.
//
// Subcommands: serve (run the review API server), fingerprint (print diff
// fingerprints for files), cache (inspect or clear the review cache),
// config (get/set configuration), and version.
package cli
