// Reviewd is a local daemon that reviews code changes with a multi-stage,
// multi-agent LLM pipeline.
//
// Changed files are first classified as low-risk or high-risk. Low-risk
// files are reviewed in concurrent batches for superficial issues; each
// high-risk file is reviewed by three independent agents whose findings are
// consolidated by a coordinator and individually verified before being
// reported. Results are cached per file and diff fingerprint so unchanged
// files are never re-reviewed.
//
// Usage:
//
//	reviewd serve                       # run the HTTP/websocket API server
//	reviewd fingerprint main.go lib.go  # print identities and fingerprints
//	reviewd cache show                  # inspect the review cache
//	reviewd config set provider ollama  # update configuration
package main
