// Package runner dispatches review tasks to an external LLM backend.
//
// A task is a single prompt/response exchange identified by a caller-chosen
// task id. Task ids are namespaced by session ("<sessionID>/<stage>/<n>"),
// which allows advisory cancellation of every outstanding task for a session
// by prefix match. Cancellation is cooperative: it cancels the context of
// each matching in-flight task and returns immediately, but an HTTP call
// that has already been dispatched may still run to completion.
//
// Backends (Anthropic, Ollama/LM Studio) implement the Client interface and
// share a retry-with-backoff policy for rate limits and transient server
// errors.
package runner
