// Package review implements the multi-stage, multi-agent code review
// pipeline.
//
// A review session moves through five stages: risk classification of the
// changed files, a user confirmation gate, batched review of low-risk files,
// a per-file fan-out review of high-risk files (three independent sub-agents,
// one coordinator, one verifier per consolidated finding), and completion.
// The high-risk stage is pull-driven: the caller advances it one file at a
// time, which keeps cancellation and progress reporting externally
// observable.
//
// The orchestrator reads the review cache before every LLM task and writes
// it afterward, so files whose pending diff is unchanged are never
// re-reviewed. Sub-agent and batch failures degrade to empty results;
// classification and coordination parse failures fail the specific call
// without advancing session state; verification failures drop the finding
// rather than surface an unconfirmed issue.
package review
