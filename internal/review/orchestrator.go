package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chanpod/agent-sessions-sub001/internal/cache"
	"github.com/chanpod/agent-sessions-sub001/internal/config"
	"github.com/chanpod/agent-sessions-sub001/internal/fileid"
	"github.com/chanpod/agent-sessions-sub001/internal/gitctx"
	"github.com/chanpod/agent-sessions-sub001/internal/redact"
	"github.com/chanpod/agent-sessions-sub001/internal/runner"
)

// TaskRunner is the slice of the LLM task runner the orchestrator uses.
type TaskRunner interface {
	Run(ctx context.Context, req runner.TaskRequest) (runner.TaskResponse, error)
	Cancel(prefix string) int
}

// DiffSource supplies per-file pending diffs and working-tree content.
type DiffSource interface {
	PendingDiff(projectRoot, relPath string) (string, error)
	FileContent(projectRoot, relPath string) (string, error)
}

// GitDiffSource implements DiffSource over the local git working tree.
type GitDiffSource struct{}

// PendingDiff implements DiffSource.
func (GitDiffSource) PendingDiff(projectRoot, relPath string) (string, error) {
	return gitctx.PendingDiff(projectRoot, relPath)
}

// FileContent implements DiffSource.
func (GitDiffSource) FileContent(projectRoot, relPath string) (string, error) {
	return gitctx.FileContent(projectRoot, relPath)
}

// Orchestrator drives the review pipeline. It owns the session registry;
// the review cache is shared with other orchestrator instances and outlives
// any single session.
type Orchestrator struct {
	cfg      config.Config
	runner   TaskRunner
	store    *cache.Store
	diffs    DiffSource
	sessions *Registry
	events   Publisher
	rules    *Rules
}

// NewOrchestrator creates an Orchestrator. A nil diffs falls back to the
// local git working tree; a nil events discards notifications.
func NewOrchestrator(cfg config.Config, rules *Rules, run TaskRunner, store *cache.Store, diffs DiffSource, events Publisher) *Orchestrator {
	if diffs == nil {
		diffs = GitDiffSource{}
	}
	if events == nil {
		events = NopPublisher{}
	}
	return &Orchestrator{
		cfg:      cfg,
		rules:    rules,
		runner:   run,
		store:    store,
		diffs:    diffs,
		sessions: NewRegistry(),
		events:   events,
	}
}

// Session returns a copy of the named session, or ErrSessionNotFound.
func (o *Orchestrator) Session(id string) (Session, error) {
	return o.sessions.Get(id)
}

// Start creates a review session and runs the classification stage. Files
// with a cached classification under their current fingerprint skip the LLM.
// A classification task or parse failure fails this call (and emits a failed
// event) without advancing session state, so the caller may retry.
func (o *Orchestrator) Start(ctx context.Context, projectPath string, files []string, sessionID string) (string, error) {
	sess, err := o.sessions.Create(sessionID, projectPath, files)
	if err != nil {
		// A session that never got past classification may be restarted
		// under the same id.
		if sessionID == "" {
			return "", err
		}
		existing, gerr := o.sessions.Get(sessionID)
		if gerr != nil || existing.Stage != StageClassifying {
			return "", err
		}
		sess = existing
	}
	id := sess.ID

	byPath := make(map[string]FileClassification, len(files))
	var uncached []FileDiff
	for _, path := range files {
		fd, err := o.loadFileDiff(projectPath, path)
		if err != nil {
			o.fail(id, fmt.Sprintf("collecting diff for %s: %v", path, err))
			return id, fmt.Errorf("collecting diff for %s: %w", path, err)
		}
		if entry, ok := o.store.Get(fd.FileID, fd.Fingerprint); ok && entry.Risk != "" {
			byPath[fd.Path] = FileClassification{
				FileID:    fd.FileID,
				Path:      fd.Path,
				Risk:      RiskLevel(entry.Risk),
				Reasoning: entry.Reasoning,
				Cached:    true,
			}
			continue
		}
		uncached = append(uncached, fd)
	}

	if len(uncached) > 0 {
		req := runner.TaskRequest{
			TaskID:       id + "/classify/0",
			SystemPrompt: ClassifySystemPrompt(),
			UserPrompt:   BuildClassifyPrompt(uncached),
			MaxTokens:    o.cfg.MaxTokens,
		}
		resp, err := o.runner.Run(ctx, req)
		if err != nil {
			o.fail(id, "classification task failed: "+err.Error())
			return id, fmt.Errorf("classification task: %w", err)
		}
		raw, err := decodeArray[rawClassification](resp.Content)
		if err != nil {
			// No partial classification is usable: later stages assume a
			// complete partition.
			o.fail(id, "classification response unparseable: "+err.Error())
			return id, fmt.Errorf("classification response: %w", err)
		}
		for _, fc := range projectClassifications(raw, projectPath, paths(uncached)) {
			byPath[fc.Path] = fc
		}
	}

	classifications := make([]FileClassification, 0, len(files))
	var low, high []string
	for _, path := range files {
		fc := byPath[fileid.NormalizePath(path)]
		classifications = append(classifications, fc)
		if fc.Risk == RiskLow {
			low = append(low, fc.Path)
		} else {
			high = append(high, fc.Path)
		}
	}

	// Re-validate the session before committing: a cancel that raced the LLM
	// call means this result is discarded and nothing is cached for it.
	err = o.sessions.Update(id, func(s *Session) {
		s.Classifications = classifications
		s.Stage = StageAwaitingConfirmation
	})
	if err != nil {
		return id, err
	}

	for _, fd := range uncached {
		if fc, ok := byPath[fd.Path]; ok {
			o.store.Put(fd.FileID, fd.Fingerprint, cache.Entry{
				Risk:      string(fc.Risk),
				Reasoning: fc.Reasoning,
			})
		}
	}

	o.events.Publish(Event{
		Type:      EventClassificationsReady,
		SessionID: id,
		Payload: ClassificationsPayload{
			Classifications: classifications,
			LowRiskFiles:    low,
			HighRiskFiles:   high,
		},
	})
	return id, nil
}

// StartLowRisk records the confirmed low/high-risk partition and reviews the
// low-risk files in concurrent fixed-size batches. A batch that fails or is
// unparseable contributes zero findings; zero low-risk files skips the LLM
// entirely.
func (o *Orchestrator) StartLowRisk(ctx context.Context, sessionID string, lowRisk, highRisk []string) (int, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return 0, err
	}
	if sess.Stage != StageAwaitingConfirmation {
		return 0, fmt.Errorf("session %s is in stage %s, expected %s", sessionID, sess.Stage, StageAwaitingConfirmation)
	}
	err = o.sessions.Update(sessionID, func(s *Session) {
		s.LowRiskFiles = append([]string(nil), lowRisk...)
		s.HighRiskFiles = append([]string(nil), highRisk...)
		s.HighRiskCursor = 0
		s.Stage = StageReviewingLowRisk
	})
	if err != nil {
		return 0, err
	}

	var cachedFindings []Finding
	var uncached []FileDiff
	for _, path := range lowRisk {
		fd, err := o.loadFileDiff(sess.ProjectPath, path)
		if err != nil {
			// Degrade: an uncollectable diff contributes nothing.
			continue
		}
		if entry, ok := o.store.Get(fd.FileID, fd.Fingerprint); ok && entry.Findings != nil {
			for _, f := range decodeFindings(entry.Findings) {
				f.Cached = true
				cachedFindings = append(cachedFindings, f)
			}
			continue
		}
		uncached = append(uncached, fd)
	}

	var fresh []Finding
	var batches [][]FileDiff
	var batchOK []bool
	if len(uncached) > 0 {
		batches = batchFiles(uncached, o.cfg.BatchSize)
		results := make([][]Finding, len(batches))
		batchOK = make([]bool, len(batches))
		var wg sync.WaitGroup
		for i, batch := range batches {
			wg.Add(1)
			go func(i int, batch []FileDiff) {
				defer wg.Done()
				req := runner.TaskRequest{
					TaskID:       fmt.Sprintf("%s/low-risk/%d", sessionID, i),
					SystemPrompt: LowRiskSystemPrompt(),
					UserPrompt:   BuildLowRiskPrompt(batch, o.rules),
					MaxTokens:    o.cfg.MaxTokens,
				}
				resp, err := o.runner.Run(ctx, req)
				if err != nil {
					return
				}
				raw, err := decodeArray[rawFinding](resp.Content)
				if err != nil {
					return
				}
				results[i] = projectFindings(raw, sess.ProjectPath)
				batchOK[i] = true
			}(i, batch)
		}
		wg.Wait()
		for _, r := range results {
			fresh = append(fresh, r...)
		}
		fresh = ApplySeverityOverrides(fresh, o.rules)
	}

	nextStage := StageReviewingHighRisk
	if len(highRisk) == 0 {
		nextStage = StageCompleted
	}
	if err := o.sessions.Update(sessionID, func(s *Session) { s.Stage = nextStage }); err != nil {
		return 0, err
	}

	reasons := classificationReasons(sess)
	freshByPath := make(map[string][]Finding)
	for _, f := range fresh {
		freshByPath[f.Path] = append(freshByPath[f.Path], f)
	}
	for i, batch := range batches {
		// A failed batch produced no result; its files stay uncached so a
		// later session reviews them again.
		if !batchOK[i] {
			continue
		}
		for _, fd := range batch {
			o.store.Put(fd.FileID, fd.Fingerprint, cache.Entry{
				Risk:      string(RiskLow),
				Reasoning: reasons[fd.Path],
				Findings:  encodeFindings(freshByPath[fd.Path]),
			})
		}
	}

	all := append(cachedFindings, fresh...)
	SortFindings(all)
	o.events.Publish(Event{
		Type:      EventLowRiskFindingsReady,
		SessionID: sessionID,
		Payload:   FindingsPayload{Findings: all},
	})
	return len(all), nil
}

// AdvanceHighRisk processes exactly one high-risk file: three concurrent
// sub-agent reviews, one coordination pass, and one verification task per
// consolidated finding. It returns complete=true once the cursor has passed
// the last high-risk file. Coordination failure leaves the cursor unchanged
// so the caller may retry the same file.
func (o *Orchestrator) AdvanceHighRisk(ctx context.Context, sessionID string) (bool, int, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return false, 0, err
	}
	switch sess.Stage {
	case StageReviewingHighRisk:
	case StageCompleted:
		return true, 0, nil
	default:
		return false, 0, fmt.Errorf("session %s is in stage %s, expected %s", sessionID, sess.Stage, StageReviewingHighRisk)
	}
	if sess.HighRiskCursor >= len(sess.HighRiskFiles) {
		o.sessions.Update(sessionID, func(s *Session) { s.Stage = StageCompleted })
		return true, 0, nil
	}

	idx := sess.HighRiskCursor
	total := len(sess.HighRiskFiles)
	path := sess.HighRiskFiles[idx]

	fd, err := o.loadFileDiff(sess.ProjectPath, path)
	if err != nil {
		o.fail(sessionID, fmt.Sprintf("collecting diff for %s: %v", path, err))
		return false, 0, fmt.Errorf("collecting diff for %s: %w", path, err)
	}

	if entry, ok := o.store.Get(fd.FileID, fd.Fingerprint); ok && entry.Risk == string(RiskHigh) && entry.Findings != nil {
		findings := decodeFindings(entry.Findings)
		for i := range findings {
			findings[i].Cached = true
		}
		complete, err := o.advanceCursor(sessionID)
		if err != nil {
			return false, 0, err
		}
		o.publishStatus(sessionID, path, "complete", idx, total)
		o.events.Publish(Event{
			Type:      EventHighRiskFindingsReady,
			SessionID: sessionID,
			Payload:   FindingsPayload{Path: path, Findings: findings},
		})
		return complete, len(findings), nil
	}

	// Full content and imports are context for the reviewers; failure to
	// read them degrades to diff-only review.
	if content, err := o.diffs.FileContent(sess.ProjectPath, path); err == nil {
		if o.cfg.Privacy.RedactSecrets {
			content = redact.Secrets(content)
		}
		fd.Content = content
		fd.Imports = extractImports(content)
	}

	o.publishStatus(sessionID, path, "reviewing", idx, total)
	reviews := make([]SubAgentReview, SubAgentCount)
	var wg sync.WaitGroup
	for i := 0; i < SubAgentCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			review := SubAgentReview{
				AgentID:    fmt.Sprintf("agent-%d", i+1),
				ProducedAt: time.Now(),
			}
			req := runner.TaskRequest{
				TaskID:       fmt.Sprintf("%s/high-risk/%d/agent/%d", sessionID, idx, i+1),
				SystemPrompt: SubAgentSystemPrompt(),
				UserPrompt:   BuildSubAgentPrompt(fd, o.rules),
				MaxTokens:    o.cfg.MaxTokens,
			}
			// A failed or unparseable sub-agent contributes an empty review,
			// never an aborted stage.
			if resp, err := o.runner.Run(ctx, req); err == nil {
				if raw, perr := decodeArray[rawFinding](resp.Content); perr == nil {
					review.Findings = projectFindings(raw, sess.ProjectPath)
				}
			}
			reviews[i] = review
		}(i)
	}
	wg.Wait()

	o.publishStatus(sessionID, path, "coordinating", idx, total)
	coordReq := runner.TaskRequest{
		TaskID:       fmt.Sprintf("%s/high-risk/%d/coordinate", sessionID, idx),
		SystemPrompt: CoordinatorSystemPrompt(),
		UserPrompt:   BuildCoordinatorPrompt(fd, reviews),
		MaxTokens:    o.cfg.MaxTokens,
	}
	resp, err := o.runner.Run(ctx, coordReq)
	if err != nil {
		o.fail(sessionID, fmt.Sprintf("coordination failed for %s: %v", path, err))
		return false, 0, fmt.Errorf("coordination task: %w", err)
	}
	rawConsolidated, err := decodeArray[rawFinding](resp.Content)
	if err != nil {
		o.fail(sessionID, fmt.Sprintf("coordination response unparseable for %s: %v", path, err))
		return false, 0, fmt.Errorf("coordination response: %w", err)
	}
	consolidated := projectFindings(rawConsolidated, sess.ProjectPath)
	for i := range consolidated {
		// Confidence comes from the agreement table, never from the model.
		consolidated[i].Confidence = ConsensusConfidence(len(consolidated[i].SourceAgents))
	}
	consolidated = ApplySeverityOverrides(consolidated, o.rules)

	o.publishStatus(sessionID, path, "verifying", idx, total)
	verified := o.verifyFindings(ctx, sessionID, idx, fd, consolidated)
	SortFindings(verified)

	complete, err := o.advanceCursor(sessionID)
	if err != nil {
		// Cancelled while verifying: discard, no cache write.
		return false, 0, err
	}

	o.store.Put(fd.FileID, fd.Fingerprint, cache.Entry{
		Risk:      string(RiskHigh),
		Reasoning: classificationReasons(sess)[fd.Path],
		Findings:  encodeFindings(verified),
	})

	o.events.Publish(Event{
		Type:      EventHighRiskFindingsReady,
		SessionID: sessionID,
		Payload:   FindingsPayload{Path: path, Findings: verified},
	})
	o.publishStatus(sessionID, path, "complete", idx, total)
	return complete, len(verified), nil
}

// Cancel removes the session and issues best-effort cancellation for every
// outstanding task namespaced under it. It returns immediately; in-flight
// tasks that cannot be interrupted will find the session gone when they try
// to commit.
func (o *Orchestrator) Cancel(sessionID string) bool {
	found := o.sessions.Remove(sessionID)
	o.runner.Cancel(sessionID + "/")
	return found
}

// ComputeFingerprints returns the current diff fingerprint for each file.
func (o *Orchestrator) ComputeFingerprints(projectPath string, files []string) (map[string]string, error) {
	out := make(map[string]string, len(files))
	for _, path := range files {
		diff, err := o.diffs.PendingDiff(projectPath, path)
		if err != nil {
			return nil, fmt.Errorf("diff for %s: %w", path, err)
		}
		out[path] = fileid.Fingerprint(diff)
	}
	return out, nil
}

// InvalidateFiles drops the cached results for the given files, forcing a
// fresh review on the next session ("review again").
func (o *Orchestrator) InvalidateFiles(projectPath string, files []string) {
	ids := make([]string, len(files))
	for i, path := range files {
		ids[i] = fileid.Identity(projectPath, path)
	}
	o.store.Invalidate(ids)
}

// verifyFindings runs one verification task per finding, all concurrent.
// Fail-closed: a verifier error or a negative result drops the finding.
func (o *Orchestrator) verifyFindings(ctx context.Context, sessionID string, fileIdx int, fd FileDiff, findings []Finding) []Finding {
	accurate := make([]bool, len(findings))
	var wg sync.WaitGroup
	for i, f := range findings {
		wg.Add(1)
		go func(i int, f Finding) {
			defer wg.Done()
			req := runner.TaskRequest{
				TaskID:       fmt.Sprintf("%s/high-risk/%d/verify/%d", sessionID, fileIdx, i),
				SystemPrompt: VerifierSystemPrompt(),
				UserPrompt:   BuildVerifierPrompt(fd, f),
				MaxTokens:    1024,
			}
			resp, err := o.runner.Run(ctx, req)
			if err != nil {
				return
			}
			raw, err := decodeObject[rawVerification](resp.Content)
			if err != nil {
				return
			}
			accurate[i] = projectVerification(raw, f.ID).IsAccurate
		}(i, f)
	}
	wg.Wait()

	verified := make([]Finding, 0, len(findings))
	for i, ok := range accurate {
		if !ok {
			continue
		}
		f := findings[i]
		f.Verification = VerificationVerified
		verified = append(verified, f)
	}
	return verified
}

func (o *Orchestrator) advanceCursor(sessionID string) (bool, error) {
	var complete bool
	err := o.sessions.Update(sessionID, func(s *Session) {
		s.HighRiskCursor++
		if s.HighRiskCursor >= len(s.HighRiskFiles) {
			s.Stage = StageCompleted
			complete = true
		}
	})
	return complete, err
}

// loadFileDiff collects a file's pending diff and derives its identity,
// fingerprint, and line stats. The fingerprint covers the raw diff;
// redaction applies only to what leaves the process.
func (o *Orchestrator) loadFileDiff(projectPath, path string) (FileDiff, error) {
	diff, err := o.diffs.PendingDiff(projectPath, path)
	if err != nil {
		return FileDiff{}, err
	}
	fd := FileDiff{
		Path:        fileid.NormalizePath(path),
		FileID:      fileid.Identity(projectPath, path),
		Fingerprint: fileid.Fingerprint(diff),
	}
	// An unparseable diff degrades to zero stats; prompts omit them.
	if stats, serr := gitctx.ParseStats(diff); serr == nil {
		fd.Added = stats.Added
		fd.Deleted = stats.Deleted
	}
	if o.cfg.Privacy.RedactSecrets {
		diff = redact.Secrets(diff)
	}
	fd.Diff = diff
	return fd, nil
}

// classificationReasons maps each classified path to its risk reasoning so
// later cache writes preserve it.
func classificationReasons(sess Session) map[string]string {
	out := make(map[string]string, len(sess.Classifications))
	for _, fc := range sess.Classifications {
		out[fc.Path] = fc.Reasoning
	}
	return out
}

func (o *Orchestrator) publishStatus(sessionID, path, status string, idx, total int) {
	o.events.Publish(Event{
		Type:      EventHighRiskStatus,
		SessionID: sessionID,
		Payload:   StatusPayload{Path: path, Status: status, Index: idx, Total: total},
	})
}

func (o *Orchestrator) fail(sessionID, msg string) {
	o.events.Publish(Event{
		Type:      EventFailed,
		SessionID: sessionID,
		Payload:   FailedPayload{Message: msg},
	})
}

func batchFiles(files []FileDiff, size int) [][]FileDiff {
	if size <= 0 {
		size = 5
	}
	var batches [][]FileDiff
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		batches = append(batches, files[start:end])
	}
	return batches
}

// extractImports pulls import-ish lines from file content for reviewer
// context. Heuristic, cross-language.
func extractImports(content string) []string {
	var imports []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import "),
			strings.HasPrefix(trimmed, "from "),
			strings.HasPrefix(trimmed, "#include"),
			strings.HasPrefix(trimmed, "use "),
			strings.HasPrefix(trimmed, "require("),
			strings.HasPrefix(trimmed, "require "):
			imports = append(imports, trimmed)
		}
		if len(imports) >= 50 {
			break
		}
	}
	return imports
}

func encodeFindings(findings []Finding) json.RawMessage {
	if findings == nil {
		findings = []Finding{}
	}
	data, err := json.Marshal(findings)
	if err != nil {
		return json.RawMessage("[]")
	}
	return data
}

func decodeFindings(data json.RawMessage) []Finding {
	var findings []Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		return nil
	}
	return findings
}
