package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/chanpod/agent-sessions-sub001/internal/cache"
	"github.com/chanpod/agent-sessions-sub001/internal/config"
	"github.com/chanpod/agent-sessions-sub001/internal/fileid"
	"github.com/chanpod/agent-sessions-sub001/internal/runner"
)

// fakeRunner scripts LLM responses by task id and records every call.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	respond func(req runner.TaskRequest) (runner.TaskResponse, error)
}

func (f *fakeRunner) Run(ctx context.Context, req runner.TaskRequest) (runner.TaskResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.TaskID)
	f.mu.Unlock()
	if f.respond == nil {
		return runner.TaskResponse{Content: "[]"}, nil
	}
	return f.respond(req)
}

func (f *fakeRunner) Cancel(prefix string) int { return 0 }

func (f *fakeRunner) count(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.calls {
		if strings.Contains(id, substr) {
			n++
		}
	}
	return n
}

// fakeDiffs serves deterministic diffs and file content from memory.
type fakeDiffs struct {
	content map[string]string
}

func (f *fakeDiffs) PendingDiff(projectRoot, relPath string) (string, error) {
	return fmt.Sprintf("diff --git a/%s b/%s\nnew file mode 100644\n--- /dev/null\n+++ b/%s\n@@ -0,0 +1,1 @@\n+change in %s\n",
		relPath, relPath, relPath, relPath), nil
}

func (f *fakeDiffs) FileContent(projectRoot, relPath string) (string, error) {
	if c, ok := f.content[relPath]; ok {
		return c, nil
	}
	return "", errors.New("no content")
}

// recPublisher records published events.
type recPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *recPublisher) byType(t EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testConfig() config.Config {
	return config.Config{MaxTokens: 2048, BatchSize: 2}
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.New(true, t.TempDir(), 3600)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return store
}

// pipelineRespond scripts a full healthy pipeline: classification splits
// a.go/b.go into low/high, agents and coordinator find one issue in b.go,
// the verifier accepts it.
func pipelineRespond(req runner.TaskRequest) (runner.TaskResponse, error) {
	switch {
	case strings.Contains(req.TaskID, "/classify/"):
		return runner.TaskResponse{Content: `[
			{"path":"a.go","riskLevel":"low-risk","reasoning":"formatting only"},
			{"path":"b.go","riskLevel":"high-risk","reasoning":"auth logic"}
		]`}, nil
	case strings.Contains(req.TaskID, "/low-risk/"):
		return runner.TaskResponse{Content: `[
			{"path":"a.go","line":3,"severity":"suggestion","category":"style","title":"Inconsistent naming","description":"d","confidence":0.7}
		]`}, nil
	case strings.Contains(req.TaskID, "/agent/"):
		return runner.TaskResponse{Content: `[
			{"path":"b.go","line":10,"severity":"error","category":"security","title":"Missing auth check","description":"d","confidence":0.4}
		]`}, nil
	case strings.Contains(req.TaskID, "/coordinate"):
		return runner.TaskResponse{Content: `[
			{"path":"b.go","line":10,"severity":"error","category":"security","title":"Missing auth check","description":"d","confidence":0.4,"sourceAgents":["agent-1","agent-2","agent-3"]}
		]`}, nil
	case strings.Contains(req.TaskID, "/verify/"):
		return runner.TaskResponse{Content: `{"isAccurate":true,"confidence":0.9,"reasoning":"confirmed"}`}, nil
	}
	return runner.TaskResponse{}, fmt.Errorf("unexpected task %s", req.TaskID)
}

func TestPipeline_FullRun(t *testing.T) {
	run := &fakeRunner{respond: pipelineRespond}
	pub := &recPublisher{}
	store := newTestStore(t)
	o := NewOrchestrator(testConfig(), nil, run, store, &fakeDiffs{}, pub)

	id, err := o.Start(context.Background(), "/proj", []string{"a.go", "b.go"}, "s1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess, err := o.Session(id)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.Stage != StageAwaitingConfirmation {
		t.Errorf("Stage = %s, want awaiting-confirmation", sess.Stage)
	}
	if len(sess.Classifications) != 2 {
		t.Fatalf("got %d classifications, want 2", len(sess.Classifications))
	}

	ready := pub.byType(EventClassificationsReady)
	if len(ready) != 1 {
		t.Fatalf("got %d classifications-ready events, want 1", len(ready))
	}
	payload := ready[0].Payload.(ClassificationsPayload)
	if len(payload.LowRiskFiles) != 1 || payload.LowRiskFiles[0] != "a.go" {
		t.Errorf("LowRiskFiles = %v, want [a.go]", payload.LowRiskFiles)
	}
	if len(payload.HighRiskFiles) != 1 || payload.HighRiskFiles[0] != "b.go" {
		t.Errorf("HighRiskFiles = %v, want [b.go]", payload.HighRiskFiles)
	}

	n, err := o.StartLowRisk(context.Background(), id, []string{"a.go"}, []string{"b.go"})
	if err != nil {
		t.Fatalf("StartLowRisk: %v", err)
	}
	if n != 1 {
		t.Errorf("low-risk finding count = %d, want 1", n)
	}

	complete, n, err := o.AdvanceHighRisk(context.Background(), id)
	if err != nil {
		t.Fatalf("AdvanceHighRisk: %v", err)
	}
	if !complete {
		t.Error("single high-risk file should complete in one advance")
	}
	if n != 1 {
		t.Errorf("high-risk finding count = %d, want 1", n)
	}

	if got := run.count("/agent/"); got != SubAgentCount {
		t.Errorf("sub-agent calls = %d, want %d", got, SubAgentCount)
	}
	if got := run.count("/coordinate"); got != 1 {
		t.Errorf("coordinate calls = %d, want 1", got)
	}
	if got := run.count("/verify/"); got != 1 {
		t.Errorf("verify calls = %d, want 1", got)
	}

	hr := pub.byType(EventHighRiskFindingsReady)
	if len(hr) != 1 {
		t.Fatalf("got %d high-risk-findings-ready events, want 1", len(hr))
	}
	findings := hr[0].Payload.(FindingsPayload).Findings
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	f := findings[0]
	if f.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0 for full agreement", f.Confidence)
	}
	if f.Verification != VerificationVerified {
		t.Errorf("Verification = %s, want verified", f.Verification)
	}

	sess, _ = o.Session(id)
	if sess.Stage != StageCompleted {
		t.Errorf("Stage = %s, want completed", sess.Stage)
	}
}

func TestPipeline_CachedRerunSkipsLLM(t *testing.T) {
	store := newTestStore(t)
	diffs := &fakeDiffs{}

	run := &fakeRunner{respond: pipelineRespond}
	o := NewOrchestrator(testConfig(), nil, run, store, diffs, nil)
	id, err := o.Start(context.Background(), "/proj", []string{"a.go", "b.go"}, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := o.StartLowRisk(context.Background(), id, []string{"a.go"}, []string{"b.go"}); err != nil {
		t.Fatalf("StartLowRisk: %v", err)
	}
	if _, _, err := o.AdvanceHighRisk(context.Background(), id); err != nil {
		t.Fatalf("AdvanceHighRisk: %v", err)
	}

	// Same files, same diffs, shared cache: the second session needs zero
	// LLM calls.
	run2 := &fakeRunner{respond: pipelineRespond}
	pub := &recPublisher{}
	o2 := NewOrchestrator(testConfig(), nil, run2, store, diffs, pub)
	id2, err := o2.Start(context.Background(), "/proj", []string{"a.go", "b.go"}, "")
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if _, err := o2.StartLowRisk(context.Background(), id2, []string{"a.go"}, []string{"b.go"}); err != nil {
		t.Fatalf("second StartLowRisk: %v", err)
	}
	if _, _, err := o2.AdvanceHighRisk(context.Background(), id2); err != nil {
		t.Fatalf("second AdvanceHighRisk: %v", err)
	}

	if len(run2.calls) != 0 {
		t.Errorf("second run made %d LLM calls, want 0: %v", len(run2.calls), run2.calls)
	}

	ready := pub.byType(EventClassificationsReady)
	if len(ready) != 1 {
		t.Fatalf("got %d classifications-ready events, want 1", len(ready))
	}
	for _, fc := range ready[0].Payload.(ClassificationsPayload).Classifications {
		if !fc.Cached {
			t.Errorf("classification for %s not marked cached", fc.Path)
		}
		// The findings-stage cache write preserves the classification
		// reasoning, so cache-sourced classifications still carry it.
		if fc.Reasoning == "" {
			t.Errorf("cached classification for %s lost its reasoning", fc.Path)
		}
	}
	hr := pub.byType(EventHighRiskFindingsReady)
	if len(hr) != 1 {
		t.Fatalf("got %d high-risk-findings-ready events, want 1", len(hr))
	}
	for _, f := range hr[0].Payload.(FindingsPayload).Findings {
		if !f.Cached {
			t.Errorf("finding %s not marked cached", f.Title)
		}
	}
}

func TestPipeline_InvalidateForcesFreshReview(t *testing.T) {
	store := newTestStore(t)
	diffs := &fakeDiffs{}

	run := &fakeRunner{respond: pipelineRespond}
	o := NewOrchestrator(testConfig(), nil, run, store, diffs, nil)
	id, _ := o.Start(context.Background(), "/proj", []string{"b.go"}, "")
	o.StartLowRisk(context.Background(), id, nil, []string{"b.go"})
	o.AdvanceHighRisk(context.Background(), id)

	o.InvalidateFiles("/proj", []string{"b.go"})

	run2 := &fakeRunner{respond: pipelineRespond}
	o2 := NewOrchestrator(testConfig(), nil, run2, store, diffs, nil)
	if _, err := o2.Start(context.Background(), "/proj", []string{"b.go"}, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := run2.count("/classify/"); got != 1 {
		t.Errorf("classify calls after invalidation = %d, want 1", got)
	}
}

func TestStart_ClassificationParseFailure(t *testing.T) {
	run := &fakeRunner{respond: func(req runner.TaskRequest) (runner.TaskResponse, error) {
		return runner.TaskResponse{Content: "I cannot classify these files."}, nil
	}}
	pub := &recPublisher{}
	o := NewOrchestrator(testConfig(), nil, run, newTestStore(t), &fakeDiffs{}, pub)

	id, err := o.Start(context.Background(), "/proj", []string{"a.go"}, "s1")
	if err == nil {
		t.Fatal("unparseable classification should fail the call")
	}

	// Session state is not advanced; the caller may retry.
	sess, gerr := o.Session(id)
	if gerr != nil {
		t.Fatalf("Session: %v", gerr)
	}
	if sess.Stage != StageClassifying {
		t.Errorf("Stage = %s, want classifying", sess.Stage)
	}
	if len(pub.byType(EventFailed)) != 1 {
		t.Error("expected a failed event")
	}
}

func TestAdvanceHighRisk_CoordinatorFailureLeavesCursor(t *testing.T) {
	run := &fakeRunner{respond: func(req runner.TaskRequest) (runner.TaskResponse, error) {
		if strings.Contains(req.TaskID, "/coordinate") {
			return runner.TaskResponse{}, errors.New("backend unavailable")
		}
		return pipelineRespond(req)
	}}
	pub := &recPublisher{}
	store := newTestStore(t)
	o := NewOrchestrator(testConfig(), nil, run, store, &fakeDiffs{}, pub)

	id, _ := o.Start(context.Background(), "/proj", []string{"b.go"}, "")
	if _, err := o.StartLowRisk(context.Background(), id, nil, []string{"b.go"}); err != nil {
		t.Fatalf("StartLowRisk: %v", err)
	}

	_, _, err := o.AdvanceHighRisk(context.Background(), id)
	if err == nil {
		t.Fatal("coordinator failure should fail the advance")
	}

	sess, _ := o.Session(id)
	if sess.HighRiskCursor != 0 {
		t.Errorf("HighRiskCursor = %d, want 0 so the file can be retried", sess.HighRiskCursor)
	}
	if sess.Stage != StageReviewingHighRisk {
		t.Errorf("Stage = %s, want reviewing-high-risk", sess.Stage)
	}
	if len(pub.byType(EventFailed)) == 0 {
		t.Error("expected a failed event")
	}

	// No findings cached for the file.
	entry, ok := store.Get(fileid.Identity("/proj", "b.go"), fingerprintFor(&fakeDiffs{}, "b.go"))
	if ok && entry.Findings != nil {
		t.Error("failed coordination must not cache findings")
	}
}

func TestAdvanceHighRisk_AllAgentsFailDegradesToEmpty(t *testing.T) {
	run := &fakeRunner{respond: func(req runner.TaskRequest) (runner.TaskResponse, error) {
		switch {
		case strings.Contains(req.TaskID, "/agent/"):
			return runner.TaskResponse{}, errors.New("timeout")
		case strings.Contains(req.TaskID, "/coordinate"):
			return runner.TaskResponse{Content: "[]"}, nil
		}
		return pipelineRespond(req)
	}}
	o := NewOrchestrator(testConfig(), nil, run, newTestStore(t), &fakeDiffs{}, nil)

	id, _ := o.Start(context.Background(), "/proj", []string{"b.go"}, "")
	o.StartLowRisk(context.Background(), id, nil, []string{"b.go"})

	complete, n, err := o.AdvanceHighRisk(context.Background(), id)
	if err != nil {
		t.Fatalf("all sub-agents failing should degrade, not error: %v", err)
	}
	if !complete {
		t.Error("advance should complete")
	}
	if n != 0 {
		t.Errorf("finding count = %d, want 0", n)
	}
	if got := run.count("/verify/"); got != 0 {
		t.Errorf("verify calls = %d, want 0 for zero findings", got)
	}
}

func TestAdvanceHighRisk_CancelDiscardsResult(t *testing.T) {
	var o *Orchestrator
	var sessionID string
	run := &fakeRunner{}
	run.respond = func(req runner.TaskRequest) (runner.TaskResponse, error) {
		if strings.Contains(req.TaskID, "/verify/") {
			// Cancel races the in-flight stage; its result must be discarded.
			o.Cancel(sessionID)
		}
		return pipelineRespond(req)
	}
	store := newTestStore(t)
	o = NewOrchestrator(testConfig(), nil, run, store, &fakeDiffs{}, nil)

	id, err := o.Start(context.Background(), "/proj", []string{"b.go"}, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sessionID = id
	if _, err := o.StartLowRisk(context.Background(), id, nil, []string{"b.go"}); err != nil {
		t.Fatalf("StartLowRisk: %v", err)
	}

	_, _, err = o.AdvanceHighRisk(context.Background(), id)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}

	// Nothing was committed: the only cache entry for b.go is the
	// classification, which carries no findings.
	entry, ok := store.Get(fileid.Identity("/proj", "b.go"), fingerprintFor(&fakeDiffs{}, "b.go"))
	if ok && entry.Findings != nil {
		t.Error("cancelled advance must not cache findings")
	}
	if _, err := o.Session(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session should be gone, got %v", err)
	}
}

func TestStartLowRisk_Batching(t *testing.T) {
	files := []string{"a.go", "b.go", "c.go", "d.go", "e.go"}
	run := &fakeRunner{respond: func(req runner.TaskRequest) (runner.TaskResponse, error) {
		switch {
		case strings.Contains(req.TaskID, "/classify/"):
			return runner.TaskResponse{Content: classifyAllLow(files)}, nil
		case strings.Contains(req.TaskID, "/low-risk/"):
			return runner.TaskResponse{Content: "[]"}, nil
		}
		return runner.TaskResponse{}, fmt.Errorf("unexpected task %s", req.TaskID)
	}}
	o := NewOrchestrator(testConfig(), nil, run, newTestStore(t), &fakeDiffs{}, nil)

	id, err := o.Start(context.Background(), "/proj", files, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := o.StartLowRisk(context.Background(), id, files, nil); err != nil {
		t.Fatalf("StartLowRisk: %v", err)
	}

	// 5 files at batch size 2 is 3 batches.
	if got := run.count("/low-risk/"); got != 3 {
		t.Errorf("low-risk batch calls = %d, want 3", got)
	}

	// No high-risk files: session is done.
	sess, _ := o.Session(id)
	if sess.Stage != StageCompleted {
		t.Errorf("Stage = %s, want completed", sess.Stage)
	}
}

func TestStartLowRisk_NoLowRiskFiles(t *testing.T) {
	run := &fakeRunner{respond: pipelineRespond}
	o := NewOrchestrator(testConfig(), nil, run, newTestStore(t), &fakeDiffs{}, nil)

	id, _ := o.Start(context.Background(), "/proj", []string{"b.go"}, "")
	n, err := o.StartLowRisk(context.Background(), id, nil, []string{"b.go"})
	if err != nil {
		t.Fatalf("StartLowRisk: %v", err)
	}
	if n != 0 {
		t.Errorf("finding count = %d, want 0", n)
	}
	if got := run.count("/low-risk/"); got != 0 {
		t.Errorf("low-risk calls = %d, want 0", got)
	}
	sess, _ := o.Session(id)
	if sess.Stage != StageReviewingHighRisk {
		t.Errorf("Stage = %s, want reviewing-high-risk", sess.Stage)
	}
}

func TestStartLowRisk_WrongStage(t *testing.T) {
	run := &fakeRunner{respond: pipelineRespond}
	o := NewOrchestrator(testConfig(), nil, run, newTestStore(t), &fakeDiffs{}, nil)

	id, _ := o.Start(context.Background(), "/proj", []string{"b.go"}, "")
	if _, err := o.StartLowRisk(context.Background(), id, nil, []string{"b.go"}); err != nil {
		t.Fatalf("StartLowRisk: %v", err)
	}
	if _, err := o.StartLowRisk(context.Background(), id, nil, []string{"b.go"}); err == nil {
		t.Error("second StartLowRisk should be rejected by stage check")
	}
}

func TestAdvanceHighRisk_VerifierRejectsDropsFinding(t *testing.T) {
	run := &fakeRunner{respond: func(req runner.TaskRequest) (runner.TaskResponse, error) {
		if strings.Contains(req.TaskID, "/verify/") {
			return runner.TaskResponse{Content: `{"isAccurate":false,"confidence":0.9,"reasoning":"line does not exist"}`}, nil
		}
		return pipelineRespond(req)
	}}
	o := NewOrchestrator(testConfig(), nil, run, newTestStore(t), &fakeDiffs{}, nil)

	id, _ := o.Start(context.Background(), "/proj", []string{"b.go"}, "")
	o.StartLowRisk(context.Background(), id, nil, []string{"b.go"})

	_, n, err := o.AdvanceHighRisk(context.Background(), id)
	if err != nil {
		t.Fatalf("AdvanceHighRisk: %v", err)
	}
	if n != 0 {
		t.Errorf("finding count = %d, want 0 after rejection", n)
	}
}

func TestAdvanceHighRisk_StatusEvents(t *testing.T) {
	run := &fakeRunner{respond: pipelineRespond}
	pub := &recPublisher{}
	o := NewOrchestrator(testConfig(), nil, run, newTestStore(t), &fakeDiffs{}, pub)

	id, _ := o.Start(context.Background(), "/proj", []string{"b.go"}, "")
	o.StartLowRisk(context.Background(), id, nil, []string{"b.go"})
	o.AdvanceHighRisk(context.Background(), id)

	var statuses []string
	for _, e := range pub.byType(EventHighRiskStatus) {
		statuses = append(statuses, e.Payload.(StatusPayload).Status)
	}
	want := []string{"reviewing", "coordinating", "verifying", "complete"}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("statuses[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestAdvanceHighRisk_CompletedSessionIsIdempotent(t *testing.T) {
	run := &fakeRunner{respond: pipelineRespond}
	o := NewOrchestrator(testConfig(), nil, run, newTestStore(t), &fakeDiffs{}, nil)

	id, _ := o.Start(context.Background(), "/proj", []string{"b.go"}, "")
	o.StartLowRisk(context.Background(), id, nil, []string{"b.go"})
	if complete, _, _ := o.AdvanceHighRisk(context.Background(), id); !complete {
		t.Fatal("first advance should complete")
	}

	calls := len(run.calls)
	complete, n, err := o.AdvanceHighRisk(context.Background(), id)
	if err != nil {
		t.Fatalf("advance on completed session: %v", err)
	}
	if !complete || n != 0 {
		t.Errorf("got complete=%v n=%d, want true/0", complete, n)
	}
	if len(run.calls) != calls {
		t.Error("advance on completed session should make no LLM calls")
	}
}

func TestCancel_UnknownSession(t *testing.T) {
	o := NewOrchestrator(testConfig(), nil, &fakeRunner{}, newTestStore(t), &fakeDiffs{}, nil)
	if o.Cancel("nope") {
		t.Error("cancelling an unknown session should report false")
	}
}

func TestComputeFingerprints(t *testing.T) {
	o := NewOrchestrator(testConfig(), nil, &fakeRunner{}, newTestStore(t), &fakeDiffs{}, nil)
	got, err := o.ComputeFingerprints("/proj", []string{"a.go", "b.go"})
	if err != nil {
		t.Fatalf("ComputeFingerprints: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d fingerprints, want 2", len(got))
	}
	if got["a.go"] == got["b.go"] {
		t.Error("different diffs should fingerprint differently")
	}
	if got["a.go"] != fingerprintFor(&fakeDiffs{}, "a.go") {
		t.Error("fingerprint should be stable for a stable diff")
	}
}

func TestStartLowRisk_FailedBatchNotCached(t *testing.T) {
	tests := []struct {
		name    string
		respond func(req runner.TaskRequest) (runner.TaskResponse, error)
	}{
		{
			name: "task error",
			respond: func(req runner.TaskRequest) (runner.TaskResponse, error) {
				return runner.TaskResponse{}, errors.New("backend down")
			},
		},
		{
			name: "unparseable response",
			respond: func(req runner.TaskRequest) (runner.TaskResponse, error) {
				return runner.TaskResponse{Content: "I had trouble with this batch."}, nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			diffs := &fakeDiffs{}

			run := &fakeRunner{respond: func(req runner.TaskRequest) (runner.TaskResponse, error) {
				if strings.Contains(req.TaskID, "/low-risk/") {
					return tt.respond(req)
				}
				return runner.TaskResponse{Content: classifyAllLow([]string{"a.go"})}, nil
			}}
			o := NewOrchestrator(testConfig(), nil, run, store, diffs, nil)

			id, err := o.Start(context.Background(), "/proj", []string{"a.go"}, "")
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			n, err := o.StartLowRisk(context.Background(), id, []string{"a.go"}, nil)
			if err != nil {
				t.Fatalf("StartLowRisk: %v", err)
			}
			if n != 0 {
				t.Errorf("finding count = %d, want 0 from a failed batch", n)
			}

			// The transient failure must not be cached as zero findings: a
			// later session with the same diff reviews the file again.
			run2 := &fakeRunner{respond: func(req runner.TaskRequest) (runner.TaskResponse, error) {
				if strings.Contains(req.TaskID, "/low-risk/") {
					return runner.TaskResponse{Content: "[]"}, nil
				}
				return runner.TaskResponse{Content: classifyAllLow([]string{"a.go"})}, nil
			}}
			o2 := NewOrchestrator(testConfig(), nil, run2, store, diffs, nil)
			id2, err := o2.Start(context.Background(), "/proj", []string{"a.go"}, "")
			if err != nil {
				t.Fatalf("second Start: %v", err)
			}
			if _, err := o2.StartLowRisk(context.Background(), id2, []string{"a.go"}, nil); err != nil {
				t.Fatalf("second StartLowRisk: %v", err)
			}
			if got := run2.count("/low-risk/"); got != 1 {
				t.Errorf("second session made %d low-risk calls, want 1", got)
			}
		})
	}
}

func TestStartLowRisk_FailedBatchSparesOnlyItsFiles(t *testing.T) {
	// Batch size 2 over 3 files: fail only the second batch (c.go) and make
	// sure the first batch's files are still cached.
	files := []string{"a.go", "b.go", "c.go"}
	store := newTestStore(t)
	diffs := &fakeDiffs{}

	run := &fakeRunner{respond: func(req runner.TaskRequest) (runner.TaskResponse, error) {
		switch {
		case strings.Contains(req.TaskID, "/classify/"):
			return runner.TaskResponse{Content: classifyAllLow(files)}, nil
		case strings.HasSuffix(req.TaskID, "/low-risk/1"):
			return runner.TaskResponse{}, errors.New("backend down")
		case strings.Contains(req.TaskID, "/low-risk/"):
			return runner.TaskResponse{Content: "[]"}, nil
		}
		return runner.TaskResponse{}, fmt.Errorf("unexpected task %s", req.TaskID)
	}}
	o := NewOrchestrator(testConfig(), nil, run, store, diffs, nil)
	id, _ := o.Start(context.Background(), "/proj", files, "")
	if _, err := o.StartLowRisk(context.Background(), id, files, nil); err != nil {
		t.Fatalf("StartLowRisk: %v", err)
	}

	if entry, ok := store.Get(fileid.Identity("/proj", "a.go"), fingerprintFor(diffs, "a.go")); !ok || entry.Findings == nil {
		t.Error("file from the successful batch should be cached with findings")
	}
	if entry, ok := store.Get(fileid.Identity("/proj", "c.go"), fingerprintFor(diffs, "c.go")); ok && entry.Findings != nil {
		t.Error("file from the failed batch must not be cached with findings")
	}
}

func TestStart_RetrySameSessionAfterFailure(t *testing.T) {
	calls := 0
	run := &fakeRunner{respond: func(req runner.TaskRequest) (runner.TaskResponse, error) {
		calls++
		if calls == 1 {
			return runner.TaskResponse{Content: "not json"}, nil
		}
		return pipelineRespond(req)
	}}
	o := NewOrchestrator(testConfig(), nil, run, newTestStore(t), &fakeDiffs{}, nil)

	id, err := o.Start(context.Background(), "/proj", []string{"a.go", "b.go"}, "s1")
	if err == nil {
		t.Fatal("first Start should fail on the unparseable classification")
	}

	// Retrying with the same session id succeeds while the session is still
	// in the classification stage.
	id2, err := o.Start(context.Background(), "/proj", []string{"a.go", "b.go"}, "s1")
	if err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if id2 != id {
		t.Errorf("retry returned session %q, want %q", id2, id)
	}
	sess, _ := o.Session(id)
	if sess.Stage != StageAwaitingConfirmation {
		t.Errorf("Stage = %s, want awaiting-confirmation", sess.Stage)
	}

	// A session past classification still rejects a duplicate id.
	if _, err := o.Start(context.Background(), "/proj", []string{"a.go"}, "s1"); err == nil {
		t.Error("Start on a confirmed session id should be rejected")
	}
}

func TestStart_PromptCarriesDiffStats(t *testing.T) {
	var mu sync.Mutex
	prompts := make(map[string]string)
	run := &fakeRunner{}
	run.respond = func(req runner.TaskRequest) (runner.TaskResponse, error) {
		mu.Lock()
		switch {
		case strings.Contains(req.TaskID, "/classify/"):
			prompts["classify"] = req.UserPrompt
		case strings.Contains(req.TaskID, "/agent/"):
			prompts["agent"] = req.UserPrompt
		}
		mu.Unlock()
		return pipelineRespond(req)
	}
	o := NewOrchestrator(testConfig(), nil, run, newTestStore(t), &fakeDiffs{}, nil)

	id, err := o.Start(context.Background(), "/proj", []string{"a.go", "b.go"}, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	o.StartLowRisk(context.Background(), id, []string{"a.go"}, []string{"b.go"})
	o.AdvanceHighRisk(context.Background(), id)

	// The scripted diff adds one line and deletes none.
	if !strings.Contains(prompts["classify"], "+1/-0") {
		t.Errorf("classify prompt missing line stats:\n%s", prompts["classify"])
	}
	if !strings.Contains(prompts["agent"], "Change size: +1/-0 lines.") {
		t.Errorf("sub-agent prompt missing line stats:\n%s", prompts["agent"])
	}
}

func classifyAllLow(files []string) string {
	var b strings.Builder
	b.WriteString("[")
	for i, f := range files {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"path":%q,"riskLevel":"low-risk","reasoning":"minor"}`, f)
	}
	b.WriteString("]")
	return b.String()
}

func fingerprintFor(d *fakeDiffs, path string) string {
	diff, _ := d.PendingDiff("/proj", path)
	return fileid.Fingerprint(diff)
}
