package review

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/chanpod/agent-sessions-sub001/internal/fileid"
)

// rawClassification is the JSON structure returned by the classification task.
type rawClassification struct {
	FileID    string `json:"fileId"`
	Path      string `json:"path"`
	RiskLevel string `json:"riskLevel"`
	Reasoning string `json:"reasoning"`
}

// rawFinding is the JSON structure returned by review tasks. The coordinator
// additionally fills sourceAgents.
type rawFinding struct {
	Path         string   `json:"path"`
	Line         int      `json:"line"`
	EndLine      int      `json:"endLine"`
	Severity     string   `json:"severity"`
	Category     string   `json:"category"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Suggestion   string   `json:"suggestion"`
	OldCode      string   `json:"oldCode"`
	NewCode      string   `json:"newCode"`
	Confidence   float64  `json:"confidence"`
	SourceAgents []string `json:"sourceAgents"`
}

// rawVerification is the JSON structure returned by a verification task.
type rawVerification struct {
	FindingID  string  `json:"findingId"`
	IsAccurate bool    `json:"isAccurate"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// projectClassifications normalizes raw classifications against the input
// file set. A classification whose fileId is missing gets one derived from
// its path; files the LLM skipped default to high-risk so nothing escapes
// deep review; paths outside the input set are dropped.
func projectClassifications(raw []rawClassification, projectRoot string, inputFiles []string) []FileClassification {
	byPath := make(map[string]rawClassification, len(raw))
	for _, r := range raw {
		byPath[fileid.NormalizePath(r.Path)] = r
	}

	out := make([]FileClassification, 0, len(inputFiles))
	for _, path := range inputFiles {
		norm := fileid.NormalizePath(path)
		r, ok := byPath[norm]
		if !ok {
			out = append(out, FileClassification{
				FileID:    fileid.Identity(projectRoot, path),
				Path:      norm,
				Risk:      RiskHigh,
				Reasoning: "not classified by the model; defaulting to high-risk",
			})
			continue
		}
		fc := FileClassification{
			FileID:    r.FileID,
			Path:      norm,
			Risk:      normalizeRisk(r.RiskLevel),
			Reasoning: r.Reasoning,
		}
		if fc.FileID == "" {
			fc.FileID = fileid.Identity(projectRoot, path)
		}
		out = append(out, fc)
	}
	return out
}

// projectFindings normalizes raw findings into typed ones, assigning ids and
// fallback file identities.
func projectFindings(raw []rawFinding, projectRoot string) []Finding {
	findings := make([]Finding, 0, len(raw))
	for _, r := range raw {
		f := Finding{
			FileID:       fileid.Identity(projectRoot, r.Path),
			Path:         fileid.NormalizePath(r.Path),
			Line:         r.Line,
			EndLine:      r.EndLine,
			Severity:     normalizeSeverity(r.Severity),
			Category:     r.Category,
			Title:        r.Title,
			Description:  r.Description,
			Suggestion:   r.Suggestion,
			Confidence:   clampConfidence(r.Confidence),
			SourceAgents: r.SourceAgents,
		}
		if r.OldCode != "" || r.NewCode != "" {
			f.Fix = &ProposedFix{Old: r.OldCode, New: r.NewCode}
		}
		f.ID = generateFindingID(f)
		findings = append(findings, f)
	}
	return findings
}

// projectVerification normalizes one raw verification result. A missing
// findingId is backfilled from the finding under verification.
func projectVerification(r rawVerification, findingID string) VerificationResult {
	v := VerificationResult{
		FindingID:  r.FindingID,
		IsAccurate: r.IsAccurate,
		Confidence: clampConfidence(r.Confidence),
		Reasoning:  r.Reasoning,
	}
	if v.FindingID == "" {
		v.FindingID = findingID
	}
	return v
}

func normalizeRisk(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low-risk", "low":
		return RiskLow
	default:
		return RiskHigh
	}
}

func normalizeSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "error":
		return SeverityError
	case "warning":
		return SeverityWarning
	default:
		return SeveritySuggestion
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func generateFindingID(f Finding) string {
	data := fmt.Sprintf("%s:%s:%d", f.Path, f.Title, f.Line)
	h := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", h[:8])
}
