package review

import (
	"sort"
	"time"
)

// RiskLevel partitions changed files before deep review.
type RiskLevel string

const (
	RiskLow  RiskLevel = "low-risk"
	RiskHigh RiskLevel = "high-risk"
)

// Severity represents the severity level of a finding.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeveritySuggestion Severity = "suggestion"
)

// SeverityRank returns a numeric rank for sorting (higher = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	case SeveritySuggestion:
		return 1
	default:
		return 0
	}
}

// VerificationStatus records the outcome of the accuracy check on a finding.
// Verification is fail-closed: findings that do not verify are dropped, so
// only verified findings are ever reported.
type VerificationStatus string

const (
	VerificationVerified VerificationStatus = "verified"
)

// FileClassification is the risk assessment for one input file.
type FileClassification struct {
	FileID    string    `json:"fileId"`
	Path      string    `json:"path"`
	Risk      RiskLevel `json:"riskLevel"`
	Reasoning string    `json:"reasoning,omitempty"`
	Cached    bool      `json:"cached,omitempty"`
}

// ProposedFix carries an optional old/new code replacement for a finding.
type ProposedFix struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Finding represents a single code review finding.
type Finding struct {
	ID           string             `json:"id"`
	FileID       string             `json:"fileId"`
	Path         string             `json:"path"`
	Line         int                `json:"line"`
	EndLine      int                `json:"endLine,omitempty"`
	Severity     Severity           `json:"severity"`
	Category     string             `json:"category"`
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Suggestion   string             `json:"suggestion,omitempty"`
	Fix          *ProposedFix       `json:"fix,omitempty"`
	Confidence   float64            `json:"confidence"`
	SourceAgents []string           `json:"sourceAgents,omitempty"`
	Verification VerificationStatus `json:"verification,omitempty"`
	Cached       bool               `json:"cached,omitempty"`
}

// SubAgentReview is the raw output of one independent reviewer slot for a
// high-risk file. A failed sub-agent still yields a record with an empty
// finding list.
type SubAgentReview struct {
	AgentID    string    `json:"agentId"`
	Findings   []Finding `json:"findings"`
	ProducedAt time.Time `json:"producedAt"`
}

// VerificationResult is the outcome of the independent accuracy check for
// one consolidated finding.
type VerificationResult struct {
	FindingID  string  `json:"findingId"`
	IsAccurate bool    `json:"isAccurate"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// SubAgentCount is the number of independent reviewer slots per high-risk file.
const SubAgentCount = 3

// ConsensusConfidence maps agreement count to a confidence score. The table
// is fixed policy: full agreement 1.0, majority 0.85, single agent 0.65.
func ConsensusConfidence(agentCount int) float64 {
	switch {
	case agentCount >= SubAgentCount:
		return 1.0
	case agentCount == 2:
		return 0.85
	default:
		return 0.65
	}
}

// SortFindings sorts findings by severity (most severe first), then path,
// then line.
func SortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		ri, rj := SeverityRank(findings[i].Severity), SeverityRank(findings[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if findings[i].Path != findings[j].Path {
			return findings[i].Path < findings[j].Path
		}
		return findings[i].Line < findings[j].Line
	})
}
