package review

import (
	"fmt"
	"strings"
)

const classifySystemPrompt = `You are a code review triage expert. Your job is to classify changed files by review risk in JSON format.

Rules:
1. Classify each file as "low-risk" or "high-risk" based only on its diff.
2. Low-risk: formatting, comments, renames, config tweaks, test-only edits, and other changes unlikely to alter behavior.
3. High-risk: logic changes, concurrency, error handling, security-sensitive code, data handling, and public API changes.
4. Classify every file given. Do not skip any and do not invent files.
5. Give one sentence of reasoning per file.

You MUST respond with ONLY a JSON array. No markdown, no explanation, no preamble.

Each element must have this exact structure:
{
  "fileId": "the file id given for the file",
  "path": "relative/file/path",
  "riskLevel": "low-risk|high-risk",
  "reasoning": "Why this file is low or high risk"
}`

const lowRiskSystemPrompt = `You are a code reviewer handling a batch of low-risk changes. Your job is to catch superficial issues only, in JSON format.

Rules:
1. Only review the changes shown in the diffs. Do not comment on unchanged code.
2. Report only superficial issues: typos, unused symbols, dead code, naming, style. Do not report logic or design issues here.
3. Be concise. Every finding must include a concrete suggestion.
4. Rate severity as "critical", "error", "warning", or "suggestion"; superficial issues are almost always "warning" or "suggestion".
5. Rate your confidence from 0.0 to 1.0.

You MUST respond with ONLY a JSON array of findings. No markdown, no explanation, no preamble.

Each finding must have this exact structure:
{
  "path": "relative/file/path",
  "line": 1,
  "endLine": 1,
  "severity": "critical|error|warning|suggestion",
  "category": "typo|unused|style|naming|docs",
  "title": "Short descriptive title",
  "description": "What is wrong",
  "suggestion": "How to fix it",
  "confidence": 0.0
}

If there are no issues, respond with an empty array: []`

const subAgentSystemPrompt = `You are an independent code reviewer examining one high-risk file. Your job is to find real defects in the modified code and report them in JSON format.

Rules:
1. Review ONLY the modified code shown in the diff. The full file content and imports are context, not review targets.
2. Focus on bugs, security issues, data loss, race conditions, error handling, and correctness.
3. Be concise and actionable. Every finding must include a concrete suggestion, and a proposed fix with old/new code when practical.
4. Reference line numbers in the current file content.
5. Rate severity as "critical", "error", "warning", or "suggestion".
6. Rate your confidence from 0.0 to 1.0.

You MUST respond with ONLY a JSON array of findings. No markdown, no explanation, no preamble.

Each finding must have this exact structure:
{
  "path": "relative/file/path",
  "line": 1,
  "endLine": 1,
  "severity": "critical|error|warning|suggestion",
  "category": "bug|security|performance|correctness|style|maintainability",
  "title": "Short descriptive title",
  "description": "What is wrong and why it matters",
  "suggestion": "How to fix it",
  "oldCode": "the code as written (optional)",
  "newCode": "the proposed replacement (optional)",
  "confidence": 0.0
}

If there are no issues, respond with an empty array: []`

const coordinatorSystemPrompt = `You are the review coordinator. Three independent reviewers examined the same file. Your job is to consolidate their findings into one deduplicated list in JSON format.

Rules:
1. Merge findings that describe the same underlying issue, even when worded differently or reported on nearby lines.
2. For each consolidated finding, list the agent ids that reported it in "sourceAgents".
3. Keep the clearest title, description, and suggestion among the duplicates; prefer the most precise line numbers.
4. Do not add findings of your own and do not drop a finding reported by any agent unless it is a duplicate.
5. Keep severity at the highest level any agent assigned.

You MUST respond with ONLY a JSON array. No markdown, no explanation, no preamble.

Each element must have this exact structure:
{
  "path": "relative/file/path",
  "line": 1,
  "endLine": 1,
  "severity": "critical|error|warning|suggestion",
  "category": "bug|security|performance|correctness|style|maintainability",
  "title": "Short descriptive title",
  "description": "What is wrong and why it matters",
  "suggestion": "How to fix it",
  "oldCode": "the code as written (optional)",
  "newCode": "the proposed replacement (optional)",
  "sourceAgents": ["agent-1", "agent-2"]
}

If the reviewers found nothing, respond with an empty array: []`

const verifierSystemPrompt = `You are a skeptical review auditor. Your job is to decide whether one reported finding is a real issue in the code, in JSON format.

Rules:
1. Re-read the code around the reported lines and decide whether the finding is accurate or a false positive.
2. A finding is accurate only if the described problem actually exists in the code as shown.
3. Rate your confidence from 0.0 to 1.0.
4. Give one or two sentences of reasoning.

You MUST respond with ONLY a JSON object. No markdown, no explanation, no preamble.

The object must have this exact structure:
{
  "findingId": "the id given for the finding",
  "isAccurate": true,
  "confidence": 0.0,
  "reasoning": "Why the finding is or is not accurate"
}`

// FileDiff pairs a file's path and identity with its pending diff. Added
// and Deleted are line counts parsed from the diff; both zero when the diff
// could not be parsed.
type FileDiff struct {
	Path        string
	FileID      string
	Fingerprint string
	Diff        string
	Content     string
	Imports     []string
	Added       int
	Deleted     int
}

// BuildClassifyPrompt constructs the user prompt for the classification stage.
func BuildClassifyPrompt(files []FileDiff) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Classify the following %d changed file(s) by review risk.\n", len(files))
	if langs := detectLanguages(paths(files)); len(langs) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(langs, ", "))
	}

	for _, f := range files {
		if f.Added+f.Deleted > 0 {
			fmt.Fprintf(&b, "\n--- FILE %s (id: %s, +%d/-%d) ---\n", f.Path, f.FileID, f.Added, f.Deleted)
		} else {
			fmt.Fprintf(&b, "\n--- FILE %s (id: %s) ---\n", f.Path, f.FileID)
		}
		b.WriteString(f.Diff)
		b.WriteString("\n--- END FILE ---\n")
	}

	return b.String()
}

// BuildLowRiskPrompt constructs the user prompt for one low-risk batch.
func BuildLowRiskPrompt(batch []FileDiff, rules *Rules) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Review the following %d low-risk file(s) for superficial issues only.\n", len(batch))
	if langs := detectLanguages(paths(batch)); len(langs) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(langs, ", "))
	}
	if rulesSection := BuildRulesPromptSection(rules); rulesSection != "" {
		b.WriteString(rulesSection)
	}

	for _, f := range batch {
		fmt.Fprintf(&b, "\n--- FILE %s ---\n", f.Path)
		b.WriteString(f.Diff)
		b.WriteString("\n--- END FILE ---\n")
	}

	return b.String()
}

// BuildSubAgentPrompt constructs the user prompt for one independent
// high-risk reviewer. All three sub-agents receive the same prompt.
func BuildSubAgentPrompt(file FileDiff, rules *Rules) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Review the modified code in %s.\n", file.Path)
	if file.Added+file.Deleted > 0 {
		fmt.Fprintf(&b, "Change size: +%d/-%d lines.\n", file.Added, file.Deleted)
	}
	if rulesSection := BuildRulesPromptSection(rules); rulesSection != "" {
		b.WriteString(rulesSection)
	}

	if len(file.Imports) > 0 {
		fmt.Fprintf(&b, "\nImports in this file:\n%s\n", strings.Join(file.Imports, "\n"))
	}

	b.WriteString("\n--- DIFF (review this) ---\n")
	b.WriteString(file.Diff)
	b.WriteString("\n--- END DIFF ---\n")

	if file.Content != "" {
		b.WriteString("\n--- FULL FILE CONTENT (context only) ---\n")
		b.WriteString(file.Content)
		b.WriteString("\n--- END FILE CONTENT ---\n")
	}

	return b.String()
}

// BuildCoordinatorPrompt constructs the user prompt for the coordination
// stage from the three sub-agent reviews.
func BuildCoordinatorPrompt(file FileDiff, reviews []SubAgentReview) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Consolidate the findings of %d reviewers for %s.\n", len(reviews), file.Path)

	b.WriteString("\n--- DIFF ---\n")
	b.WriteString(file.Diff)
	b.WriteString("\n--- END DIFF ---\n")

	if file.Content != "" {
		b.WriteString("\n--- FULL FILE CONTENT ---\n")
		b.WriteString(file.Content)
		b.WriteString("\n--- END FILE CONTENT ---\n")
	}

	for _, r := range reviews {
		fmt.Fprintf(&b, "\n--- REVIEWER %s (%d finding(s)) ---\n", r.AgentID, len(r.Findings))
		if len(r.Findings) == 0 {
			b.WriteString("(no findings)\n")
			continue
		}
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "[%s/%s] %s:%d %s\n  %s\n", f.Severity, f.Category, f.Path, f.Line, f.Title, f.Description)
			if f.Suggestion != "" {
				fmt.Fprintf(&b, "  suggestion: %s\n", f.Suggestion)
			}
		}
	}

	return b.String()
}

// BuildVerifierPrompt constructs the user prompt for verifying one
// consolidated finding.
func BuildVerifierPrompt(file FileDiff, finding Finding) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Verify the following finding (id: %s) against the code.\n", finding.ID)
	fmt.Fprintf(&b, "\n[%s/%s] %s:%d-%d %s\n%s\n", finding.Severity, finding.Category,
		finding.Path, finding.Line, finding.EndLine, finding.Title, finding.Description)
	if finding.Suggestion != "" {
		fmt.Fprintf(&b, "Suggested fix: %s\n", finding.Suggestion)
	}

	b.WriteString("\n--- DIFF ---\n")
	b.WriteString(file.Diff)
	b.WriteString("\n--- END DIFF ---\n")

	if file.Content != "" {
		b.WriteString("\n--- FULL FILE CONTENT ---\n")
		b.WriteString(file.Content)
		b.WriteString("\n--- END FILE CONTENT ---\n")
	}

	return b.String()
}

// ClassifySystemPrompt returns the system prompt for the classification stage.
func ClassifySystemPrompt() string { return classifySystemPrompt }

// LowRiskSystemPrompt returns the system prompt for low-risk batch review.
func LowRiskSystemPrompt() string { return lowRiskSystemPrompt }

// SubAgentSystemPrompt returns the system prompt for independent sub-agent review.
func SubAgentSystemPrompt() string { return subAgentSystemPrompt }

// CoordinatorSystemPrompt returns the system prompt for the coordination stage.
func CoordinatorSystemPrompt() string { return coordinatorSystemPrompt }

// VerifierSystemPrompt returns the system prompt for finding verification.
func VerifierSystemPrompt() string { return verifierSystemPrompt }

func paths(files []FileDiff) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func detectLanguages(files []string) []string {
	langMap := map[string]string{
		".go":    "Go",
		".py":    "Python",
		".js":    "JavaScript",
		".ts":    "TypeScript",
		".tsx":   "TypeScript/React",
		".jsx":   "JavaScript/React",
		".rs":    "Rust",
		".java":  "Java",
		".rb":    "Ruby",
		".cpp":   "C++",
		".c":     "C",
		".h":     "C/C++",
		".cs":    "C#",
		".php":   "PHP",
		".swift": "Swift",
		".kt":    "Kotlin",
		".sql":   "SQL",
		".sh":    "Shell",
		".yaml":  "YAML",
		".yml":   "YAML",
		".json":  "JSON",
		".tf":    "Terraform",
	}

	seen := make(map[string]bool)
	var langs []string
	for _, f := range files {
		for ext, lang := range langMap {
			if strings.HasSuffix(f, ext) && !seen[lang] {
				seen[lang] = true
				langs = append(langs, lang)
			}
		}
	}
	return langs
}
