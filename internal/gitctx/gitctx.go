package gitctx

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// PendingDiff returns the working-tree diff for one file against HEAD.
// Untracked files are rendered as a synthesized new-file diff so they still
// produce a reviewable diff and a stable fingerprint. A file with no pending
// change yields an empty string, which is valid input for fingerprinting.
func PendingDiff(projectRoot, relPath string) (string, error) {
	diff, err := gitOutput(projectRoot, "diff", "HEAD", "--", relPath)
	if err != nil {
		// HEAD may not exist yet (no commits); compare against the index.
		diff, err = gitOutput(projectRoot, "diff", "--", relPath)
		if err != nil {
			return "", fmt.Errorf("git diff %s: %w", relPath, err)
		}
	}
	if strings.TrimSpace(diff) != "" {
		return diff, nil
	}

	// Untracked file: git diff reports nothing.
	tracked, err := isTracked(projectRoot, relPath)
	if err != nil || tracked {
		return diff, nil
	}
	content, err := os.ReadFile(filepath.Join(projectRoot, relPath))
	if err != nil {
		return "", fmt.Errorf("reading untracked file %s: %w", relPath, err)
	}
	return newFileDiff(relPath, string(content)), nil
}

// FileContent returns the current working-tree content of a file.
func FileContent(projectRoot, relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(projectRoot, relPath))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", relPath, err)
	}
	return string(data), nil
}

// DiffStats holds per-file line counts parsed from a unified diff.
type DiffStats struct {
	Added   int
	Deleted int
}

// ParseStats parses a unified diff and returns aggregate line stats.
// An empty diff yields zero stats and no error.
func ParseStats(diff string) (DiffStats, error) {
	var stats DiffStats
	if strings.TrimSpace(diff) == "" {
		return stats, nil
	}
	files, _, err := gitdiff.Parse(strings.NewReader(diff))
	if err != nil {
		return stats, fmt.Errorf("parsing diff: %w", err)
	}
	for _, f := range files {
		for _, frag := range f.TextFragments {
			for _, line := range frag.Lines {
				switch line.Op {
				case gitdiff.OpAdd:
					stats.Added++
				case gitdiff.OpDelete:
					stats.Deleted++
				}
			}
		}
	}
	return stats, nil
}

func isTracked(projectRoot, relPath string) (bool, error) {
	_, err := gitOutput(projectRoot, "ls-files", "--error-unmatch", "--", relPath)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// newFileDiff synthesizes a unified diff that adds the full content of path.
func newFileDiff(path, content string) string {
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", path, path)
	fmt.Fprintf(&b, "new file mode 100644\n")
	fmt.Fprintf(&b, "--- /dev/null\n")
	fmt.Fprintf(&b, "+++ b/%s\n", path)
	fmt.Fprintf(&b, "@@ -0,0 +1,%d @@\n", len(lines))
	for _, line := range lines {
		fmt.Fprintf(&b, "+%s\n", line)
	}
	return b.String()
}

func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
