package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chanpod/agent-sessions-sub001/internal/fileid"
	"github.com/chanpod/agent-sessions-sub001/internal/gitctx"
)

var fingerprintProject string

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <path>...",
	Short: "Print diff fingerprints for files",
	Long:  "Computes the identity and pending-diff fingerprint for each file, as used by the review cache.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := fingerprintProject
		if root == "" {
			wd, err := os.Getwd()
			if err != nil {
				exitCode = ExitRuntimeError
				return err
			}
			root = wd
		}

		type entry struct {
			Path        string `json:"path"`
			Identity    string `json:"identity"`
			Fingerprint string `json:"fingerprint"`
		}
		out := make([]entry, 0, len(args))
		for _, path := range args {
			diff, err := gitctx.PendingDiff(root, path)
			if err != nil {
				exitCode = ExitRuntimeError
				return fmt.Errorf("diff for %s: %w", path, err)
			}
			out = append(out, entry{
				Path:        path,
				Identity:    fileid.Identity(root, path),
				Fingerprint: fileid.Fingerprint(diff),
			})
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			exitCode = ExitRuntimeError
			return err
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	},
}

func init() {
	fingerprintCmd.Flags().StringVar(&fingerprintProject, "project", "", "project root (defaults to the working directory)")
}
