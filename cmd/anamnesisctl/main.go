// Command anamnesisctl inspects URL canonicalization and duplicate detection
// offline, without a running API.
package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "anamnesisctl",
		Short:         "Inspect URL canonicalization and deduplication",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newCanonicalizeCmd(),
		newDedupCmd(),
		newSimulateCmd(),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
