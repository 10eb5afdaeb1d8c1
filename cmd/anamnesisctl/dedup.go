package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"anamnesis-backend/internal/canonical"
	"anamnesis-backend/internal/dedup"
)

func newDedupCmd() *cobra.Command {
	var existing []string
	cmd := &cobra.Command{
		Use:   "dedup [url]",
		Short: "Check a URL against a list of previously submitted URLs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates := make([]dedup.Candidate, 0, len(existing))
			for i, raw := range existing {
				res := canonical.Canonicalize(raw)
				if !res.IsValid {
					return fmt.Errorf("existing url %q: %s", raw, res.Reason)
				}
				candidates = append(candidates, dedup.Candidate{
					AnalysisID: "existing-" + strconv.Itoa(i+1),
					URL:        raw,
					Hash:       res.Hash,
				})
			}
			engine := dedup.NewEngine(nil)
			return writeJSON(cmd.OutOrStdout(), engine.Check(args[0], "cli", candidates))
		},
	}
	cmd.Flags().StringSliceVar(&existing, "existing", nil, "previously submitted URLs")
	return cmd
}
