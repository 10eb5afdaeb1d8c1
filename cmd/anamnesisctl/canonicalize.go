package main

import (
	"github.com/spf13/cobra"

	"anamnesis-backend/internal/canonical"
)

type canonicalOutput struct {
	canonical.Result
	Type     string `json:"type"`
	Provider string `json:"provider,omitempty"`
}

func newCanonicalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "canonicalize [url...]",
		Short: "Print the normalized form and hash of each URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := make([]canonicalOutput, 0, len(args))
			for _, raw := range args {
				res := canonical.Canonicalize(raw)
				item := canonicalOutput{Result: res}
				if res.IsValid {
					item.Type = canonical.DetectURLType(res.Normalized)
					item.Provider = canonical.ExtractSocialProvider(res.Normalized)
				}
				out = append(out, item)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}
