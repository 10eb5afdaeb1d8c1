package main

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"anamnesis-backend/internal/dedup"
)

type simulateOptions struct {
	domains     int
	submissions int
	seed        int64
}

func newSimulateCmd() *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay generated submissions through the dedup engine and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.domains <= 0 || opts.submissions <= 0 {
				return fmt.Errorf("--domains and --submissions must be positive")
			}
			return writeJSON(cmd.OutOrStdout(), simulate(opts))
		},
	}
	cmd.Flags().IntVar(&opts.domains, "domains", 20, "distinct sites to generate")
	cmd.Flags().IntVar(&opts.submissions, "submissions", 200, "submissions to replay")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "random seed")
	return cmd
}

func simulate(opts simulateOptions) dedup.Report {
	faker := gofakeit.New(opts.seed)
	domains := make([]string, opts.domains)
	for i := range domains {
		domains[i] = strings.ToLower(faker.DomainName())
	}

	engine := dedup.NewEngine(nil)
	var stored []dedup.Candidate
	for i := 0; i < opts.submissions; i++ {
		raw := variant(faker, domains[faker.Number(0, len(domains)-1)])
		res := engine.Check(raw, "simulated", stored)
		if res.IsDuplicate || res.Hash == "" {
			continue
		}
		stored = append(stored, dedup.Candidate{
			AnalysisID: fmt.Sprintf("sim-%d", i),
			URL:        raw,
			Hash:       res.Hash,
		})
	}
	return engine.Report()
}

// variant spells domain the way different users might type it. The www
// prefix is part of identity, so each domain yields at most two hashes.
func variant(faker *gofakeit.Faker, domain string) string {
	host := domain
	if faker.Bool() {
		host = "www." + host
	}
	if faker.Number(0, 4) == 0 {
		host = strings.ToUpper(host)
	}
	switch faker.Number(0, 3) {
	case 0:
		host = "https://" + host
	case 1:
		host = "http://" + host
	}
	if faker.Bool() {
		host += "/"
	}
	if faker.Number(0, 3) == 0 {
		host += "?utm_source=" + faker.Username()
	}
	if faker.Number(0, 9) == 0 {
		host += "#contact"
	}
	return host
}
