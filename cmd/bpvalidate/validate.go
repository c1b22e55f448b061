package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/poplexity/bpvalidate/internal/cache"
	"github.com/poplexity/bpvalidate/internal/fleet"
	"github.com/poplexity/bpvalidate/internal/tools"
	"github.com/poplexity/bpvalidate/internal/validator"
)

func newValidateCmd() *cobra.Command {
	var entry fleet.Entry
	var chainKey string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a single BP and print its report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			entry.Chain = chainKey
			return runValidate(cmd.Context(), entry)
		},
	}

	cmd.Flags().StringVar(&entry.Owner, "owner", "", "regproducer account name (required)")
	cmd.Flags().StringVar(&entry.URL, "url", "", "regproducer home page URL (required)")
	cmd.Flags().StringVar(&entry.ProducerKey, "producer-key", "", "regproducer signing key")
	cmd.Flags().BoolVar(&entry.IsActive, "is-active", true, "whether the regproducer row is active")
	cmd.Flags().StringVar(&entry.Location, "location", "", "regproducer location code")
	cmd.Flags().Int64Var(&entry.UnpaidBlocks, "unpaid-blocks", 0, "regproducer unpaid_blocks")
	cmd.Flags().StringVar(&entry.LastClaimTime, "last-claim-time", "", "regproducer last_claim_time (RFC3339)")
	cmd.Flags().StringVar(&chainKey, "chain", "", "chain profile key from the config's chains table (required)")
	cmd.Flags().IntVar(&entry.Rank, "rank", 0, "BP's current vote rank, 1-indexed")
	cmd.Flags().BoolVar(&entry.IsTop21, "top21", false, "whether this BP currently holds a top-21 producing seat")
	cmd.Flags().BoolVar(&entry.IsStandby, "standby", false, "whether this BP currently holds a standby seat")
	cmd.Flags().StringVar(&entry.OnchainBPJSONData, "onchain-bpjson", "", "raw on-chain bp.json table row JSON, if reconciliation is enabled for this chain")
	cmd.Flags().StringVar(&entry.OnchainBlacklistData, "onchain-blacklist", "", "raw on-chain blacklist table row, if reconciliation is enabled for this chain")

	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("chain")

	return cmd
}

func runValidate(ctx context.Context, entry fleet.Entry) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cacheStore, err := cache.Open(cfg.Cache.Dir)
	if err != nil {
		return fmt.Errorf("opening cache store: %w", err)
	}
	defer cacheStore.Close()

	input, err := entry.ToInput(cfg)
	if err != nil {
		return err
	}

	engine := validator.New(
		cfg, cacheStore,
		tools.ExecWHOISRunner{}, tools.NmapTLSScanner{}, tools.ExecP2PTester{}, tools.CurlHTTP2Detector{},
		cfg.Advanced.DNS.Servers, cfg.Advanced.DNS.TimeoutDuration(),
	)

	report := engine.Validate(ctx, input)

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	_, err = os.Stdout.Write(append(out, '\n'))
	return err
}
