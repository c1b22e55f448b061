// Command bpvalidate is the entry point for spec.md's two deployment
// modes (SPEC_FULL.md §1.1): `validate` runs the core engine once against
// a single BP, `fleet` runs it on a timer against a roster of BPs behind a
// bounded-concurrency coordinator with a dashboard, metrics, and alerts.
//
// Grounded on leccaventures-pwt/cmd/monitor/main.go's config-path
// resolution and embedded-default-config idiom, restructured into cobra
// subcommands (github.com/spf13/cobra, per the luxfi-cli example pack's
// root-command shape) since this program has two genuinely distinct modes
// rather than the teacher's single long-running process.
package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/logger"
)

//go:embed config.example.yml
var configExample []byte

var configFlag string
var dataDirFlag string
var verboseFlag bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bpvalidate",
		Short: "Validate EOSIO-family block producer registrations against their advertised endpoints",
		Long: `bpvalidate checks a block producer's published bp.json against its
on-chain registration, probes every advertised endpoint (p2p, history,
hyperion, wallet, SSL), and emits a classified finding stream plus an
output resource document.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetDebug(verboseFlag)
		},
	}

	root.PersistentFlags().StringVar(&configFlag, "config", "", "path to config file (default ~/.bpvalidate/config.yml)")
	root.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "path to data directory (default alongside the config file)")
	root.PersistentFlags().BoolVar(&verboseFlag, "verbose", false, "emit debug-level log messages")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newFleetCmd())
	return root
}

func main() {
	logger.Init()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the config path (explicit flag or the
// ~/.bpvalidate default), writes the embedded example config on first run,
// loads it, and applies data-dir-relative defaults.
func loadConfig() (*config.Config, error) {
	configPath, baseDir, err := resolveConfigPath(configFlag)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	if err := ensureDefaultConfig(configPath, configExample); err != nil {
		return nil, fmt.Errorf("writing default config: %w", err)
	}

	logger.Info("INIT", "loading config from %s", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	dataDir := dataDirFlag
	if dataDir == "" {
		dataDir = filepath.Join(baseDir, "data")
	}
	applyDataDirDefaults(cfg, dataDir)

	return cfg, nil
}

func resolveConfigPath(configFile string) (path string, baseDir string, err error) {
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err != nil {
			return "", "", err
		}
		return abs, filepath.Dir(abs), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	baseDir = filepath.Join(home, ".bpvalidate")
	return filepath.Join(baseDir, "config.yml"), baseDir, nil
}

func ensureDefaultConfig(path string, example []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if len(example) == 0 {
		return fmt.Errorf("embedded config.example.yml is empty")
	}
	return os.WriteFile(path, example, 0o644)
}

func applyDataDirDefaults(cfg *config.Config, dataDir string) {
	if cfg.Cache.Dir == "" || cfg.Cache.Dir == "./data/cache" {
		cfg.Cache.Dir = filepath.Join(dataDir, "cache")
	}
	if cfg.Advanced.StateFile == "" || cfg.Advanced.StateFile == "./data/fleet_state.json" {
		cfg.Advanced.StateFile = filepath.Join(dataDir, "fleet_state.json")
	}
}
