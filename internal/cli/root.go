// Package cli is the faucetctl command tree.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0gfoundation/gated-faucet/internal/config"
	"github.com/0gfoundation/gated-faucet/internal/logging"
)

type contextKey string

const appKey contextKey = "app"

// annotation marking commands that talk to the chain and therefore need
// RPC_URL and PRIVATE_KEY before they run.
const needsChain = "needs-chain"

var chainAnnotation = map[string]string{needsChain: "true"}

// NewRootCmd builds the faucetctl command tree.
func NewRootCmd() *cobra.Command {
	var (
		configFile string
		envFile    string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:   "faucetctl",
		Short: "Deploy, upgrade and operate the gated faucet contracts",
		Long: `faucetctl deploys the EarlyAccessNFT access token and the Faucet that pays
out only to token holders, upgrades the faucet behind its UUPS proxy, and drives
the fund / mint / claim interactions against the recorded deployment.

Configuration comes from flags, the environment, a .env file and an optional
faucetctl.yaml, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			var envFiles []string
			if envFile != "" {
				envFiles = append(envFiles, envFile)
			}
			cfg, err := config.Load(configFile, envFiles...)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if cmd.Annotations[needsChain] == "true" {
				if err := cfg.RequireChain(); err != nil {
					return err
				}
			}

			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}

			a := &app{cfg: cfg, log: log}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./faucetctl.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "deploy", Title: "Deployment Commands"},
		&cobra.Group{ID: "interact", Title: "Interaction Commands"},
		&cobra.Group{ID: "inspect", Title: "Inspection Commands"},
	)

	for _, c := range []*cobra.Command{newDeployCmd(), newUpgradeCmd()} {
		c.GroupID = "deploy"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{newFundCmd(), newMintCmd(), newClaimCmd(), newMintAndClaimCmd()} {
		c.GroupID = "interact"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{newStatusCmd(), newServeCmd()} {
		c.GroupID = "inspect"
		rootCmd.AddCommand(c)
	}
	return rootCmd
}

// appFrom returns the app prepared by PersistentPreRunE.
func appFrom(cmd *cobra.Command) (*app, error) {
	a, ok := cmd.Context().Value(appKey).(*app)
	if !ok {
		return nil, fmt.Errorf("command %s ran without initialization", cmd.Name())
	}
	return a, nil
}
