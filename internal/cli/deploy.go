package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/0gfoundation/gated-faucet/internal/chain"
	"github.com/0gfoundation/gated-faucet/internal/contracts"
	"github.com/0gfoundation/gated-faucet/internal/deployer"
)

func newDeployCmd() *cobra.Command {
	var (
		mode        string
		resume      bool
		tokenName   string
		tokenSymbol string
		claimAmount string
		cooldown    uint64
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the access token and the faucet",
		Long: `Deploys EarlyAccessNFT(name, symbol), then the Faucet bound to it.

  [1/2] deploy-access-token  → accessToken
  [2/2] deploy-faucet        → faucet (plain) or faucetProxy (upgradeable-proxy)

Each address is written to the deployment record as soon as its transaction is
confirmed. If the faucet step fails, re-run with --resume to keep the access
token already deployed.`,
		Annotations: chainAnnotation,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			// ── plan ──────────────────────────────────────────────────────
			m, err := deployer.ParseMode(lo.CoalesceOrEmpty(mode, a.cfg.Deploy.Mode))
			if err != nil {
				return err
			}
			amount, err := contracts.ParseWei(lo.CoalesceOrEmpty(claimAmount, a.cfg.Deploy.ClaimAmount))
			if err != nil {
				return fmt.Errorf("claim amount: %w", err)
			}
			if !cmd.Flags().Changed("cooldown") {
				cooldown = a.cfg.Deploy.CooldownSeconds
			}
			plan := deployer.Plan{
				Token: deployer.TokenParams{
					Name:   lo.CoalesceOrEmpty(tokenName, a.cfg.Deploy.TokenName),
					Symbol: lo.CoalesceOrEmpty(tokenSymbol, a.cfg.Deploy.TokenSymbol),
				},
				Faucet: deployer.FaucetParams{ClaimAmount: amount, CooldownSeconds: cooldown, Mode: m},
				Resume: resume,
			}

			// ── artifacts ─────────────────────────────────────────────────
			arts, err := loadDeployArtifacts(a.artifacts(), m)
			if err != nil {
				return err
			}

			// ── chain + record ────────────────────────────────────────────
			ledger, err := a.ledger(ctx)
			if err != nil {
				return err
			}
			st, err := a.store(ctx)
			if err != nil {
				return err
			}
			rec, err := st.LoadOrEmpty(ledger.ChainID().Uint64())
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Deployer : %s\n", ledger.Sender().Hex())
			fmt.Fprintf(out, "Chain ID : %s\n", ledger.ChainID())
			fmt.Fprintf(out, "Mode     : %s\n", m)

			orch := deployer.NewOrchestrator(ledger, st, arts, a.cfg.Chain.ConfirmTimeout, a.log)
			sp := progress(cmd.ErrOrStderr(), "deploying contracts ...")
			res, err := orch.Deploy(ctx, rec, plan)
			sp.Stop()
			if err != nil {
				explain(cmd.ErrOrStderr(), err)
				return err
			}

			renderDeploy(out, res, rec, st.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "faucet deployment mode: plain or upgradeable-proxy (default DEPLOY_MODE)")
	cmd.Flags().BoolVar(&resume, "resume", false, "keep a recorded access token that is still live")
	cmd.Flags().StringVar(&tokenName, "token-name", "", "access token name (default TOKEN_NAME)")
	cmd.Flags().StringVar(&tokenSymbol, "token-symbol", "", "access token symbol (default TOKEN_SYMBOL)")
	cmd.Flags().StringVar(&claimAmount, "claim-amount", "", "wei paid per claim (default CLAIM_AMOUNT)")
	cmd.Flags().Uint64Var(&cooldown, "cooldown", 0, "seconds between claims per recipient (default COOLDOWN_SECONDS)")
	return cmd
}

func loadDeployArtifacts(dir contracts.Artifacts, m deployer.Mode) (deployer.Artifacts, error) {
	var arts deployer.Artifacts
	var err error
	if arts.AccessToken, err = dir.Load(contracts.AccessTokenName); err != nil {
		return arts, err
	}
	if arts.Faucet, err = dir.Load(contracts.FaucetName); err != nil {
		return arts, err
	}
	if m == deployer.ModeUpgradeableProxy {
		if arts.Proxy, err = dir.Load(contracts.ProxyName); err != nil {
			return arts, err
		}
	}
	return arts, nil
}

// explain prints a short operator-facing summary of a failed run.
func explain(w io.Writer, err error) {
	var se *deployer.StepError
	if errors.As(err, &se) {
		failStyle.Fprintf(w, "❌ step %s failed\n", se.Step)
		if len(se.DependsOn) > 0 {
			faintStyle.Fprintf(w, "   depends on: %v\n", se.DependsOn)
		}
	}
	switch {
	case errors.Is(err, chain.ErrUnconfirmed):
		warnStyle.Fprintln(w, "⚠️  transaction sent but not confirmed in time; it may still be mined")
	case errors.Is(err, chain.ErrReverted):
		failStyle.Fprintln(w, "❌ contract execution reverted")
	case errors.Is(err, chain.ErrSubmission):
		failStyle.Fprintln(w, "❌ node rejected the transaction")
	}
}
