package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0gfoundation/gated-faucet/internal/contracts"
	"github.com/0gfoundation/gated-faucet/internal/deployer"
)

func newUpgradeCmd() *cobra.Command {
	var (
		artifactPath string
		call         string
		callArgs     []string
		probe        string
		skipCheck    bool
	)

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the faucet implementation behind its proxy",
		Long: `Deploys a new Faucet implementation and points the recorded faucetProxy at
it with upgradeToAndCall. The proxy address, and therefore the record, does not
change. The initializer is not run again; pass --call to invoke a reinitializer.`,
		Annotations: chainAnnotation,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			// The record is checked before anything is dialled.
			st, err := a.store(ctx)
			if err != nil {
				return err
			}
			rec, err := st.Load()
			if err != nil {
				return err
			}
			if err := deployer.CheckUpgradable(rec); err != nil {
				return err
			}

			impl, err := a.artifacts().LoadFrom(artifactPath, contracts.FaucetName)
			if err != nil {
				return err
			}

			plan := deployer.UpgradePlan{Implementation: impl, Probe: probe, SkipCompatibilityCheck: skipCheck}
			if call != "" {
				method, ok := impl.ABI.Methods[call]
				if !ok {
					return fmt.Errorf("%s has no method %s", impl.Name, call)
				}
				if plan.CallArgs, err = contracts.CoerceArgs(method, callArgs); err != nil {
					return fmt.Errorf("--call-args: %w", err)
				}
				plan.Call = call
			}

			ledger, err := a.ledger(ctx)
			if err != nil {
				return err
			}
			u := deployer.NewUpgrader(ledger, a.cfg.Chain.ConfirmTimeout, a.log)
			sp := progress(cmd.ErrOrStderr(), "upgrading faucet ...")
			res, err := u.Upgrade(ctx, rec, plan)
			sp.Stop()
			if err != nil {
				explain(cmd.ErrOrStderr(), err)
				return err
			}
			renderUpgrade(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVar(&artifactPath, "artifact", "", "path to the new implementation's Foundry artifact (default <ARTIFACTS_DIR>/Faucet.sol/Faucet.json)")
	cmd.Flags().StringVar(&call, "call", "", "reinitializer to run through the proxy during the upgrade")
	cmd.Flags().StringSliceVar(&callArgs, "call-args", nil, "arguments for --call, comma separated")
	cmd.Flags().StringVar(&probe, "probe", "", "view method to read through the proxy afterwards, e.g. version")
	cmd.Flags().BoolVar(&skipCheck, "skip-uups-check", false, "skip the proxiableUUID compatibility check")
	return cmd
}
