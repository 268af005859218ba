package cli

import (
	"github.com/spf13/cobra"

	"github.com/0gfoundation/gated-faucet/internal/deployer"
)

func newStatusCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the deployment record and, when a node is configured, on-chain state",
		Long: `Prints the recorded roles. When RPC_URL and PRIVATE_KEY are configured the
command also checks that each address holds code and reads the implementation
behind the faucet proxy. Use --offline to read the record only.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			st, err := a.store(ctx)
			if err != nil {
				return err
			}
			rec, err := st.Load()
			if err != nil {
				return err
			}

			if offline || a.cfg.RequireChain() != nil {
				renderStatus(cmd.OutOrStdout(), rec, nil, st.Path())
				return nil
			}
			if err := rec.CheckChain(uint64(a.cfg.Chain.ChainID)); err != nil {
				return err
			}
			ledger, err := a.ledger(ctx)
			if err != nil {
				return err
			}
			if err := rec.CheckChain(ledger.ChainID().Uint64()); err != nil {
				return err
			}
			sts, err := deployer.Status(ctx, ledger, rec)
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), rec, sts, st.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "read the record without contacting the node")
	return cmd
}
