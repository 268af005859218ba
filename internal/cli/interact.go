package cli

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/0gfoundation/gated-faucet/internal/contracts"
	"github.com/0gfoundation/gated-faucet/internal/interact"
	"github.com/0gfoundation/gated-faucet/internal/store"
)

const defaultFund = "0.015"

// session is what every interaction command needs: a driver over the dialled
// chain and the deployment record it acts on.
type session struct {
	driver *interact.Driver
	rec    *store.Record
}

// openSession loads the record and checks it holds what actions need before
// the node is dialled.
func openSession(cmd *cobra.Command, a *app, actions ...string) (*session, error) {
	ctx := cmd.Context()

	st, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := st.Load()
	if err != nil {
		return nil, err
	}
	if err := rec.CheckChain(uint64(a.cfg.Chain.ChainID)); err != nil {
		return nil, err
	}
	if err := interact.CheckRoles(rec, actions...); err != nil {
		return nil, err
	}

	dir := a.artifacts()
	token, err := dir.Load(contracts.AccessTokenName)
	if err != nil {
		return nil, err
	}
	faucet, err := dir.Load(contracts.FaucetName)
	if err != nil {
		return nil, err
	}

	ledger, err := a.ledger(ctx)
	if err != nil {
		return nil, err
	}
	return &session{
		driver: interact.NewDriver(ledger, token.ABI, faucet.ABI, a.cfg.Chain.ConfirmTimeout, a.log),
		rec:    rec,
	}, nil
}

// recipient parses --to, or generates a fresh address and prints its key so
// the claimed funds stay reachable.
func recipient(cmd *cobra.Command, to string) (common.Address, error) {
	if to != "" {
		if !common.IsHexAddress(to) {
			return common.Address{}, fmt.Errorf("--to: invalid address %q", to)
		}
		return common.HexToAddress(to), nil
	}
	addr, key, err := interact.NewRecipient()
	if err != nil {
		return common.Address{}, err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Receiver address: %s\n", addr.Hex())
	faintStyle.Fprintf(out, "Receiver key    : 0x%x\n", crypto.FromECDSA(key))
	return addr, nil
}

// finish renders the completed actions and explains err.
func finish(cmd *cobra.Command, done []*interact.Report, err error) error {
	if len(done) > 0 {
		renderReports(cmd.OutOrStdout(), done)
	}
	if err != nil {
		explain(cmd.ErrOrStderr(), err)
	}
	return err
}

// single adapts a one-action result to finish.
func single(rep *interact.Report, err error) ([]*interact.Report, error) {
	if err != nil || rep == nil {
		return nil, err
	}
	return []*interact.Report{rep}, nil
}

func newFundCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:         "fund",
		Short:       "Send native currency to the faucet with fundFaucet()",
		Annotations: chainAnnotation,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			value, err := contracts.ParseEther(amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			s, err := openSession(cmd, a, interact.ActionFund)
			if err != nil {
				return err
			}
			sp := progress(cmd.ErrOrStderr(), "funding faucet ...")
			done, err := single(s.driver.Fund(cmd.Context(), s.rec, value))
			sp.Stop()
			return finish(cmd, done, err)
		},
	}
	cmd.Flags().StringVar(&amount, "amount", defaultFund, "amount in ether")
	return cmd
}

func newMintCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:         "mint",
		Short:       "Mint an access token to a recipient",
		Annotations: chainAnnotation,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			s, err := openSession(cmd, a, interact.ActionMint)
			if err != nil {
				return err
			}
			addr, err := recipient(cmd, to)
			if err != nil {
				return err
			}
			sp := progress(cmd.ErrOrStderr(), "minting access token ...")
			done, err := single(s.driver.Mint(cmd.Context(), s.rec, addr))
			sp.Stop()
			return finish(cmd, done, err)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient address (default: a freshly generated one)")
	return cmd
}

func newClaimCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim from the faucet on behalf of a token holder",
		Long: `Calls claim(recipient) on the recorded faucet. The call is estimated first, so
a recipient without an access token, or one still in its cooldown, fails before
anything is sent.`,
		Annotations: chainAnnotation,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if to == "" {
				return errors.New("--to is required")
			}
			s, err := openSession(cmd, a, interact.ActionClaim)
			if err != nil {
				return err
			}
			addr, err := recipient(cmd, to)
			if err != nil {
				return err
			}
			sp := progress(cmd.ErrOrStderr(), "claiming ...")
			done, err := single(s.driver.Claim(cmd.Context(), s.rec, addr))
			sp.Stop()
			return finish(cmd, done, err)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	return cmd
}

func newMintAndClaimCmd() *cobra.Command {
	var to, fund string
	cmd := &cobra.Command{
		Use:   "mint-and-claim",
		Short: "Mint a token, fund the faucet and claim in one run",
		Long: `Mints an access token to the recipient (a fresh address unless --to is set),
funds the faucet with --fund ether, and claims for the recipient. Pass --fund 0
to skip funding.`,
		Annotations: chainAnnotation,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var value *big.Int
			if fund != "" {
				if value, err = contracts.ParseEther(fund); err != nil {
					return fmt.Errorf("--fund: %w", err)
				}
			}
			s, err := openSession(cmd, a, interact.ActionMint, interact.ActionClaim)
			if err != nil {
				return err
			}
			addr, err := recipient(cmd, to)
			if err != nil {
				return err
			}
			sp := progress(cmd.ErrOrStderr(), "minting and claiming ...")
			reps, err := s.driver.MintAndClaim(cmd.Context(), s.rec, addr, value)
			sp.Stop()
			return finish(cmd, reps, err)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient address (default: a freshly generated one)")
	cmd.Flags().StringVar(&fund, "fund", defaultFund, "ether to fund the faucet with before claiming")
	return cmd
}
