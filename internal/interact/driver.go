// Package interact drives the deployed contracts: funding the faucet, minting
// access tokens and claiming from the faucet. Every action resolves the
// addresses it needs from the deployment record before touching the chain.
package interact

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/0gfoundation/gated-faucet/internal/chain"
	"github.com/0gfoundation/gated-faucet/internal/store"
)

const (
	ActionFund  = "fund"
	ActionMint  = "mint"
	ActionClaim = "claim"
)

// Contract methods the drivers call.
const (
	methodFund      = "fundFaucet"
	methodMint      = "mintTo"
	methodClaim     = "claim"
	methodBalance   = "balance"
	methodBalanceOf = "balanceOf"
)

// Report is the outcome of one confirmed action. Before and After are nil
// when the observed quantity cannot be read.
type Report struct {
	Action  string
	TxHash  common.Hash
	Block   uint64
	Target  common.Address // contract called
	Subject common.Address // whose balance Before and After describe
	Before  *big.Int
	After   *big.Int
	GasUsed uint64
	// GasEstimate is set for claims, which are estimated before sending.
	GasEstimate uint64
}

// Driver sends one state-changing call per action and confirms it.
type Driver struct {
	ledger  chain.Ledger
	token   abi.ABI
	faucet  abi.ABI
	timeout time.Duration
	log     *zap.Logger
}

func NewDriver(ledger chain.Ledger, tokenABI, faucetABI abi.ABI, timeout time.Duration, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{ledger: ledger, token: tokenABI, faucet: faucetABI, timeout: timeout, log: log}
}

// NewRecipient generates a throwaway account to receive a mint or claim.
func NewRecipient() (common.Address, *ecdsa.PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, nil, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), key, nil
}

// CheckRoles reports the first role that actions need and rec lacks. It makes
// no remote call, so commands can run it before connecting to a node.
func CheckRoles(rec *store.Record, actions ...string) error {
	for _, action := range actions {
		var err error
		switch action {
		case ActionMint:
			_, err = rec.Get(store.RoleAccessToken)
		case ActionFund, ActionClaim:
			_, _, err = rec.FaucetAddress()
		default:
			err = fmt.Errorf("unknown action %q", action)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
	}
	return nil
}

// resolve looks up role in rec without any remote call.
func (d *Driver) resolve(rec *store.Record, role store.Role) (common.Address, error) {
	if err := rec.CheckChain(d.ledger.ChainID().Uint64()); err != nil {
		return common.Address{}, err
	}
	return rec.Get(role)
}

func (d *Driver) resolveFaucet(rec *store.Record) (common.Address, error) {
	if err := rec.CheckChain(d.ledger.ChainID().Uint64()); err != nil {
		return common.Address{}, err
	}
	_, addr, err := rec.FaucetAddress()
	return addr, err
}

// Fund sends amount wei to the faucet through fundFaucet.
func (d *Driver) Fund(ctx context.Context, rec *store.Record, amount *big.Int) (*Report, error) {
	faucet, err := d.resolveFaucet(rec)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("fund amount must be positive, got %v", amount)
	}

	rep := &Report{Action: ActionFund, Target: faucet, Subject: faucet}
	if rep.Before, err = d.faucetBalance(ctx, faucet); err != nil {
		return nil, err
	}
	if err := d.transact(ctx, rep, chain.Call{To: faucet, ABI: d.faucet, Method: methodFund, Value: amount}); err != nil {
		return rep, err
	}
	if rep.After, err = d.faucetBalance(ctx, faucet); err != nil {
		return rep, err
	}
	return rep, nil
}

// Mint mints an access token to recipient.
func (d *Driver) Mint(ctx context.Context, rec *store.Record, recipient common.Address) (*Report, error) {
	token, err := d.resolve(rec, store.RoleAccessToken)
	if err != nil {
		return nil, err
	}
	return d.mint(ctx, token, recipient)
}

func (d *Driver) mint(ctx context.Context, token, recipient common.Address) (*Report, error) {
	var err error
	rep := &Report{Action: ActionMint, Target: token, Subject: recipient}
	if rep.Before, err = d.tokenBalance(ctx, token, recipient); err != nil {
		return nil, err
	}
	if err := d.transact(ctx, rep, chain.Call{To: token, ABI: d.token, Method: methodMint, Args: []any{recipient}}); err != nil {
		return rep, err
	}
	if rep.After, err = d.tokenBalance(ctx, token, recipient); err != nil {
		return rep, err
	}
	return rep, nil
}

// Claim asks the faucet to pay recipient. The faucet rejects recipients
// without an access token or still inside their cooldown; a rejection shows up
// as chain.ErrReverted, usually already at estimation.
func (d *Driver) Claim(ctx context.Context, rec *store.Record, recipient common.Address) (*Report, error) {
	faucet, err := d.resolveFaucet(rec)
	if err != nil {
		return nil, err
	}
	return d.claim(ctx, faucet, recipient)
}

func (d *Driver) claim(ctx context.Context, faucet, recipient common.Address) (*Report, error) {
	call := chain.Call{To: faucet, ABI: d.faucet, Method: methodClaim, Args: []any{recipient}}
	rep := &Report{Action: ActionClaim, Target: faucet, Subject: recipient}

	var err error
	if rep.Before, err = d.ledger.ReadBalance(ctx, recipient); err != nil {
		return nil, err
	}
	if rep.GasEstimate, err = d.ledger.EstimateCall(ctx, call); err != nil {
		return rep, fmt.Errorf("claim for %s: %w", recipient.Hex(), err)
	}
	d.log.Info("gas estimated", zap.String("method", methodClaim), zap.Uint64("gas", rep.GasEstimate))

	if err := d.transact(ctx, rep, call); err != nil {
		return rep, err
	}
	if rep.After, err = d.ledger.ReadBalance(ctx, recipient); err != nil {
		return rep, err
	}
	return rep, nil
}

// MintAndClaim mints a token to recipient, optionally funds the faucet, and
// claims. Both roles are resolved before the first remote call. It stops at
// the first failing action and returns the reports of the actions that
// completed before it.
func (d *Driver) MintAndClaim(ctx context.Context, rec *store.Record, recipient common.Address, fund *big.Int) ([]*Report, error) {
	token, err := d.resolve(rec, store.RoleAccessToken)
	if err != nil {
		return nil, err
	}
	faucet, err := d.resolveFaucet(rec)
	if err != nil {
		return nil, err
	}

	var reports []*Report
	step := func(rep *Report, err error) error {
		if err == nil {
			reports = append(reports, rep)
		}
		return err
	}

	if err := step(d.mint(ctx, token, recipient)); err != nil {
		return reports, err
	}
	if fund != nil && fund.Sign() > 0 {
		if err := step(d.Fund(ctx, rec, fund)); err != nil {
			return reports, err
		}
	}
	if err := step(d.claim(ctx, faucet, recipient)); err != nil {
		return reports, err
	}
	return reports, nil
}

// transact submits call, waits for it and fills the transaction fields of rep.
func (d *Driver) transact(ctx context.Context, rep *Report, call chain.Call) error {
	log := d.log.With(zap.String("action", rep.Action), zap.String("to", call.To.Hex()))

	p, err := d.ledger.SubmitCall(ctx, call)
	if err != nil {
		log.Error("submit failed", zap.Error(err))
		return fmt.Errorf("%s: %w", rep.Action, err)
	}
	rep.TxHash = p.Hash
	log.Info("transaction submitted", zap.String("tx", p.Hash.Hex()))

	rcpt, err := d.ledger.WaitForConfirmation(ctx, p, d.timeout)
	if rcpt != nil {
		rep.Block, rep.GasUsed = rcpt.BlockNumber, rcpt.GasUsed
	}
	if err != nil {
		if errors.Is(err, chain.ErrUnconfirmed) {
			log.Warn("transaction unconfirmed", zap.String("tx", p.Hash.Hex()))
		} else {
			log.Error("transaction failed", zap.String("tx", p.Hash.Hex()), zap.Error(err))
		}
		return fmt.Errorf("%s (tx %s): %w", rep.Action, p.Hash.Hex(), err)
	}
	log.Info("transaction confirmed",
		zap.String("tx", p.Hash.Hex()),
		zap.Uint64("block", rcpt.BlockNumber),
		zap.Uint64("gas_used", rcpt.GasUsed),
	)
	return nil
}

// faucetBalance prefers the contract's own balance() view and falls back to
// the account balance.
func (d *Driver) faucetBalance(ctx context.Context, faucet common.Address) (*big.Int, error) {
	if _, ok := d.faucet.Methods[methodBalance]; ok {
		out, err := d.ledger.ReadView(ctx, faucet, d.faucet, methodBalance)
		if err != nil {
			return nil, err
		}
		if bal, ok := firstBig(out); ok {
			return bal, nil
		}
	}
	return d.ledger.ReadBalance(ctx, faucet)
}

// tokenBalance returns nil when the token ABI has no balanceOf.
func (d *Driver) tokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if _, ok := d.token.Methods[methodBalanceOf]; !ok {
		return nil, nil
	}
	out, err := d.ledger.ReadView(ctx, token, d.token, methodBalanceOf, owner)
	if err != nil {
		return nil, err
	}
	bal, _ := firstBig(out)
	return bal, nil
}

func firstBig(out []any) (*big.Int, bool) {
	if len(out) == 0 {
		return nil, false
	}
	bal, ok := out[0].(*big.Int)
	return bal, ok
}
