// Package deployer runs the multi-step contract deployment and the proxy
// upgrade. Each step records exactly one role, and only after its
// transactions are confirmed.
//
// Deploy flow:
//  1. deploy-access-token  EarlyAccessNFT(name, symbol)            → accessToken
//  2. deploy-faucet        plain: Faucet(token, amount, cooldown)  → faucet
//     (or Faucet() followed by initialize(...) for initializer-only artifacts)
//     upgradeable-proxy:   Faucet impl, then
//     ERC1967Proxy(impl, initialize(token, amount, cooldown))      → faucetProxy
package deployer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/gated-faucet/internal/chain"
	"github.com/0gfoundation/gated-faucet/internal/config"
	"github.com/0gfoundation/gated-faucet/internal/contracts"
	"github.com/0gfoundation/gated-faucet/internal/store"
)

const (
	StepDeployAccessToken = "deploy-access-token"
	StepDeployFaucet      = "deploy-faucet"
	StepUpgradeFaucet     = "upgrade-faucet"

	// initializer sets up a faucet whose constructor does not. Upgrades never
	// call it again.
	initializer = "initialize"
)

// Saver persists the full record. *store.FileStore satisfies it.
type Saver interface {
	Save(ctx context.Context, rec *store.Record) error
}

// Artifacts are the compiled contracts a deployment needs. Proxy is only
// required in upgradeable-proxy mode.
type Artifacts struct {
	AccessToken *contracts.Artifact
	Faucet      *contracts.Artifact
	Proxy       *contracts.Artifact
}

type TokenParams struct {
	Name   string
	Symbol string
}

type FaucetParams struct {
	ClaimAmount     *big.Int // wei per claim
	CooldownSeconds uint64
	Mode            Mode
}

// Plan is one deployment run. With Resume set, the access token step is
// skipped when the record already points at live code and the faucet step
// builds on it.
type Plan struct {
	Token  TokenParams
	Faucet FaucetParams
	Resume bool
}

func (p Plan) validate(arts Artifacts) error {
	if p.Token.Name == "" || p.Token.Symbol == "" {
		return fmt.Errorf("%w: TOKEN_NAME and TOKEN_SYMBOL", config.ErrPreconditionMissing)
	}
	if p.Faucet.ClaimAmount == nil || p.Faucet.ClaimAmount.Sign() < 0 {
		return fmt.Errorf("invalid claim amount %v", p.Faucet.ClaimAmount)
	}
	switch p.Faucet.Mode {
	case ModePlain, ModeUpgradeableProxy:
	default:
		return fmt.Errorf("invalid deploy mode %s", p.Faucet.Mode)
	}
	if arts.AccessToken == nil {
		return fmt.Errorf("%w: %s artifact", config.ErrPreconditionMissing, contracts.AccessTokenName)
	}
	if arts.Faucet == nil {
		return fmt.Errorf("%w: %s artifact", config.ErrPreconditionMissing, contracts.FaucetName)
	}
	if p.Faucet.Mode == ModeUpgradeableProxy && arts.Proxy == nil {
		return fmt.Errorf("%w: %s artifact", config.ErrPreconditionMissing, contracts.ProxyName)
	}
	return nil
}

// StepResult describes what one step produced.
type StepResult struct {
	Step    string
	Role    store.Role
	Address common.Address
	// Implementation is set for proxy deployments.
	Implementation common.Address
	TxHashes       []common.Hash
	Block          uint64
	Skipped        bool
}

// Result lists completed steps in order.
type Result struct {
	Steps []StepResult
}

type step struct {
	name      string
	role      store.Role
	dependsOn []store.Role
	// invalidates are roles that no longer hold once this step writes a new
	// address, because they were built on the old one.
	invalidates []store.Role
	run         func(ctx context.Context, deps map[store.Role]common.Address) (*StepResult, error)
}

// Orchestrator deploys the access token and faucet.
type Orchestrator struct {
	runner
	saver Saver
	arts  Artifacts
}

func NewOrchestrator(ledger chain.Ledger, saver Saver, arts Artifacts, timeout time.Duration, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		runner: runner{ledger: ledger, timeout: timeout, log: log},
		saver:  saver,
		arts:   arts,
	}
}

// Deploy runs the deployment steps against rec. rec is updated in place each
// time a step's result has been saved, so after a failure it reflects exactly
// what was persisted. Without Resume the run starts from an empty record.
func (o *Orchestrator) Deploy(ctx context.Context, rec *store.Record, plan Plan) (*Result, error) {
	if err := plan.validate(o.arts); err != nil {
		return nil, err
	}
	chainID := o.ledger.ChainID().Uint64()

	work := store.NewRecord(chainID)
	if plan.Resume {
		if err := rec.CheckChain(chainID); err != nil {
			return nil, err
		}
		work = rec.Clone()
		work.ChainID = chainID
	}

	o.log.Info("deploy started",
		zap.String("sender", o.ledger.Sender().Hex()),
		zap.Uint64("chain_id", chainID),
		zap.Stringer("mode", plan.Faucet.Mode),
		zap.Bool("resume", plan.Resume),
	)

	res := &Result{}
	for _, s := range []step{
		o.accessTokenStep(plan, work),
		o.faucetStep(plan.Faucet),
	} {
		sr, err := o.runStep(ctx, rec, work, s)
		if err != nil {
			return res, err
		}
		res.Steps = append(res.Steps, *sr)
	}
	return res, nil
}

// runStep resolves dependencies from work, runs s, and persists its role.
// rec and work are replaced by the saved record only once Save succeeds.
func (o *Orchestrator) runStep(ctx context.Context, rec, work *store.Record, s step) (*StepResult, error) {
	fail := func(err error) error {
		return &StepError{Step: s.name, Role: s.role, DependsOn: s.dependsOn, Err: err}
	}

	deps := make(map[store.Role]common.Address, len(s.dependsOn))
	for _, role := range s.dependsOn {
		addr, err := work.Get(role)
		if err != nil {
			return nil, fail(fmt.Errorf("%w: %w", ErrDependencyMissing, err))
		}
		deps[role] = addr
	}

	log := o.log.With(zap.String("step", s.name), zap.String("role", string(s.role)))
	log.Info("step started")

	sr, err := s.run(ctx, deps)
	if err != nil {
		log.Error("step failed", zap.Error(err))
		return nil, fail(err)
	}
	sr.Step, sr.Role = s.name, s.role
	if sr.Skipped {
		log.Info("step skipped", zap.String("address", sr.Address.Hex()))
		return sr, nil
	}

	next := work.Clone()
	next.Set(s.role, sr.Address)
	for _, r := range s.invalidates {
		next.Delete(r)
	}
	if err := o.saver.Save(ctx, next); err != nil {
		// The contract exists on chain but is not recorded.
		log.Error("persist failed", zap.String("address", sr.Address.Hex()), zap.Error(err))
		return nil, fail(fmt.Errorf("persist %s at %s: %w", s.role, sr.Address.Hex(), err))
	}
	*work = *next
	*rec = *next.Clone()

	log.Info("step complete",
		zap.String("address", sr.Address.Hex()),
		zap.Uint64("block", sr.Block),
	)
	return sr, nil
}

func (o *Orchestrator) accessTokenStep(plan Plan, work *store.Record) step {
	return step{
		name:        StepDeployAccessToken,
		role:        store.RoleAccessToken,
		invalidates: []store.Role{store.RoleFaucet, store.RoleFaucetProxy},
		run: func(ctx context.Context, _ map[store.Role]common.Address) (*StepResult, error) {
			if plan.Resume && work.Has(store.RoleAccessToken) {
				addr, _ := work.Get(store.RoleAccessToken)
				code, err := o.ledger.CodeAt(ctx, addr)
				if err != nil {
					return nil, err
				}
				if len(code) > 0 {
					return &StepResult{Address: addr, Skipped: true}, nil
				}
				o.log.Warn("recorded access token has no code, redeploying",
					zap.String("address", addr.Hex()))
			}
			return o.create(ctx, o.arts.AccessToken, plan.Token.Name, plan.Token.Symbol)
		},
	}
}

// faucetStep deploys the faucet in either mode. Both modes pass the same
// arguments; they differ only in whether those go to the constructor or to
// the initializer run through the proxy.
func (o *Orchestrator) faucetStep(p FaucetParams) step {
	return step{
		name:      StepDeployFaucet,
		role:      p.Mode.Role(),
		dependsOn: []store.Role{store.RoleAccessToken},
		run: func(ctx context.Context, deps map[store.Role]common.Address) (*StepResult, error) {
			args := []any{
				deps[store.RoleAccessToken],
				p.ClaimAmount,
				new(big.Int).SetUint64(p.CooldownSeconds),
			}
			if p.Mode == ModeUpgradeableProxy {
				return o.createBehindProxy(ctx, o.arts.Faucet, args)
			}
			return o.createPlain(ctx, o.arts.Faucet, args)
		},
	}
}

// createPlain deploys art directly. An artifact whose constructor does not
// take the faucet parameters is initialized with a follow-up call instead.
func (o *Orchestrator) createPlain(ctx context.Context, art *contracts.Artifact, args []any) (*StepResult, error) {
	if len(art.ABI.Constructor.Inputs) == len(args) {
		return o.create(ctx, art, args...)
	}
	if _, err := art.ABI.Pack(initializer, args...); err != nil {
		return nil, fmt.Errorf("%s takes neither constructor arguments nor %s: %w", art.Name, initializer, err)
	}

	sr, err := o.create(ctx, art)
	if err != nil {
		return nil, err
	}
	_, rcpt, err := o.call(ctx, chain.Call{To: sr.Address, ABI: art.ABI, Method: initializer, Args: args})
	if err != nil {
		return nil, fmt.Errorf("%s deployed at %s but not initialized: %w", art.Name, sr.Address.Hex(), err)
	}
	sr.TxHashes = append(sr.TxHashes, rcpt.TxHash)
	sr.Block = rcpt.BlockNumber
	return sr, nil
}

// createBehindProxy deploys art as an implementation and an ERC1967 proxy in
// front of it that runs the initializer with args in its constructor.
func (o *Orchestrator) createBehindProxy(ctx context.Context, art *contracts.Artifact, args []any) (*StepResult, error) {
	initData, err := art.ABI.Pack(initializer, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", art.Name, initializer, err)
	}

	impl, err := o.create(ctx, art)
	if err != nil {
		return nil, fmt.Errorf("implementation: %w", err)
	}

	proxyArt := &contracts.Artifact{
		Name:     contracts.ProxyName,
		ABI:      contracts.ProxyConstructorABI,
		Bytecode: o.arts.Proxy.Bytecode,
	}
	proxy, err := o.create(ctx, proxyArt, impl.Address, initData)
	if err != nil {
		return nil, fmt.Errorf("proxy for implementation %s: %w", impl.Address.Hex(), err)
	}

	if err := o.verifyImplementation(ctx, proxy.Address, impl.Address); err != nil {
		return nil, err
	}
	return &StepResult{
		Address:        proxy.Address,
		Implementation: impl.Address,
		TxHashes:       append(impl.TxHashes, proxy.TxHashes...),
		Block:          proxy.Block,
	}, nil
}
