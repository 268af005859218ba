package deployer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/gated-faucet/internal/chain"
	"github.com/0gfoundation/gated-faucet/internal/contracts"
	"github.com/0gfoundation/gated-faucet/internal/store"
)

// UpgradePlan describes a faucet implementation swap.
type UpgradePlan struct {
	Implementation *contracts.Artifact
	// Call, when set, is a method of the new implementation invoked through
	// the proxy in the same transaction (a reinitializer). The original
	// initializer is never re-run by default.
	Call     string
	CallArgs []any
	// Probe, when set, is a view method read through the proxy afterwards,
	// such as "version".
	Probe string
	// SkipCompatibilityCheck skips the proxiableUUID probe of the new
	// implementation.
	SkipCompatibilityCheck bool
}

// UpgradeResult reports what the upgrade did. On failure after the
// implementation was deployed it is returned alongside the error.
type UpgradeResult struct {
	Proxy            common.Address
	Previous         common.Address
	Implementation   common.Address
	ImplementationTx common.Hash
	UpgradeTx        common.Hash
	Block            uint64
	Probe            []any
}

// Upgrader swaps the implementation behind the recorded faucet proxy. The
// record itself is not modified: the proxy address is the stable identity.
type Upgrader struct {
	runner
}

func NewUpgrader(ledger chain.Ledger, timeout time.Duration, log *zap.Logger) *Upgrader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Upgrader{runner: runner{ledger: ledger, timeout: timeout, log: log}}
}

// CheckUpgradable reports whether rec holds a faucet proxy that Upgrade can
// act on. It makes no remote calls.
func CheckUpgradable(rec *store.Record) error {
	if _, err := upgradeTarget(rec); err != nil {
		return &StepError{Step: StepUpgradeFaucet, Role: store.RoleFaucetProxy, DependsOn: []store.Role{store.RoleFaucetProxy}, Err: err}
	}
	return nil
}

func upgradeTarget(rec *store.Record) (common.Address, error) {
	proxy, err := rec.Get(store.RoleFaucetProxy)
	if err != nil {
		if rec.Has(store.RoleFaucet) {
			err = fmt.Errorf("%w (faucet was deployed in plain mode and cannot be upgraded)", err)
		}
		return common.Address{}, fmt.Errorf("%w: %w", ErrDependencyMissing, err)
	}
	return proxy, nil
}

// Upgrade deploys plan.Implementation and points the faucet proxy at it.
// Everything that can be checked locally is checked before the first remote
// call.
func (u *Upgrader) Upgrade(ctx context.Context, rec *store.Record, plan UpgradePlan) (*UpgradeResult, error) {
	deps := []store.Role{store.RoleFaucetProxy}
	fail := func(err error) error {
		return &StepError{Step: StepUpgradeFaucet, Role: store.RoleFaucetProxy, DependsOn: deps, Err: err}
	}

	proxy, err := upgradeTarget(rec)
	if err != nil {
		return nil, fail(err)
	}
	if err := rec.CheckChain(u.ledger.ChainID().Uint64()); err != nil {
		return nil, fail(err)
	}
	if plan.Implementation == nil {
		return nil, fail(errors.New("no implementation artifact"))
	}
	impl := plan.Implementation

	data := []byte{}
	if plan.Call != "" {
		if data, err = impl.ABI.Pack(plan.Call, plan.CallArgs...); err != nil {
			return nil, fail(fmt.Errorf("%w: pack %s.%s: %w", ErrIncompatibleImplementation, impl.Name, plan.Call, err))
		}
	}
	if plan.Probe != "" && !impl.HasMethod(plan.Probe) {
		return nil, fail(fmt.Errorf("%w: %s has no method %s", ErrIncompatibleImplementation, impl.Name, plan.Probe))
	}

	log := u.log.With(zap.String("step", StepUpgradeFaucet), zap.String("proxy", proxy.Hex()))
	res := &UpgradeResult{Proxy: proxy}

	// ── current implementation ────────────────────────────────────────────
	if res.Previous, err = u.implementationOf(ctx, proxy); err != nil {
		return nil, fail(fmt.Errorf("read current implementation: %w", err))
	}
	log.Info("upgrade started",
		zap.String("previous", res.Previous.Hex()),
		zap.String("contract", impl.Name),
	)

	// ── new implementation ────────────────────────────────────────────────
	created, err := u.create(ctx, impl)
	if err != nil {
		return nil, fail(fmt.Errorf("implementation: %w", err))
	}
	res.Implementation = created.Address
	res.ImplementationTx = created.TxHashes[0]

	if !plan.SkipCompatibilityCheck {
		if err := u.checkUUPS(ctx, created.Address); err != nil {
			return res, fail(err)
		}
	}

	// ── point the proxy at it ─────────────────────────────────────────────
	p, rcpt, err := u.call(ctx, chain.Call{
		To:     proxy,
		ABI:    contracts.UUPSABI,
		Method: "upgradeToAndCall",
		Args:   []any{created.Address, data},
	})
	if p != nil {
		res.UpgradeTx = p.Hash
	}
	if err != nil {
		log.Error("upgrade failed", zap.Error(err))
		return res, fail(err)
	}
	res.Block = rcpt.BlockNumber

	if err := u.verifyImplementation(ctx, proxy, created.Address); err != nil {
		return res, fail(err)
	}
	if cur, _ := rec.Get(store.RoleFaucetProxy); cur != proxy {
		return res, fail(fmt.Errorf("proxy address changed from %s to %s", proxy.Hex(), cur.Hex()))
	}

	// ── optional probe ────────────────────────────────────────────────────
	if plan.Probe != "" {
		out, err := u.ledger.ReadView(ctx, proxy, impl.ABI, plan.Probe)
		if err != nil {
			return res, fail(fmt.Errorf("probe %s: %w", plan.Probe, err))
		}
		res.Probe = out
	}

	log.Info("upgrade complete",
		zap.String("implementation", created.Address.Hex()),
		zap.String("tx", res.UpgradeTx.Hex()),
		zap.Uint64("block", res.Block),
	)
	return res, nil
}

// checkUUPS asks the implementation for its proxiableUUID, which a UUPS
// implementation answers with the EIP-1967 implementation slot.
func (u *Upgrader) checkUUPS(ctx context.Context, impl common.Address) error {
	out, err := u.ledger.ReadView(ctx, impl, contracts.UUPSABI, "proxiableUUID")
	if err != nil {
		return fmt.Errorf("%w: proxiableUUID on %s: %w", ErrIncompatibleImplementation, impl.Hex(), err)
	}
	if len(out) != 1 {
		return fmt.Errorf("%w: proxiableUUID returned %d values", ErrIncompatibleImplementation, len(out))
	}
	uuid, ok := out[0].([32]byte)
	if !ok || common.Hash(uuid) != contracts.ImplementationSlot {
		return fmt.Errorf("%w: proxiableUUID of %s is %x", ErrIncompatibleImplementation, impl.Hex(), out[0])
	}
	return nil
}
