package deployer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/gated-faucet/internal/chain"
	"github.com/0gfoundation/gated-faucet/internal/contracts"
)

// runner holds what every orchestrator needs to push a transaction through
// submit and confirm.
type runner struct {
	ledger  chain.Ledger
	timeout time.Duration
	log     *zap.Logger
}

// create submits a contract creation and waits for it. The returned address
// is the one reported by the receipt.
func (r runner) create(ctx context.Context, art *contracts.Artifact, args ...any) (*StepResult, error) {
	p, err := r.ledger.SubmitCreate(ctx, art, args...)
	if err != nil {
		return nil, err
	}
	r.log.Info("transaction submitted",
		zap.String("contract", art.Name),
		zap.String("tx", p.Hash.Hex()),
		zap.String("address", p.Address.Hex()),
	)

	rcpt, err := r.ledger.WaitForConfirmation(ctx, p, r.timeout)
	if err != nil {
		return nil, fmt.Errorf("%s at %s (tx %s): %w", art.Name, p.Address.Hex(), p.Hash.Hex(), err)
	}
	addr := rcpt.Address
	if addr == (common.Address{}) {
		addr = p.Address
	}
	r.log.Info("transaction confirmed",
		zap.String("contract", art.Name),
		zap.String("tx", p.Hash.Hex()),
		zap.String("address", addr.Hex()),
		zap.Uint64("block", rcpt.BlockNumber),
	)
	return &StepResult{Address: addr, TxHashes: []common.Hash{p.Hash}, Block: rcpt.BlockNumber}, nil
}

// call submits a state-changing call and waits for it.
func (r runner) call(ctx context.Context, c chain.Call) (*chain.PendingTx, *chain.Receipt, error) {
	p, err := r.ledger.SubmitCall(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	r.log.Info("transaction submitted",
		zap.String("method", c.Method),
		zap.String("to", c.To.Hex()),
		zap.String("tx", p.Hash.Hex()),
	)
	rcpt, err := r.ledger.WaitForConfirmation(ctx, p, r.timeout)
	if err != nil {
		return p, rcpt, fmt.Errorf("%s on %s (tx %s): %w", c.Method, c.To.Hex(), p.Hash.Hex(), err)
	}
	r.log.Info("transaction confirmed",
		zap.String("method", c.Method),
		zap.String("tx", p.Hash.Hex()),
		zap.Uint64("block", rcpt.BlockNumber),
	)
	return p, rcpt, nil
}

func (r runner) implementationOf(ctx context.Context, proxy common.Address) (common.Address, error) {
	word, err := r.ledger.StorageAt(ctx, proxy, contracts.ImplementationSlot)
	if err != nil {
		return common.Address{}, err
	}
	return contracts.AddressFromSlot(word), nil
}

func (r runner) verifyImplementation(ctx context.Context, proxy, want common.Address) error {
	got, err := r.implementationOf(ctx, proxy)
	if err != nil {
		return fmt.Errorf("read implementation of %s: %w", proxy.Hex(), err)
	}
	if got != want {
		return fmt.Errorf("%w: proxy %s points at %s, want %s",
			ErrImplementationMismatch, proxy.Hex(), got.Hex(), want.Hex())
	}
	return nil
}
