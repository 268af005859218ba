// Package chain is the remote ledger client: it submits signed transactions,
// waits for them to be mined, and reads contract and account state.
//
// Submission and confirmation are deliberately separate calls. A PendingTx
// stays valid after a timed-out wait and can be waited on again.
package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0gfoundation/gated-faucet/internal/contracts"
)

var (
	// ErrSubmission means the node rejected the transaction before inclusion.
	ErrSubmission = errors.New("submission failed")
	// ErrUnconfirmed means the transaction was sent but not seen mined within
	// the wait bound. It may still be mined.
	ErrUnconfirmed = errors.New("transaction unconfirmed")
	// ErrReverted means contract execution rejected the transaction.
	ErrReverted = errors.New("execution reverted")
)

// Ledger is the contract the orchestrators and drivers consume.
type Ledger interface {
	Sender() common.Address
	ChainID() *big.Int

	SubmitCreate(ctx context.Context, art *contracts.Artifact, args ...any) (*PendingTx, error)
	SubmitCall(ctx context.Context, call Call) (*PendingTx, error)
	WaitForConfirmation(ctx context.Context, p *PendingTx, timeout time.Duration) (*Receipt, error)

	ReadView(ctx context.Context, addr common.Address, parsed abi.ABI, method string, args ...any) ([]any, error)
	ReadBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	EstimateCall(ctx context.Context, call Call) (uint64, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	StorageAt(ctx context.Context, addr common.Address, slot common.Hash) ([]byte, error)
}

var _ Ledger = (*Client)(nil)

// Call describes a state-changing method invocation.
type Call struct {
	To     common.Address
	ABI    abi.ABI
	Method string
	Args   []any
	Value  *big.Int // wei attached to the call; nil for none
}

// PendingTx is a submitted, not yet confirmed, transaction.
type PendingTx struct {
	Hash  common.Hash
	Nonce uint64
	// To is nil for contract creations.
	To *common.Address
	// Address is the contract address a creation will occupy once mined.
	Address common.Address
	Tx      *types.Transaction
}

// IsCreate reports whether p creates a contract.
func (p *PendingTx) IsCreate() bool { return p.To == nil }

// Receipt is the confirmed outcome of a transaction.
type Receipt struct {
	TxHash      common.Hash
	Address     common.Address // created contract, zero for calls
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
}

// Succeeded reports whether execution succeeded.
func (r *Receipt) Succeeded() bool { return r.Status == types.ReceiptStatusSuccessful }
