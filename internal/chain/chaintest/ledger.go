// Package chaintest provides an in-memory chain.Ledger for tests that need
// to script submission failures, reverts and unconfirmed transactions.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/gated-faucet/internal/chain"
	"github.com/0gfoundation/gated-faucet/internal/contracts"
)

// Label names a submission: "create:<Artifact>" or "call:<method>".
func CreateLabel(name string) string { return "create:" + name }
func CallLabel(method string) string { return "call:" + method }

// Ledger records every remote interaction. Sender and ChainID are local and
// not recorded.
//
// Confirmed creations get non-empty code; an ERC1967Proxy creation and a
// confirmed upgradeToAndCall both write the implementation slot; value calls
// move balance into the target.
type Ledger struct {
	From  common.Address
	Chain *big.Int

	// SubmitErr rejects a submission when it returns non-nil.
	SubmitErr func(label string) error
	// Outcome decides how a submission confirms: nil mines it successfully,
	// chain.ErrReverted mines it as failed, chain.ErrUnconfirmed never mines it.
	Outcome func(label string) error
	// OnConfirm runs after a successful confirmation, for tests that model
	// contract state. call is nil for creations.
	OnConfirm func(label string, p *chain.PendingTx, call *chain.Call)
	// View answers ReadView.
	View func(addr common.Address, method string, args []any) ([]any, error)

	mu       sync.Mutex
	calls    []string
	nonce    uint64
	block    uint64
	pending  map[common.Hash]*entry
	code     map[common.Address][]byte
	storage  map[common.Address]map[common.Hash][]byte
	balances map[common.Address]*big.Int
}

type entry struct {
	label string
	p     *chain.PendingTx
	art   *contracts.Artifact
	args  []any
	call  *chain.Call
	done  *chain.Receipt
	err   error
}

var _ chain.Ledger = (*Ledger)(nil)

// New returns a ledger for sender on chain 31337.
func New() *Ledger {
	return &Ledger{
		From:     common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		Chain:    big.NewInt(31337),
		pending:  make(map[common.Hash]*entry),
		code:     make(map[common.Address][]byte),
		storage:  make(map[common.Address]map[common.Hash][]byte),
		balances: make(map[common.Address]*big.Int),
	}
}

// Calls returns the remote interactions performed so far.
func (l *Ledger) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// SetCode installs code at addr, as if deployed earlier.
func (l *Ledger) SetCode(addr common.Address, code []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.code[addr] = code
}

// SetImplementation writes the EIP-1967 implementation slot of proxy.
func (l *Ledger) SetImplementation(proxy, impl common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setSlot(proxy, contracts.ImplementationSlot, common.LeftPadBytes(impl.Bytes(), 32))
}

// SetBalance sets the native balance of addr.
func (l *Ledger) SetBalance(addr common.Address, wei *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] = new(big.Int).Set(wei)
}

func (l *Ledger) Sender() common.Address { return l.From }
func (l *Ledger) ChainID() *big.Int      { return new(big.Int).Set(l.Chain) }

func (l *Ledger) record(s string) {
	l.calls = append(l.calls, s)
}

func (l *Ledger) SubmitCreate(_ context.Context, art *contracts.Artifact, args ...any) (*chain.PendingTx, error) {
	label := CreateLabel(art.Name)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(label)
	if l.SubmitErr != nil {
		if err := l.SubmitErr(label); err != nil {
			return nil, fmt.Errorf("%w: %w", chain.ErrSubmission, err)
		}
	}
	p := l.newPending(label, nil)
	p.Address = crypto.CreateAddress(l.From, p.Nonce)
	l.pending[p.Hash] = &entry{label: label, p: p, art: art, args: args}
	return p, nil
}

func (l *Ledger) SubmitCall(_ context.Context, call chain.Call) (*chain.PendingTx, error) {
	label := CallLabel(call.Method)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(label)
	if _, ok := call.ABI.Methods[call.Method]; !ok {
		return nil, fmt.Errorf("%w: method %s not in ABI", chain.ErrSubmission, call.Method)
	}
	if l.SubmitErr != nil {
		if err := l.SubmitErr(label); err != nil {
			return nil, fmt.Errorf("%w: %w", chain.ErrSubmission, err)
		}
	}
	to := call.To
	p := l.newPending(label, &to)
	c := call
	l.pending[p.Hash] = &entry{label: label, p: p, call: &c}
	return p, nil
}

func (l *Ledger) newPending(label string, to *common.Address) *chain.PendingTx {
	nonce := l.nonce
	l.nonce++
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s/%s/%d", l.From.Hex(), label, nonce)))
	return &chain.PendingTx{Hash: hash, Nonce: nonce, To: to}
}

func (l *Ledger) WaitForConfirmation(_ context.Context, p *chain.PendingTx, timeout time.Duration) (*chain.Receipt, error) {
	l.mu.Lock()
	e, ok := l.pending[p.Hash]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("unknown tx %s", p.Hash.Hex())
	}
	l.record("wait:" + e.label)
	if e.done != nil {
		l.mu.Unlock()
		return e.done, e.err
	}

	var outcome error
	if l.Outcome != nil {
		outcome = l.Outcome(e.label)
	}
	if outcome == chain.ErrUnconfirmed {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: tx %s not mined within %s", chain.ErrUnconfirmed, p.Hash.Hex(), timeout)
	}

	l.block++
	r := &chain.Receipt{TxHash: p.Hash, BlockNumber: l.block, GasUsed: 21_000}
	if outcome != nil {
		r.Status = types.ReceiptStatusFailed
		e.done, e.err = r, fmt.Errorf("%w: tx %s in block %d", chain.ErrReverted, p.Hash.Hex(), r.BlockNumber)
		l.mu.Unlock()
		return e.done, e.err
	}

	r.Status = types.ReceiptStatusSuccessful
	if p.IsCreate() {
		r.Address = p.Address
	}
	l.apply(e)
	e.done = r
	onConfirm := l.OnConfirm
	l.mu.Unlock()

	if onConfirm != nil {
		onConfirm(e.label, p, e.call)
	}
	return r, nil
}

// apply mutates chain state for a successful transaction. l.mu is held.
func (l *Ledger) apply(e *entry) {
	if e.art != nil {
		code := e.art.Bytecode
		if len(code) == 0 {
			code = []byte{0x00}
		}
		l.code[e.p.Address] = code
		if e.art.Name == contracts.ProxyName && len(e.args) > 0 {
			if impl, ok := e.args[0].(common.Address); ok {
				l.setSlot(e.p.Address, contracts.ImplementationSlot, common.LeftPadBytes(impl.Bytes(), 32))
			}
		}
		return
	}
	call := e.call
	if call.Value != nil && call.Value.Sign() > 0 {
		bal := l.balances[call.To]
		if bal == nil {
			bal = new(big.Int)
		}
		l.balances[call.To] = new(big.Int).Add(bal, call.Value)
	}
	if call.Method == "upgradeToAndCall" && len(call.Args) > 0 {
		if impl, ok := call.Args[0].(common.Address); ok {
			l.setSlot(call.To, contracts.ImplementationSlot, common.LeftPadBytes(impl.Bytes(), 32))
		}
	}
}

func (l *Ledger) setSlot(addr common.Address, slot common.Hash, word []byte) {
	if l.storage[addr] == nil {
		l.storage[addr] = make(map[common.Hash][]byte)
	}
	l.storage[addr][slot] = word
}

func (l *Ledger) ReadView(_ context.Context, addr common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	l.mu.Lock()
	l.record("view:" + method)
	view := l.View
	l.mu.Unlock()
	if _, ok := parsed.Methods[method]; !ok {
		return nil, fmt.Errorf("method %s not in ABI", method)
	}
	if view == nil {
		return nil, fmt.Errorf("no view handler for %s", method)
	}
	return view(addr, method, args)
}

func (l *Ledger) ReadBalance(_ context.Context, addr common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("balance")
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (l *Ledger) EstimateCall(_ context.Context, call chain.Call) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("estimate:" + call.Method)
	if l.SubmitErr != nil {
		if err := l.SubmitErr(CallLabel(call.Method)); err != nil {
			return 0, fmt.Errorf("%w: %w", chain.ErrSubmission, err)
		}
	}
	return 50_000, nil
}

func (l *Ledger) CodeAt(_ context.Context, addr common.Address) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("code")
	return l.code[addr], nil
}

func (l *Ledger) StorageAt(_ context.Context, addr common.Address, slot common.Hash) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("storage")
	if word, ok := l.storage[addr][slot]; ok {
		return word, nil
	}
	return make([]byte, 32), nil
}
