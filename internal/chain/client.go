package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/0gfoundation/gated-faucet/internal/config"
	"github.com/0gfoundation/gated-faucet/internal/contracts"
)

// Backend is everything the client needs from a node connection. Both
// *ethclient.Client and the simulated backend's client satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ethereum.ChainStateReader
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client submits transactions from a single signing key and reads chain state.
type Client struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	gasLimit uint64
	log      *zap.Logger
	closer   func()

	// mu serialises submissions so nonces are handed out in order; next is
	// the nonce for the next submission, nil until fetched from the node.
	mu   sync.Mutex
	next *uint64
}

// Option configures a Client.
type Option func(*Client)

// WithGasLimit pins the gas limit instead of estimating. Needed to get a
// reverting transaction included at all.
func WithGasLimit(limit uint64) Option { return func(c *Client) { c.gasLimit = limit } }

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option { return func(c *Client) { c.log = log } }

// NewClient binds a signing key to backend. A nil or zero chainID is read
// from the node.
func NewClient(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, opts ...Option) (*Client, error) {
	if chainID == nil || chainID.Sign() == 0 {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("read chain id: %w", err)
		}
		chainID = id
	}
	c := &Client{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial connects to the configured RPC endpoint with the configured key.
func Dial(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Client, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c, err := NewClient(ctx, eth, privKey, big.NewInt(cfg.Chain.ChainID),
		WithGasLimit(cfg.Chain.GasLimit), WithLogger(log))
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close
	return c, nil
}

// Close releases the underlying connection, if the client owns one.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Sender returns the signing address.
func (c *Client) Sender() common.Address { return c.from }

// ChainID returns the chain the client signs for.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// transactOpts builds a *bind.TransactOpts signed by the client key.
func (c *Client) transactOpts(ctx context.Context, nonce uint64, value *big.Int) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	auth.Nonce = new(big.Int).SetUint64(nonce)
	auth.GasLimit = c.gasLimit
	auth.Value = value
	return auth, nil
}

// submit hands send the next nonce and records the outcome. A failed send
// drops the cached nonce so the next submission re-reads it from the node.
func (c *Client) submit(ctx context.Context, value *big.Int, send func(*bind.TransactOpts) (*types.Transaction, error)) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.next == nil {
		n, err := c.backend.PendingNonceAt(ctx, c.from)
		if err != nil {
			return nil, fmt.Errorf("%w: read nonce: %v", ErrSubmission, err)
		}
		c.next = &n
	}
	nonce := *c.next

	opts, err := c.transactOpts(ctx, nonce, value)
	if err != nil {
		return nil, fmt.Errorf("%w: build tx opts: %v", ErrSubmission, err)
	}
	tx, err := send(opts)
	if err != nil {
		c.next = nil
		return nil, classifySubmitError(err)
	}
	n := nonce + 1
	c.next = &n
	return tx, nil
}

// SubmitCreate sends a contract-creation transaction for art with the given
// constructor arguments.
func (c *Client) SubmitCreate(ctx context.Context, art *contracts.Artifact, args ...any) (*PendingTx, error) {
	var addr common.Address
	tx, err := c.submit(ctx, nil, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		a, tx, _, err := bind.DeployContract(opts, art.ABI, art.Bytecode, c.backend, args...)
		addr = a
		return tx, err
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", art.Name, err)
	}
	c.log.Debug("create submitted",
		zap.String("contract", art.Name),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
		zap.String("address", addr.Hex()),
	)
	return &PendingTx{Hash: tx.Hash(), Nonce: tx.Nonce(), Address: addr, Tx: tx}, nil
}

// SubmitCall sends a state-changing call to an existing contract.
func (c *Client) SubmitCall(ctx context.Context, call Call) (*PendingTx, error) {
	bc := bind.NewBoundContract(call.To, call.ABI, c.backend, c.backend, c.backend)
	tx, err := c.submit(ctx, call.Value, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return bc.Transact(opts, call.Method, call.Args...)
	})
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", call.Method, call.To.Hex(), err)
	}
	c.log.Debug("call submitted",
		zap.String("method", call.Method),
		zap.String("to", call.To.Hex()),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
	)
	to := call.To
	return &PendingTx{Hash: tx.Hash(), Nonce: tx.Nonce(), To: &to, Tx: tx}, nil
}

// WaitForConfirmation blocks until p is mined or timeout elapses. Timing out
// (or ctx being cancelled) yields ErrUnconfirmed; the transaction itself is
// left alone and may still be mined later.
func (c *Client) WaitForConfirmation(ctx context.Context, p *PendingTx, timeout time.Duration) (*Receipt, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rcpt, err := bind.WaitMined(waitCtx, c.backend, p.Tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: tx %s not mined within %s", ErrUnconfirmed, p.Hash.Hex(), timeout)
		}
		return nil, fmt.Errorf("wait mined %s: %w", p.Hash.Hex(), err)
	}

	r := &Receipt{
		TxHash:      rcpt.TxHash,
		Address:     rcpt.ContractAddress,
		Status:      rcpt.Status,
		GasUsed:     rcpt.GasUsed,
		BlockNumber: rcpt.BlockNumber.Uint64(),
	}
	if rcpt.Status == types.ReceiptStatusFailed {
		return r, fmt.Errorf("%w: tx %s in block %d", ErrReverted, p.Hash.Hex(), r.BlockNumber)
	}
	return r, nil
}

// ReadView calls a read-only method and returns its unpacked outputs. A
// reverting call is reported as ErrReverted.
func (c *Client) ReadView(ctx context.Context, addr common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	bc := bind.NewBoundContract(addr, parsed, c.backend, c.backend, c.backend)
	var out []any
	if err := bc.Call(&bind.CallOpts{Context: ctx, From: c.from}, &out, method, args...); err != nil {
		if _, ok := revertReason(err); ok {
			return nil, fmt.Errorf("%s on %s: %w: %w", method, addr.Hex(), ErrReverted, err)
		}
		return nil, fmt.Errorf("%s on %s: %w", method, addr.Hex(), err)
	}
	return out, nil
}

// ReadBalance returns the native balance of addr at the latest block.
func (c *Client) ReadBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// EstimateCall asks the node how much gas call would use.
func (c *Client) EstimateCall(ctx context.Context, call Call) (uint64, error) {
	data, err := call.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", call.Method, err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    &call.To,
		Value: call.Value,
		Data:  data,
	})
	if err != nil {
		return 0, fmt.Errorf("estimate %s: %w", call.Method, classifySubmitError(err))
	}
	return gas, nil
}

// CodeAt returns the runtime code deployed at addr.
func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("code at %s: %w", addr.Hex(), err)
	}
	return code, nil
}

// StorageAt reads one storage slot of addr.
func (c *Client) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) ([]byte, error) {
	word, err := c.backend.StorageAt(ctx, addr, slot, nil)
	if err != nil {
		return nil, fmt.Errorf("storage %s[%s]: %w", addr.Hex(), slot.Hex(), err)
	}
	return word, nil
}

// classifySubmitError tags node rejections. Gas estimation that fails because
// the call would revert is both a submission failure and a revert.
func classifySubmitError(err error) error {
	if reason, ok := revertReason(err); ok {
		if reason != "" {
			return fmt.Errorf("%w: %w: %s: %v", ErrSubmission, ErrReverted, reason, err)
		}
		return fmt.Errorf("%w: %w: %v", ErrSubmission, ErrReverted, err)
	}
	return fmt.Errorf("%w: %v", ErrSubmission, err)
}

func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason, true
				}
			}
		}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return "", true
	}
	return "", false
}
