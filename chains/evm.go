package chains

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	x402types "github.com/kamiyo/x402/types"
)

// transferTopic is keccak256("Transfer(address,address,uint256)"), the
// first topic of every ERC-20 Transfer log.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// evmBackend is the slice of ethclient the adapter needs; narrowed so
// tests can substitute a fake chain.
type evmBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

var _ evmBackend = (*ethclient.Client)(nil)

// EVMAdapter verifies ERC-20 stablecoin transfers on an EVM chain by
// decoding Transfer logs out of the transaction receipt.
type EVMAdapter struct {
	chain  x402types.Chain
	cfg    x402types.ChainConfig
	client evmBackend
	retry  retryPolicy
}

var _ Adapter = (*EVMAdapter)(nil)

// NewEVMAdapter dials the configured RPC endpoint.
func NewEVMAdapter(chain x402types.Chain, cfg x402types.ChainConfig) (*EVMAdapter, error) {
	if !chain.IsEVM() {
		return nil, &x402types.Error{
			Code:    x402types.ErrUnsupportedChain,
			Message: fmt.Sprintf("chain %s is not an EVM chain", chain),
		}
	}
	if !common.IsHexAddress(cfg.PaymentAddress) {
		return nil, &x402types.Error{
			Code:    x402types.ErrConfigInvalid,
			Message: fmt.Sprintf("chain %s: payment address is not a hex address", chain),
		}
	}
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC for %s: %w", chain, err)
	}
	return NewEVMAdapterWithBackend(chain, cfg, client), nil
}

// NewEVMAdapterWithBackend wires an adapter to an already-constructed
// backend.
func NewEVMAdapterWithBackend(chain x402types.Chain, cfg x402types.ChainConfig, client evmBackend) *EVMAdapter {
	// EVM addresses are case-insensitive hex; normalize once.
	cfg.PaymentAddress = strings.ToLower(cfg.PaymentAddress)
	cfg.Asset = strings.ToLower(cfg.Asset)
	policy := defaultRetryPolicy()
	return &EVMAdapter{chain: chain, cfg: cfg, client: client, retry: policy}
}

func (a *EVMAdapter) Chain() x402types.Chain { return a.chain }

// SetRetry overrides the retry budget and per-attempt timeout.
func (a *EVMAdapter) SetRetry(attempts int, attemptTimeout time.Duration) {
	a.retry.tune(attempts, attemptTimeout)
}

func (a *EVMAdapter) Close() { a.client.Close() }

// Fetch retrieves the receipt for txID and normalizes its Transfer logs.
func (a *EVMAdapter) Fetch(ctx context.Context, txID string) (*x402types.PaymentFact, error) {
	hash := common.HexToHash(txID)

	var receipt *types.Receipt
	var head uint64
	err := a.retry.do(ctx, func(ctx context.Context) error {
		r, err := a.client.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return &x402types.Error{
				Code:    x402types.ErrTransactionNotFound,
				Message: fmt.Sprintf("transaction %s not found on %s", txID, a.chain),
			}
		}
		if err != nil {
			return err
		}
		n, err := a.client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		receipt, head = r, n
		return nil
	})
	if err != nil {
		return nil, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &x402types.Error{
			Code:    x402types.ErrTransactionNotFound,
			Message: fmt.Sprintf("transaction %s reverted on %s", txID, a.chain),
			Data:    map[string]any{"blockHeight": receipt.BlockNumber.Uint64()},
		}
	}

	height := receipt.BlockNumber.Uint64()
	var confirmations uint64
	if head >= height {
		confirmations = head - height
	}

	transfers := a.decodeTransfers(receipt.Logs)
	return buildFact(a.chain, txID, a.cfg, transfers, height, confirmations)
}

// decodeTransfers extracts every ERC-20 Transfer event from the receipt
// logs, regardless of token contract; buildFact sorts out which ones
// matter.
func (a *EVMAdapter) decodeTransfers(logs []*types.Log) []transfer {
	var out []transfer
	for _, l := range logs {
		if len(l.Topics) != 3 || l.Topics[0] != transferTopic {
			continue
		}
		value := new(big.Int).SetBytes(l.Data)
		out = append(out, transfer{
			Sender:    strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
			Recipient: strings.ToLower(common.BytesToAddress(l.Topics[2].Bytes()).Hex()),
			Asset:     strings.ToLower(l.Address.Hex()),
			Amount:    decimal.NewFromBigInt(value, -int32(a.cfg.AssetDecimals)),
		})
	}
	return out
}
