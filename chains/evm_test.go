package chains

import (
	"context"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	x402types "github.com/kamiyo/x402/types"
)

const (
	evmPayAddr   = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
	evmUSDCAddr  = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	evmSender    = "0xE4d365a5a8fC0DCEE9E3C5985D7FcBab8B4A0fE1"
	evmOtherAddr = "0x384Aa214be0B279cbf211e9b2C992d8633F77848"
)

type fakeEVM struct {
	receipts map[common.Hash]*ethtypes.Receipt
	head     uint64
}

func (f *fakeEVM) TransactionReceipt(_ context.Context, h common.Hash) (*ethtypes.Receipt, error) {
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeEVM) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeEVM) Close() {}

func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32))
}

func transferLog(token, from, to string, value int64) *ethtypes.Log {
	return &ethtypes.Log{
		Address: common.HexToAddress(token),
		Topics:  []common.Hash{transferTopic, addressTopic(from), addressTopic(to)},
		Data:    common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
	}
}

func evmTestAdapter(t *testing.T, backend *fakeEVM) *EVMAdapter {
	t.Helper()
	cfg := x402types.ChainConfig{
		RPCURL:         "http://localhost:8545",
		PaymentAddress: evmPayAddr,
		Asset:          evmUSDCAddr,
		AssetSymbol:    "USDC",
		AssetDecimals:  6,
		Confirmations:  3,
	}
	return NewEVMAdapterWithBackend(x402types.ChainBase, cfg, backend)
}

func TestEVMFetchSuccess(t *testing.T) {
	txHash := common.HexToHash("0x01")
	backend := &fakeEVM{
		head: 103,
		receipts: map[common.Hash]*ethtypes.Receipt{
			txHash: {
				Status:      ethtypes.ReceiptStatusSuccessful,
				BlockNumber: big.NewInt(100),
				Logs: []*ethtypes.Log{
					transferLog(evmUSDCAddr, evmSender, evmPayAddr, 10_000), // 0.01 USDC
				},
			},
		},
	}
	adapter := evmTestAdapter(t, backend)

	fact, err := adapter.Fetch(context.Background(), txHash.Hex())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fact.Amount.String() != "0.01" {
		t.Errorf("Amount = %s, want 0.01", fact.Amount)
	}
	if fact.Confirmations != 3 || !fact.Finalized {
		t.Errorf("Confirmations = %d, Finalized = %v, want 3 and true", fact.Confirmations, fact.Finalized)
	}
	if fact.Sender != "0xe4d365a5a8fc0dcee9e3c5985d7fcbab8b4a0fe1" {
		t.Errorf("Sender = %s, want lowercased sender address", fact.Sender)
	}
	if fact.BlockHeight != 100 {
		t.Errorf("BlockHeight = %d, want 100", fact.BlockHeight)
	}
}

func TestEVMFetchNotFinalized(t *testing.T) {
	txHash := common.HexToHash("0x02")
	backend := &fakeEVM{
		head: 101,
		receipts: map[common.Hash]*ethtypes.Receipt{
			txHash: {
				Status:      ethtypes.ReceiptStatusSuccessful,
				BlockNumber: big.NewInt(100),
				Logs:        []*ethtypes.Log{transferLog(evmUSDCAddr, evmSender, evmPayAddr, 10_000)},
			},
		},
	}
	fact, err := evmTestAdapter(t, backend).Fetch(context.Background(), txHash.Hex())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fact.Finalized {
		t.Errorf("Finalized = true at %d confirmations, want false below threshold", fact.Confirmations)
	}
}

func TestEVMFetchNotFound(t *testing.T) {
	adapter := evmTestAdapter(t, &fakeEVM{head: 100})
	adapter.SetRetry(1, 0)
	_, err := adapter.Fetch(context.Background(), common.HexToHash("0x03").Hex())
	if !x402types.IsCode(err, x402types.ErrTransactionNotFound) {
		t.Errorf("error = %v, want %s", err, x402types.ErrTransactionNotFound)
	}
}

func TestEVMFetchReverted(t *testing.T) {
	txHash := common.HexToHash("0x04")
	backend := &fakeEVM{
		head: 110,
		receipts: map[common.Hash]*ethtypes.Receipt{
			txHash: {Status: ethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(100)},
		},
	}
	_, err := evmTestAdapter(t, backend).Fetch(context.Background(), txHash.Hex())
	if !x402types.IsCode(err, x402types.ErrTransactionNotFound) {
		t.Errorf("error = %v, want %s", err, x402types.ErrTransactionNotFound)
	}
}

func TestEVMFetchIgnoresOtherTokens(t *testing.T) {
	txHash := common.HexToHash("0x05")
	backend := &fakeEVM{
		head: 110,
		receipts: map[common.Hash]*ethtypes.Receipt{
			txHash: {
				Status:      ethtypes.ReceiptStatusSuccessful,
				BlockNumber: big.NewInt(100),
				Logs: []*ethtypes.Log{
					// Unrelated token first, then the payment in two legs.
					transferLog(evmOtherAddr, evmSender, evmOtherAddr, 999),
					transferLog(evmUSDCAddr, evmSender, evmPayAddr, 50_000),
					transferLog(evmUSDCAddr, evmSender, evmPayAddr, 50_000),
				},
			},
		},
	}
	fact, err := evmTestAdapter(t, backend).Fetch(context.Background(), txHash.Hex())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fact.Amount.String() != "0.1" {
		t.Errorf("Amount = %s, want 0.1", fact.Amount)
	}
}

func TestNewEVMAdapterRejectsBadConfig(t *testing.T) {
	cfg := x402types.ChainConfig{RPCURL: "http://localhost:8545", PaymentAddress: "not-an-address", Asset: evmUSDCAddr}
	if _, err := NewEVMAdapter(x402types.ChainBase, cfg); !x402types.IsCode(err, x402types.ErrConfigInvalid) {
		t.Errorf("error = %v, want %s", err, x402types.ErrConfigInvalid)
	}
	if _, err := NewEVMAdapter(x402types.ChainSolana, cfg); !x402types.IsCode(err, x402types.ErrUnsupportedChain) {
		t.Errorf("error = %v, want %s", err, x402types.ErrUnsupportedChain)
	}
}
