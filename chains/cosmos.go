package chains

import (
	"context"
	"fmt"
	"time"

	"github.com/cosmos/cosmos-sdk/client/grpc/cmtservice"
	txn "github.com/cosmos/cosmos-sdk/types/tx"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/kamiyo/x402/types"
)

const msgSendTypeURL = "/cosmos.bank.v1beta1.MsgSend"

// cosmosBackend narrows the two gRPC services the adapter queries.
type cosmosBackend interface {
	GetTx(ctx context.Context, in *txn.GetTxRequest, opts ...grpc.CallOption) (*txn.GetTxResponse, error)
	GetLatestBlock(ctx context.Context, in *cmtservice.GetLatestBlockRequest, opts ...grpc.CallOption) (*cmtservice.GetLatestBlockResponse, error)
}

type cosmosGRPC struct {
	tx  txn.ServiceClient
	cmt cmtservice.ServiceClient
}

func (c cosmosGRPC) GetTx(ctx context.Context, in *txn.GetTxRequest, opts ...grpc.CallOption) (*txn.GetTxResponse, error) {
	return c.tx.GetTx(ctx, in, opts...)
}

func (c cosmosGRPC) GetLatestBlock(ctx context.Context, in *cmtservice.GetLatestBlockRequest, opts ...grpc.CallOption) (*cmtservice.GetLatestBlockResponse, error) {
	return c.cmt.GetLatestBlock(ctx, in, opts...)
}

// CosmosAdapter verifies bank MsgSend transfers of the accepted denom,
// fetched through the chain's tx gRPC service.
type CosmosAdapter struct {
	chain types.Chain
	cfg   types.ChainConfig
	conn  *grpc.ClientConn
	be    cosmosBackend
	retry retryPolicy
}

var _ Adapter = (*CosmosAdapter)(nil)

// NewCosmosAdapter connects to the configured gRPC endpoint.
func NewCosmosAdapter(chain types.Chain, cfg types.ChainConfig) (*CosmosAdapter, error) {
	if !chain.IsCosmos() {
		return nil, &types.Error{
			Code:    types.ErrUnsupportedChain,
			Message: fmt.Sprintf("chain %s is not a Cosmos chain", chain),
		}
	}
	conn, err := grpc.NewClient(cfg.GRPCURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("gRPC connection failed for %s: %w", chain, err)
	}
	a := NewCosmosAdapterWithBackend(chain, cfg, cosmosGRPC{
		tx:  txn.NewServiceClient(conn),
		cmt: cmtservice.NewServiceClient(conn),
	})
	a.conn = conn
	return a, nil
}

// NewCosmosAdapterWithBackend wires an adapter to existing service clients.
func NewCosmosAdapterWithBackend(chain types.Chain, cfg types.ChainConfig, be cosmosBackend) *CosmosAdapter {
	return &CosmosAdapter{chain: chain, cfg: cfg, be: be, retry: defaultRetryPolicy()}
}

func (a *CosmosAdapter) Chain() types.Chain { return a.chain }

// SetRetry overrides the retry budget and per-attempt timeout.
func (a *CosmosAdapter) SetRetry(attempts int, attemptTimeout time.Duration) {
	a.retry.tune(attempts, attemptTimeout)
}

func (a *CosmosAdapter) Close() {
	if a.conn != nil {
		a.conn.Close()
	}
}

// Fetch retrieves the committed transaction by hash and normalizes its
// MsgSend transfers.
func (a *CosmosAdapter) Fetch(ctx context.Context, txID string) (*types.PaymentFact, error) {
	var resp *txn.GetTxResponse
	var latest int64
	err := a.retry.do(ctx, func(ctx context.Context) error {
		r, err := a.be.GetTx(ctx, &txn.GetTxRequest{Hash: txID})
		if status.Code(err) == codes.NotFound {
			return &types.Error{
				Code:    types.ErrTransactionNotFound,
				Message: fmt.Sprintf("transaction %s not found on %s", txID, a.chain),
			}
		}
		if err != nil {
			return err
		}
		blk, err := a.be.GetLatestBlock(ctx, &cmtservice.GetLatestBlockRequest{})
		if err != nil {
			return err
		}
		// Older endpoints populate only the deprecated Block field.
		switch {
		case blk.SdkBlock != nil:
			latest = blk.SdkBlock.Header.Height
		case blk.Block != nil:
			latest = blk.Block.Header.Height
		default:
			return &types.Error{
				Code:    types.ErrAdapterUnavailable,
				Message: "latest block response carries no header",
			}
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp.TxResponse == nil || resp.Tx == nil {
		return nil, &types.Error{
			Code:    types.ErrAdapterUnavailable,
			Message: "incomplete tx response from grpc endpoint",
		}
	}
	if resp.TxResponse.Code != 0 {
		return nil, &types.Error{
			Code:    types.ErrTransactionNotFound,
			Message: fmt.Sprintf("transaction %s failed on %s", txID, a.chain),
			Data:    map[string]any{"code": resp.TxResponse.Code, "codespace": resp.TxResponse.Codespace},
		}
	}

	height := uint64(resp.TxResponse.Height)
	var confirmations uint64
	if latest >= resp.TxResponse.Height {
		confirmations = uint64(latest - resp.TxResponse.Height)
	}

	var transfers []transfer
	for _, anyMsg := range resp.Tx.Body.Messages {
		if anyMsg.TypeUrl != msgSendTypeURL {
			continue
		}
		var msg banktypes.MsgSend
		if err := msg.Unmarshal(anyMsg.Value); err != nil {
			continue
		}
		for _, coin := range msg.Amount {
			amt, err := decimal.NewFromString(coin.Amount.String())
			if err != nil {
				continue
			}
			transfers = append(transfers, transfer{
				Sender:    msg.FromAddress,
				Recipient: msg.ToAddress,
				Asset:     coin.Denom,
				Amount:    amt.Shift(-int32(a.cfg.AssetDecimals)),
			})
		}
	}

	return buildFact(a.chain, txID, a.cfg, transfers, height, confirmations)
}
