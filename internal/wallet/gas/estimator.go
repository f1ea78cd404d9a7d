// Package gas computes gas limits, prices and the resulting cost breakdown
// for a pending request.
package gas

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github/clearid/wallet-engine/internal/util"
	"github/clearid/wallet-engine/internal/wallet"
)

const (
	// DefaultGasLimit is used when network estimation fails. Estimation
	// failure is non-fatal; a price failure is.
	DefaultGasLimit = 3000000
	// ValueTransferGasLimit covers a plain value transfer.
	ValueTransferGasLimit = 21000

	weiDecimals = 18
)

// RPC is the slice of the network collaborator the estimator needs.
type RPC interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
}

// SpotSource provides the fiat spot price, or an error when unavailable.
type SpotSource interface {
	SpotPrice(ctx context.Context) (float64, error)
}

// CostBreakdown is the computed cost of a request. Fiat fields are nil when
// the spot source is unavailable: unknown is not zero.
type CostBreakdown struct {
	Gas         uint64
	GasPrice    *big.Int
	GasCostWei  *big.Int
	GasCostEth  float64
	TxCostWei   *big.Int // value + gas cost
	SpotPrice   *float64
	GasCostFiat *float64
	ValueFiat   *float64
}

type Estimator struct {
	rpc  RPC
	spot SpotSource
}

func NewEstimator(rpc RPC, spot SpotSource) *Estimator {
	return &Estimator{rpc: rpc, spot: spot}
}

// Estimate resolves the gas fields for req and computes its cost breakdown.
// An explicit gas limit on the request is used verbatim, skipping the network
// call entirely.
func (e *Estimator) Estimate(ctx context.Context, req *wallet.TransactionRequest, fromHex string) (*CostBreakdown, error) {
	log := util.LogFromContext(ctx)

	gasLimit := req.Gas
	if gasLimit == 0 {
		estimated, err := e.estimateLimit(ctx, req, fromHex)
		if err != nil {
			log.Warn().Err(err).Str("request_id", req.ID).Msg("Gas estimation failed, using default limit")
			estimated = DefaultGasLimit
		}
		gasLimit = estimated
	}

	gasPrice := req.GasPrice
	if gasPrice == nil {
		price, err := e.rpc.GasPrice(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to fetch gas price")
		}
		gasPrice = price
	}

	var spotPrice *float64
	if e.spot != nil {
		if price, err := e.spot.SpotPrice(ctx); err == nil {
			spotPrice = &price
		} else {
			log.Debug().Err(err).Msg("Spot price unavailable, omitting fiat fields")
		}
	}

	return Calculate(gasLimit, gasPrice, req.Value, req.ValueEth, spotPrice), nil
}

func (e *Estimator) estimateLimit(ctx context.Context, req *wallet.TransactionRequest, fromHex string) (uint64, error) {
	// a plain value transfer has a fixed cost, no need to ask the network
	if len(req.Data) == 0 && req.To != "" {
		return ValueTransferGasLimit, nil
	}
	msg := ethereum.CallMsg{
		From: common.HexToAddress(fromHex),
		Data: req.Data,
	}
	if req.To != "" {
		to := common.HexToAddress(req.To)
		msg.To = &to
	}
	return e.rpc.EstimateGas(ctx, msg)
}

// Calculate derives the cost breakdown from resolved inputs. All on-chain
// quantities stay arbitrary precision; only the fiat edge uses floats.
func Calculate(gasLimit uint64, gasPrice, value *big.Int, valueEth float64, spotPrice *float64) *CostBreakdown {
	gasCostWei := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)

	txCost := new(big.Int).Set(gasCostWei)
	if value != nil {
		txCost.Add(txCost, value)
	}

	breakdown := &CostBreakdown{
		Gas:        gasLimit,
		GasPrice:   gasPrice,
		GasCostWei: gasCostWei,
		GasCostEth: WeiToEth(gasCostWei),
		TxCostWei:  txCost,
	}

	if spotPrice != nil {
		breakdown.SpotPrice = spotPrice
		gasCostFiat := breakdown.GasCostEth * *spotPrice
		breakdown.GasCostFiat = &gasCostFiat
		if valueEth != 0 {
			valueFiat := valueEth * *spotPrice
			breakdown.ValueFiat = &valueFiat
		}
	}

	return breakdown
}

// WeiToEth converts a wei amount to the native display unit.
func WeiToEth(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	return decimal.NewFromBigInt(wei, -weiDecimals).InexactFloat64()
}
