// Package confirm waits for broadcast transactions to be mined and sweeps
// the backlog of requests that were never confirmed.
package confirm

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github/clearid/wallet-engine/internal/util"
	"github/clearid/wallet-engine/internal/wallet"
)

// ErrNotMined means the receipt never appeared within the polling budget.
// It is terminal for the request; the backlog sweep may still pick the
// transaction up later if the chain eventually includes it.
var ErrNotMined = errors.New("confirm: transaction not mined")

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxAttempts  = 24
)

// Receipts queries the network for transaction receipts. Absence is
// signalled with ethereum.NotFound.
type Receipts interface {
	TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
}

// Alerts is the user-facing notification collaborator.
type Alerts interface {
	TransactionConfirmed(requestID string)
}

// Backlog is the slice of the activity store the sweep needs.
type Backlog interface {
	UnconfirmedRequests(ctx context.Context) ([]*wallet.TransactionRequest, error)
	Patch(ctx context.Context, id string, patch wallet.RequestPatch) (*wallet.TransactionRequest, error)
}

// Outcome is a mined transaction's on-chain result. Status 1 is success;
// anything else is an on-chain revert, which is a user-visible outcome and
// not a pipeline failure.
type Outcome struct {
	BlockNumber uint64
	Status      uint64
}

func (o *Outcome) Reverted() bool { return o.Status != types.ReceiptStatusSuccessful }

type Tracker struct {
	receipts Receipts
	alerts   Alerts

	pollInterval time.Duration
	maxAttempts  int
}

func NewTracker(receipts Receipts, alerts Alerts) *Tracker {
	return &Tracker{
		receipts:     receipts,
		alerts:       alerts,
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
	}
}

// WithPolling overrides the poll cadence.
func (t *Tracker) WithPolling(interval time.Duration, attempts int) *Tracker {
	t.pollInterval = interval
	t.maxAttempts = attempts
	return t
}

// AwaitReceipt polls for the receipt of txHash until it appears or the
// attempt budget runs out. Context cancellation aborts the wait.
func (t *Tracker) AwaitReceipt(ctx context.Context, requestID, txHash string) (*Outcome, error) {
	log := util.LogFromContext(ctx)

	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.pollInterval):
			}
		}

		receipt, err := t.receipts.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			continue
		}
		if err != nil {
			log.Debug().Err(err).Str("txhash", txHash).Msg("Receipt query failed, retrying")
			continue
		}

		outcome := &Outcome{
			BlockNumber: receipt.BlockNumber.Uint64(),
			Status:      receipt.Status,
		}
		if outcome.Reverted() {
			log.Info().Str("txhash", txHash).Uint64("status", outcome.Status).Msg("Transaction reverted on chain")
		} else if t.alerts != nil {
			t.alerts.TransactionConfirmed(requestID)
		}
		return outcome, nil
	}
	return nil, ErrNotMined
}

// Sweep re-checks receipts for every stored request that has a hash but no
// recorded block, patching those the chain has since included. Requests
// whose soft "could not be confirmed" flag resolved this way get their
// error cleared implicitly by the mined fields; hard failures stay as they
// are because terminal requests never reach the unconfirmed set.
func (t *Tracker) Sweep(ctx context.Context, backlog Backlog) (int, error) {
	log := util.LogFromContext(ctx)

	pending, err := backlog.UnconfirmedRequests(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to load unconfirmed requests")
	}

	patched := 0
	for _, req := range pending {
		if req.TxHash == "" {
			continue
		}
		receipt, err := t.receipts.TransactionReceipt(ctx, req.TxHash)
		if errors.Is(err, ethereum.NotFound) {
			continue
		}
		if err != nil {
			log.Debug().Err(err).Str("request_id", req.ID).Msg("Backlog receipt query failed")
			continue
		}

		now := time.Now()
		block := receipt.BlockNumber.Uint64()
		status := receipt.Status
		if _, err := backlog.Patch(ctx, req.ID, wallet.RequestPatch{
			BlockNumber: &block,
			Status:      &status,
			MinedAt:     &now,
		}); err != nil {
			log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to patch swept request")
			continue
		}
		patched++
	}
	if patched > 0 {
		log.Info().Int("patched", patched).Msg("Backlog sweep confirmed transactions")
	}
	return patched, nil
}
