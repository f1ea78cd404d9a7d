// Package pipeline drives a resolved transaction request through
// authorization, signing, broadcast and confirmation.
package pipeline

import (
	"context"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github/clearid/wallet-engine/internal/util"
	"github/clearid/wallet-engine/internal/wallet"
	"github/clearid/wallet-engine/internal/wallet/confirm"
	"github/clearid/wallet-engine/internal/wallet/gas"
	"github/clearid/wallet-engine/internal/wallet/nonce"
	"github/clearid/wallet-engine/internal/wallet/signer"
)

// State names the stations a request passes through. Mined, Failed and
// Canceled are terminal.
type State string

const (
	StateResolved     State = "resolved"
	StateAuthorizing  State = "authorizing"
	StateSigning      State = "signing"
	StateBroadcasting State = "broadcasting"
	StateConfirming   State = "awaiting_confirmation"
	StateMined        State = "mined"
	StateFailed       State = "failed"
	StateCanceled     State = "canceled"
)

const (
	// DefaultConfirmTimeout arms the soft-flag check at broadcast time.
	DefaultConfirmTimeout = 180 * time.Second
	// DefaultGasPrice applies when neither the request nor the estimator
	// supplied one by signing time.
	DefaultGasPrice = 20000000000
)

// Accounts resolves the signing account behind a request target.
type Accounts interface {
	ByAddress(address string) (*wallet.Account, bool)
}

// Approver is the external approval collaborator. Declines are final.
type Approver interface {
	RequestApproval(ctx context.Context, req *wallet.TransactionRequest) (bool, error)
}

// Connectivity blocks until the network is reachable.
type Connectivity interface {
	Wait(ctx context.Context) error
}

// StatusSink receives user-facing progress messages.
type StatusSink interface {
	Status(requestID, message string)
}

// Broadcaster is the network slice the pipeline needs.
type Broadcaster interface {
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
}

// RelaySubmitter submits meta-transactions and best-effort refuels.
type RelaySubmitter interface {
	Relay(ctx context.Context, signedPayload, address string, metaNonce uint64) (string, error)
	Refuel(ctx context.Context, signedPayload, address string) error
}

// Activity is the persisted-request slice the pipeline needs.
type Activity interface {
	CreateRequest(ctx context.Context, req *wallet.TransactionRequest) error
	Request(ctx context.Context, id string) (*wallet.TransactionRequest, error)
	Patch(ctx context.Context, id string, patch wallet.RequestPatch) (*wallet.TransactionRequest, error)
	RecordInteraction(account, counterparty, kind string)
	StoreConnection(account, bucket, value string)
}

// Metrics mirrors pipeline outcomes to telemetry.
type Metrics interface {
	Signed(signerType string)
	Broadcast(meta bool)
	Mined()
	Failed(stage string)
	Canceled()
}

type Pipeline struct {
	accounts     Accounts
	signers      *signer.Registry
	nonces       *nonce.Store
	rpc          Broadcaster
	relay        RelaySubmitter
	tracker      *confirm.Tracker
	store        Activity
	approver     Approver
	connectivity Connectivity
	status       StatusSink
	metrics      Metrics

	confirmTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

type Config struct {
	Accounts     Accounts
	Signers      *signer.Registry
	Nonces       *nonce.Store
	RPC          Broadcaster
	Relay        RelaySubmitter
	Tracker      *confirm.Tracker
	Store        Activity
	Approver     Approver
	Connectivity Connectivity
	Status       StatusSink
	Metrics      Metrics

	ConfirmTimeout time.Duration
}

func New(cfg Config) *Pipeline {
	timeout := cfg.ConfirmTimeout
	if timeout == 0 {
		timeout = DefaultConfirmTimeout
	}
	return &Pipeline{
		accounts:       cfg.Accounts,
		signers:        cfg.Signers,
		nonces:         cfg.Nonces,
		rpc:            cfg.RPC,
		relay:          cfg.Relay,
		tracker:        cfg.Tracker,
		store:          cfg.Store,
		approver:       cfg.Approver,
		connectivity:   cfg.Connectivity,
		status:         cfg.Status,
		metrics:        cfg.Metrics,
		confirmTimeout: timeout,
		cancels:        make(map[string]context.CancelFunc),
	}
}

// Run drives req to a terminal state and returns the state reached. The
// request must have resolved without error; error-flagged requests are
// stored as failed immediately.
func (p *Pipeline) Run(ctx context.Context, req *wallet.TransactionRequest) (State, error) {
	log := util.LogFromContext(ctx).With().Str("request_id", req.ID).Logger()
	ctx = util.WithLogger(ctx, log)

	if err := p.store.CreateRequest(ctx, req); err != nil {
		return StateFailed, errors.Wrap(err, "failed to persist request")
	}
	if req.Error != "" {
		p.fail(ctx, req, "resolution", req.Error)
		return StateFailed, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	p.registerCancel(req.ID, cancel)
	defer p.unregisterCancel(req.ID)

	account, ok := p.accounts.ByAddress(req.Target)
	if !ok {
		p.fail(ctx, req, "resolution", "The target account does not exist in your wallet")
		return StateFailed, nil
	}

	// Authorizing
	if !account.SecurityLevel.AutoPrompt() {
		approved, err := p.approver.RequestApproval(ctx, req)
		if err != nil || !approved {
			return p.cancelWith(ctx, req, wallet.ErrTagAccessDenied), nil
		}
	}
	now := time.Now()
	if _, err := p.store.Patch(ctx, req.ID, wallet.RequestPatch{AuthorizedAt: &now}); err != nil {
		log.Warn().Err(err).Msg("Failed to record authorization")
	}

	// Signing and broadcasting need the network; block until it is there.
	p.report(req.ID, "Waiting for internet...")
	if err := p.connectivity.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return p.cancelWith(ctx, req, wallet.ErrTagAccessDenied), nil
		}
		p.fail(ctx, req, "connectivity", err.Error())
		return StateFailed, nil
	}

	// Signing
	p.report(req.ID, "Sending...")
	result, unsignedNonce, err := p.sign(ctx, req, account)
	if err != nil {
		p.fail(ctx, req, "signing", err.Error())
		return StateFailed, nil
	}
	if p.metrics != nil {
		p.metrics.Signed(account.SignerType.String())
	}

	// Broadcasting
	txHash, err := p.broadcast(ctx, req, account, result, unsignedNonce)
	if err != nil {
		p.fail(ctx, req, "broadcast", err.Error())
		return StateFailed, nil
	}
	log.Info().Str("txhash", txHash).Uint64("nonce", unsignedNonce).Msg("Transaction broadcast")
	if _, err := p.store.Patch(ctx, req.ID, wallet.RequestPatch{TxHash: &txHash}); err != nil {
		log.Warn().Err(err).Msg("Failed to record transaction hash")
	}
	req.TxHash = txHash
	p.afterBroadcast(req, account)

	// AwaitingConfirmation
	p.report(req.ID, "Confirming...")
	p.armConfirmTimeout(req.ID)
	return p.confirmOutcome(ctx, req), nil
}

// SignPersonal runs the short message-signing flow: the same authorization
// gate as transactions, then a prefixed signature from the account's key.
// There is nothing to broadcast, so the request is terminal either way.
func (p *Pipeline) SignPersonal(ctx context.Context, req *wallet.TransactionRequest) ([]byte, error) {
	if err := p.store.CreateRequest(ctx, req); err != nil {
		return nil, errors.Wrap(err, "failed to persist request")
	}
	if req.Error != "" {
		p.fail(ctx, req, "resolution", req.Error)
		return nil, errors.New(req.Error)
	}

	account, ok := p.accounts.ByAddress(req.Target)
	if !ok {
		message := "The target account does not exist in your wallet"
		p.fail(ctx, req, "resolution", message)
		return nil, errors.New(message)
	}

	if !account.SecurityLevel.AutoPrompt() {
		approved, err := p.approver.RequestApproval(ctx, req)
		if err != nil || !approved {
			p.cancelWith(ctx, req, wallet.ErrTagAccessDenied)
			return nil, errors.New(wallet.ErrTagAccessDenied)
		}
	}
	now := time.Now()
	if _, err := p.store.Patch(ctx, req.ID, wallet.RequestPatch{AuthorizedAt: &now}); err != nil {
		util.LogFromContext(ctx).Warn().Err(err).Msg("Failed to record authorization")
	}

	signature, err := p.signers.PersonalSign(ctx, account, req.Data)
	if err != nil {
		p.fail(ctx, req, "signing", err.Error())
		return nil, err
	}
	return signature, nil
}

// Cancel aborts a running request. Broadcast transactions cannot be
// retracted; the store guard rejects cancellation once a hash is recorded.
func (p *Pipeline) Cancel(ctx context.Context, requestID string) error {
	p.mu.Lock()
	cancel, running := p.cancels[requestID]
	p.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	now := time.Now()
	_, err := p.store.Patch(ctx, requestID, wallet.RequestPatch{CanceledAt: &now})
	return err
}

// sign builds and signs the transaction. The nonce lane follows the route:
// relayed payloads carry the relay's meta nonce, direct broadcasts the local
// chain nonce. The nonce embedded in the signed payload is returned so the
// relay submission reuses it verbatim.
func (p *Pipeline) sign(ctx context.Context, req *wallet.TransactionRequest, account *wallet.Account) (*signer.Result, uint64, error) {
	from, err := p.signers.FromAddress(account)
	if err != nil {
		return nil, 0, err
	}

	var next uint64
	if p.signers.RoutesMeta(account) {
		next, err = p.nonces.ResolveMeta(ctx, account.Address)
	} else {
		next, err = p.nonces.ResolveLocal(ctx, account.Address, from)
	}
	if err != nil {
		return nil, 0, err
	}

	gasLimit := req.Gas
	if gasLimit == 0 {
		gasLimit = gas.DefaultGasLimit
	}
	gasPrice := req.GasPrice
	if gasPrice == nil {
		gasPrice = big.NewInt(DefaultGasPrice)
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	var tx *types.Transaction
	if req.To == "" {
		tx = types.NewContractCreation(next, value, gasLimit, gasPrice, req.Data)
	} else {
		tx = types.NewTransaction(next, common.HexToAddress(req.To), value, gasLimit, gasPrice, req.Data)
	}

	chainID, err := parseChainID(req.Network)
	if err != nil {
		return nil, 0, err
	}

	result, err := p.signers.Sign(ctx, account, tx, chainID)
	if err != nil {
		return nil, 0, err
	}
	return result, next, nil
}

// broadcast submits the signed payload on the route result.Meta names.
// nonce is the value embedded in the signed transaction; the relay lane
// forwards it unchanged.
func (p *Pipeline) broadcast(ctx context.Context, req *wallet.TransactionRequest, account *wallet.Account, result *signer.Result, nonce uint64) (string, error) {
	if result.Meta {
		if p.relay == nil {
			return "", errors.New("meta transactions enabled but no relay configured")
		}
		payload := hex.EncodeToString(result.Raw)
		txHash, err := p.relay.Relay(ctx, payload, account.Address, nonce)
		if err != nil {
			return "", err
		}
		p.nonces.AdvanceMeta(account.Address)
		if p.metrics != nil {
			p.metrics.Broadcast(true)
		}
		return txHash, nil
	}

	p.maybeRefuel(ctx, req, account, result)

	hash, err := p.rpc.SendRawTransaction(ctx, result.Raw)
	if err != nil {
		return "", err
	}
	p.nonces.AdvanceLocal(account.Address)
	if p.metrics != nil {
		p.metrics.Broadcast(false)
	}
	return hash.Hex(), nil
}

// maybeRefuel tops up an underfunded sender through the relay before a
// direct broadcast. Key-pair accounts manage their own funds and meta routes
// never need gas; failure here never blocks the primary broadcast.
func (p *Pipeline) maybeRefuel(ctx context.Context, req *wallet.TransactionRequest, account *wallet.Account, result *signer.Result) {
	if p.relay == nil || account.SignerType == wallet.SignerKeyPair {
		return
	}

	from, err := p.signers.FromAddress(account)
	if err != nil {
		return
	}
	balance, err := p.rpc.BalanceAt(ctx, from)
	if err != nil {
		return
	}

	cost := new(big.Int)
	if req.GasCostWei != nil {
		cost.Set(req.GasCostWei)
	}
	if req.Value != nil {
		cost.Add(cost, req.Value)
	}
	if balance.Cmp(cost) >= 0 {
		return
	}

	if err := p.relay.Refuel(ctx, hex.EncodeToString(result.Raw), from); err != nil {
		util.LogFromContext(ctx).Debug().Err(err).Str("account", account.Address).Msg("Refuel attempt failed")
	}
}

func (p *Pipeline) afterBroadcast(req *wallet.TransactionRequest, account *wallet.Account) {
	if req.To != "" {
		p.store.RecordInteraction(account.Address, req.To, "sent")
		p.store.StoreConnection(account.Address, "contracts", req.To)
	}
	if req.ClientID != "" {
		p.store.StoreConnection(account.Address, "apps", req.ClientID)
	}
}

// confirmOutcome waits for the receipt and records the terminal state.
func (p *Pipeline) confirmOutcome(ctx context.Context, req *wallet.TransactionRequest) State {
	log := util.LogFromContext(ctx)

	outcome, err := p.tracker.AwaitReceipt(ctx, req.ID, req.TxHash)
	if errors.Is(err, confirm.ErrNotMined) {
		p.fail(ctx, req, "confirmation", "Transaction not mined")
		return StateFailed
	}
	if err != nil {
		// cancellation or transport failure; the timeout task and the
		// backlog sweep still cover the request
		log.Debug().Err(err).Msg("Confirmation wait aborted")
		return StateConfirming
	}

	now := time.Now()
	if _, err := p.store.Patch(ctx, req.ID, wallet.RequestPatch{
		MinedAt:     &now,
		BlockNumber: &outcome.BlockNumber,
		Status:      &outcome.Status,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to record mined outcome")
	}
	if p.metrics != nil {
		p.metrics.Mined()
	}
	if outcome.Reverted() {
		p.report(req.ID, "Transaction failed")
	}
	return StateMined
}

// armConfirmTimeout flags a request that is still hashed-but-unconfirmed
// after the timeout. The flag is soft: the chain may confirm later and the
// backlog sweep will then fill in the mined fields.
func (p *Pipeline) armConfirmTimeout(requestID string) {
	timeout := p.confirmTimeout
	go func() {
		time.Sleep(timeout)

		ctx := context.Background()
		stored, err := p.store.Request(ctx, requestID)
		if err != nil {
			return
		}
		if stored.TxHash == "" || stored.MinedAt != nil || stored.Error != "" {
			return
		}
		message := wallet.MsgNotConfirmed
		if _, err := p.store.Patch(ctx, requestID, wallet.RequestPatch{Error: &message}); err == nil {
			p.report(requestID, message)
		}
	}()
}

func (p *Pipeline) fail(ctx context.Context, req *wallet.TransactionRequest, stage, message string) {
	util.LogFromContext(ctx).Warn().Str("stage", stage).Str("error", message).Msg("Request failed")
	if _, err := p.store.Patch(ctx, req.ID, wallet.RequestPatch{Error: &message}); err != nil {
		util.LogFromContext(ctx).Warn().Err(err).Msg("Failed to record failure")
	}
	req.Error = message
	if p.metrics != nil {
		p.metrics.Failed(stage)
	}
	p.report(req.ID, message)
}

func (p *Pipeline) cancelWith(ctx context.Context, req *wallet.TransactionRequest, reason string) State {
	now := time.Now()
	if _, err := p.store.Patch(context.WithoutCancel(ctx), req.ID, wallet.RequestPatch{
		CanceledAt: &now,
		Error:      &reason,
	}); err != nil {
		util.LogFromContext(ctx).Warn().Err(err).Msg("Failed to record cancellation")
	}
	req.CanceledAt = &now
	req.Error = reason
	if p.metrics != nil {
		p.metrics.Canceled()
	}
	return StateCanceled
}

func (p *Pipeline) report(requestID, message string) {
	if p.status != nil {
		p.status.Status(requestID, message)
	}
}

func (p *Pipeline) registerCancel(id string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancels[id] = cancel
	p.mu.Unlock()
}

func (p *Pipeline) unregisterCancel(id string) {
	p.mu.Lock()
	delete(p.cancels, id)
	p.mu.Unlock()
}

func parseChainID(network string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(network, "0x")
	id, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid network %q", network)
	}
	return new(big.Int).SetUint64(id), nil
}
