package api

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github/clearid/wallet-engine/internal/metrics"
	"github/clearid/wallet-engine/internal/util"
	"github/clearid/wallet-engine/internal/wallet"
	"github/clearid/wallet-engine/internal/wallet/accounts"
	"github/clearid/wallet-engine/internal/wallet/activity"
	"github/clearid/wallet-engine/internal/wallet/confirm"
	"github/clearid/wallet-engine/internal/wallet/ethrpc"
	"github/clearid/wallet-engine/internal/wallet/fourbyte"
	"github/clearid/wallet-engine/internal/wallet/gas"
	"github/clearid/wallet-engine/internal/wallet/hdkey"
	"github/clearid/wallet-engine/internal/wallet/nonce"
	"github/clearid/wallet-engine/internal/wallet/pipeline"
	"github/clearid/wallet-engine/internal/wallet/relay"
	"github/clearid/wallet-engine/internal/wallet/request"
	"github/clearid/wallet-engine/internal/wallet/signer"
	"github/clearid/wallet-engine/internal/wallet/spot"
)

// InitEngine wires every engine component onto the server in dependency
// order. The echo instance and router are attached separately.
func InitEngine(ctx context.Context, s *Server) error {
	store, err := activity.Open(s.Config.Storage.Dir)
	if err != nil {
		return errors.Wrap(err, "failed to open activity store")
	}
	s.Store = store

	rpc, err := ethrpc.Dial(s.Config.Chain.RPCURLs)
	if err != nil {
		return errors.Wrap(err, "failed to dial RPC endpoints")
	}
	s.RPC = rpc

	seeds := hdkey.NewSeedManager()
	if mnemonic := s.Config.Wallet.Mnemonic; mnemonic != "" {
		if err := seeds.Initialize(mnemonic, s.Config.Wallet.SeedPassword); err != nil {
			return errors.Wrap(err, "failed to initialize seed from configured mnemonic")
		}
	} else {
		if _, err := seeds.Generate(s.Config.Wallet.SeedPassword); err != nil {
			return errors.Wrap(err, "failed to generate seed")
		}
		log.Warn().Msg("No mnemonic configured, generated an ephemeral seed")
	}

	keyStore := hdkey.NewSoftStore(seeds)
	s.Keys = hdkey.NewService(keyStore, store)

	s.Accounts = accounts.NewRegistry()
	if err := bootstrapAccount(ctx, s, keyStore); err != nil {
		return err
	}

	s.Metrics = metrics.NewService(prometheus.DefaultRegisterer)

	var relayClient *relay.Client
	if s.Config.Relay.URL != "" {
		relayClient = relay.NewClient(s.Config.Relay.URL)
	}

	signers := signer.NewRegistry(keyStore, metaFlag(s.Config.Relay.MetaTxEnabled))

	var metaSource nonce.MetaSource
	if relayClient != nil {
		metaSource = relayClient
	}
	nonces := nonce.NewStore(rpc, metaSource, store)

	estimator := gas.NewEstimator(rpc, spot.NewClient(s.Config.Relay.SpotPriceURL))
	s.Tracker = confirm.NewTracker(rpc, statusAlerts{})

	s.Resolver = request.NewResolver(s.Accounts, &resolverEffects{
		store:     store,
		estimator: estimator,
		names:     fourbyte.NewClient(s.Config.Relay.FourbyteURL),
		signers:   signers,
		accounts:  s.Accounts,
	}, s.Config.Chain.DefaultNetwork)

	pipeCfg := pipeline.Config{
		Accounts:       s.Accounts,
		Signers:        signers,
		Nonces:         nonces,
		RPC:            rpc,
		Tracker:        s.Tracker,
		Store:          store,
		Approver:       headlessApprover{},
		Connectivity:   &connectivityWaiter{rpc: rpc},
		Status:         statusAlerts{},
		Metrics:        s.Metrics,
		ConfirmTimeout: s.Config.Relay.ConfirmTimeout,
	}
	if relayClient != nil {
		pipeCfg.Relay = relayClient
	}
	s.Pipeline = pipeline.New(pipeCfg)

	return nil
}

// bootstrapAccount makes sure the wallet has at least one signing identity
// on the default network.
func bootstrapAccount(ctx context.Context, s *Server, keyStore hdkey.KeyStore) error {
	identity, err := s.Keys.CreateIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to derive bootstrap identity")
	}

	hexAddress := identity.Address.Hex()
	account := &wallet.Account{
		Address:       hexAddress,
		HexAddress:    hexAddress,
		DeviceAddress: hexAddress,
		Network:       s.Config.Chain.DefaultNetwork,
		SignerType:    wallet.SignerDevice,
		SecurityLevel: wallet.DefaultSecurityLevel,
		HD:            true,
		IdentityIndex: identity.IdentityIndex,
		AccountIndex:  identity.AccountIndex,
	}
	s.Accounts.Add(account)
	if err := s.Accounts.SetCurrent(account.Address); err != nil {
		return err
	}
	log.Info().Str("address", hexAddress).Str("network", account.Network).Msg("Bootstrap identity ready")
	return nil
}

// RunBacklogSweep periodically re-checks unconfirmed transactions until the
// context ends.
func (s *Server) RunBacklogSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tracker.Sweep(ctx, s.Store); err != nil {
				log.Warn().Err(err).Msg("Backlog sweep failed")
			}
		}
	}
}

type metaFlag bool

func (m metaFlag) MetaTxEnabled() bool { return bool(m) }

// headlessApprover approves every request. The service runs without a user
// interface; accounts wanting an interactive gate must use a prompting
// security level backed by an external approver.
type headlessApprover struct{}

func (headlessApprover) RequestApproval(ctx context.Context, req *wallet.TransactionRequest) (bool, error) {
	util.LogFromContext(ctx).Info().Str("request_id", req.ID).Msg("Auto-approving request in headless mode")
	return true, nil
}

// connectivityWaiter blocks until one RPC endpoint answers.
type connectivityWaiter struct {
	rpc *ethrpc.Client
}

func (w *connectivityWaiter) Wait(ctx context.Context) error {
	for !w.rpc.Connected(ctx) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

// statusAlerts surfaces progress messages and confirmation alerts to the log.
type statusAlerts struct{}

func (statusAlerts) Status(requestID, message string) {
	log.Info().Str("request_id", requestID).Str("status", message).Msg("Request status")
}

func (statusAlerts) TransactionConfirmed(requestID string) {
	log.Info().Str("request_id", requestID).Msg("Transaction confirmed")
}

// resolverEffects carries out post-resolution side effects in the
// background.
type resolverEffects struct {
	store     *activity.Store
	estimator *gas.Estimator
	names     *fourbyte.Client
	signers   *signer.Registry
	accounts  *accounts.Registry
}

func (e *resolverEffects) RecordInteraction(account, counterparty string) {
	go e.store.RecordInteraction(account, counterparty, "request")
}

func (e *resolverEffects) RefreshClientProfile(clientID string) {
	// profile documents live with the requesting application; remembering
	// the connection is the engine's share of the work
	go func() {
		if current := e.accounts.Current(); current != nil {
			e.store.StoreConnection(current.Address, "apps", clientID)
		}
	}()
}

func (e *resolverEffects) EstimateCost(req *wallet.TransactionRequest) {
	account, ok := e.accounts.ByAddress(req.Target)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		from, err := e.signers.FromAddress(account)
		if err != nil {
			log.Debug().Err(err).Str("request_id", req.ID).Msg("Cost estimation skipped")
			return
		}
		breakdown, err := e.estimator.Estimate(ctx, req, from)
		if err != nil {
			log.Debug().Err(err).Str("request_id", req.ID).Msg("Cost estimation failed")
			return
		}

		txCost := breakdown.TxCostWei.String()
		patch := wallet.RequestPatch{
			Gas:         &breakdown.Gas,
			GasPrice:    breakdown.GasPrice,
			GasCostWei:  breakdown.GasCostWei,
			GasCostEth:  &breakdown.GasCostEth,
			TxCostWei:   &txCost,
			SpotPrice:   breakdown.SpotPrice,
			GasCostFiat: breakdown.GasCostFiat,
			ValueFiat:   breakdown.ValueFiat,
		}
		if _, err := e.store.Patch(ctx, req.ID, patch); err != nil {
			log.Debug().Err(err).Str("request_id", req.ID).Msg("Failed to patch cost fields")
		}
	}()
}

func (e *resolverEffects) LookupFunctionName(req *wallet.TransactionRequest) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		name, err := e.names.FunctionName(ctx, req.FnSig)
		if err != nil {
			log.Debug().Err(err).Str("selector", req.FnSig).Msg("Selector lookup failed")
			return
		}
		display := request.Humanize(name)
		if _, err := e.store.Patch(ctx, req.ID, wallet.RequestPatch{Fn: &name, FnName: &display}); err != nil {
			log.Debug().Err(err).Str("request_id", req.ID).Msg("Failed to patch function name")
		}
	}()
}
