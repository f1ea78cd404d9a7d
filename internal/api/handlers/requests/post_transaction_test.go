package requests_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/clearid/wallet-engine/internal/api"
	"github/clearid/wallet-engine/internal/api/router"
	"github/clearid/wallet-engine/internal/config"
	"github/clearid/wallet-engine/internal/metrics"
	"github/clearid/wallet-engine/internal/wallet"
	"github/clearid/wallet-engine/internal/wallet/accounts"
	"github/clearid/wallet-engine/internal/wallet/activity"
	"github/clearid/wallet-engine/internal/wallet/confirm"
	"github/clearid/wallet-engine/internal/wallet/nonce"
	"github/clearid/wallet-engine/internal/wallet/pipeline"
	"github/clearid/wallet-engine/internal/wallet/request"
	"github/clearid/wallet-engine/internal/wallet/signer"
)

type stubKeys struct{}

func (stubKeys) SignTx(_ context.Context, _ common.Address, _ *types.Transaction, _ *big.Int) ([]byte, error) {
	return []byte{0xf8, 0x01}, nil
}

func (stubKeys) PersonalSign(_ context.Context, _ common.Address, _ []byte) ([]byte, error) {
	return []byte{0xaa}, nil
}

type stubChain struct{}

func (stubChain) NonceAt(_ context.Context, _ string) (uint64, error) { return 0, nil }

type stubRPC struct{}

func (stubRPC) SendRawTransaction(_ context.Context, _ []byte) (common.Hash, error) {
	return common.HexToHash("0xbeef"), nil
}

func (stubRPC) BalanceAt(_ context.Context, _ string) (*big.Int, error) {
	return big.NewInt(1e18), nil
}

type stubReceipts struct{}

func (stubReceipts) TransactionReceipt(_ context.Context, _ string) (*types.Receipt, error) {
	return &types.Receipt{BlockNumber: big.NewInt(42), Status: types.ReceiptStatusSuccessful}, nil
}

type approveAll struct{}

func (approveAll) RequestApproval(_ context.Context, _ *wallet.TransactionRequest) (bool, error) {
	return true, nil
}

// heldGate keeps the pipeline parked in its connectivity wait until the test
// releases it, so the handler's response is observed before any pipeline
// progress.
type heldGate struct {
	release chan struct{}
}

func (g *heldGate) Wait(ctx context.Context) error {
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestServer(t *testing.T) (*api.Server, *heldGate) {
	t.Helper()

	store, err := activity.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := accounts.NewRegistry()
	account := &wallet.Account{
		Address:       "0x00521965e7bd230323c423d96c657db5b79d099f",
		HexAddress:    "0x00521965e7bd230323c423d96c657db5b79d099f",
		DeviceAddress: "0x00521965e7bd230323c423d96c657db5b79d099f",
		Network:       "0x1",
		SignerType:    wallet.SignerDevice,
	}
	registry.Add(account)
	require.NoError(t, registry.SetCurrent(account.Address))

	gate := &heldGate{release: make(chan struct{})}

	s := api.NewServer(config.Server{})
	s.Store = store
	s.Accounts = registry
	s.Metrics = metrics.NewService(prometheus.NewRegistry())
	s.Resolver = request.NewResolver(registry, nil, "0x1")
	s.Tracker = confirm.NewTracker(stubReceipts{}, nil).WithPolling(time.Millisecond, 3)
	s.Pipeline = pipeline.New(pipeline.Config{
		Accounts:     registry,
		Signers:      signer.NewRegistry(stubKeys{}, nil),
		Nonces:       nonce.NewStore(stubChain{}, nil, nil),
		RPC:          stubRPC{},
		Tracker:      s.Tracker,
		Store:        store,
		Approver:     approveAll{},
		Connectivity: gate,
	})
	router.Init(s)
	return s, gate
}

func TestPostTransactionRespondsWithPreRunSnapshot(t *testing.T) {
	s, gate := newTestServer(t)

	body, err := json.Marshal(map[string]string{
		"to":    "0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6b",
		"value": "0x0a",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodPost, "/api/v1/requests/transaction", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	s.Echo.ServeHTTP(rec, httpReq)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted wallet.TransactionRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.ID)
	assert.Equal(t, "0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6b", accepted.To)

	// the body is the resolved form only; pipeline outcome fields arrive
	// through the activity endpoints later
	assert.Empty(t, accepted.TxHash)
	assert.Empty(t, accepted.Error)

	close(gate.release)
	require.Eventually(t, func() bool {
		stored, err := s.Store.Request(context.Background(), accepted.ID)
		return err == nil && stored.TxHash != ""
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPostTransactionResolutionFailure(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodPost, "/api/v1/requests/transaction",
		bytes.NewReader([]byte(`{"to":"not-an-address"}`)))
	httpReq.Header.Set("Content-Type", "application/json")
	s.Echo.ServeHTTP(rec, httpReq)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var rejected wallet.TransactionRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejected))
	assert.Contains(t, rejected.Error, "Invalid address")

	// failed resolutions are persisted for later inspection
	stored, err := s.Store.Request(context.Background(), rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, rejected.Error, stored.Error)
}
