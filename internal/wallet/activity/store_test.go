package activity_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/clearid/wallet-engine/internal/util"
	"github/clearid/wallet-engine/internal/wallet"
	"github/clearid/wallet-engine/internal/wallet/activity"
)

func newStore(t *testing.T) *activity.Store {
	t.Helper()
	store, err := activity.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPatchMergesWithoutClearing(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	req := &wallet.TransactionRequest{
		ID:       "req-1",
		Target:   "acct",
		To:       "0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6b",
		Value:    big.NewInt(1000),
		Network:  "0x2a",
		ClientID: "did:ethr:0xclient",
	}
	require.NoError(t, store.CreateRequest(ctx, req))

	_, err := store.Patch(ctx, req.ID, wallet.RequestPatch{Gas: util.Ptr(uint64(21000))})
	require.NoError(t, err)

	merged, err := store.Patch(ctx, req.ID, wallet.RequestPatch{TxHash: util.Ptr("0xabc")})
	require.NoError(t, err)

	// earlier fields survive later partial updates
	assert.Equal(t, uint64(21000), merged.Gas)
	assert.Equal(t, "0xabc", merged.TxHash)
	assert.Equal(t, "0x2a", merged.Network)
	assert.Equal(t, "did:ethr:0xclient", merged.ClientID)
}

func TestPatchRefusesHashAfterError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.CreateRequest(ctx, &wallet.TransactionRequest{ID: "req-2"}))
	_, err := store.Patch(ctx, "req-2", wallet.RequestPatch{Error: util.Ptr("broadcast rejected")})
	require.NoError(t, err)

	_, err = store.Patch(ctx, "req-2", wallet.RequestPatch{TxHash: util.Ptr("0xabc")})
	assert.ErrorIs(t, err, activity.ErrTerminal)
}

func TestPatchNeverOverwritesHash(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.CreateRequest(ctx, &wallet.TransactionRequest{ID: "req-3"}))
	_, err := store.Patch(ctx, "req-3", wallet.RequestPatch{TxHash: util.Ptr("0xfirst")})
	require.NoError(t, err)

	merged, err := store.Patch(ctx, "req-3", wallet.RequestPatch{TxHash: util.Ptr("0xsecond")})
	require.NoError(t, err)
	assert.Equal(t, "0xfirst", merged.TxHash)
}

func TestPatchKeepsFirstError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.CreateRequest(ctx, &wallet.TransactionRequest{ID: "req-4"}))
	_, err := store.Patch(ctx, "req-4", wallet.RequestPatch{Error: util.Ptr("first")})
	require.NoError(t, err)

	merged, err := store.Patch(ctx, "req-4", wallet.RequestPatch{Error: util.Ptr("second")})
	require.NoError(t, err)
	assert.Equal(t, "first", merged.Error)
}

func TestPatchRefusesCancelAfterBroadcast(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.CreateRequest(ctx, &wallet.TransactionRequest{ID: "req-5", TxHash: "0xabc"}))
	now := time.Now()
	_, err := store.Patch(ctx, "req-5", wallet.RequestPatch{CanceledAt: &now})
	assert.ErrorIs(t, err, activity.ErrTerminal)
}

func TestLateConfirmationClearsSoftFlag(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.CreateRequest(ctx, &wallet.TransactionRequest{
		ID:     "req-6",
		TxHash: "0xabc",
		Error:  wallet.MsgNotConfirmed,
	}))

	// still eligible for the backlog sweep despite the soft flag
	pending, err := store.UnconfirmedRequests(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	now := time.Now()
	merged, err := store.Patch(ctx, "req-6", wallet.RequestPatch{
		MinedAt:     &now,
		BlockNumber: util.Ptr(uint64(42)),
		Status:      util.Ptr(uint64(1)),
	})
	require.NoError(t, err)
	assert.Empty(t, merged.Error)
	assert.Equal(t, uint64(42), merged.BlockNumber)
}

func TestUnconfirmedRequests(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.CreateRequest(ctx, &wallet.TransactionRequest{ID: "pending", TxHash: "0xaaa"}))
	require.NoError(t, store.CreateRequest(ctx, &wallet.TransactionRequest{ID: "mined", TxHash: "0xbbb", BlockNumber: 12}))
	require.NoError(t, store.CreateRequest(ctx, &wallet.TransactionRequest{ID: "unsent"}))

	pending, err := store.UnconfirmedRequests(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "pending", pending[0].ID)
}

func TestNonceSnapshots(t *testing.T) {
	store := newStore(t)

	_, found := store.LoadNonce("acct")
	assert.False(t, found)

	require.NoError(t, store.SaveNonce("acct", 7))
	nonce, found := store.LoadNonce("acct")
	assert.True(t, found)
	assert.Equal(t, uint64(7), nonce)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.SaveMetaNonce("acct", 3, now))
	meta, at, found := store.LoadMetaNonce("acct")
	assert.True(t, found)
	assert.Equal(t, uint64(3), meta)
	assert.Equal(t, now, at.UTC().Truncate(time.Second))
}

func TestDerivationIndicesOnlyIncrement(t *testing.T) {
	store := newStore(t)

	first, err := store.NextIdentityIndex()
	require.NoError(t, err)
	second, err := store.NextIdentityIndex()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), first)
	assert.Equal(t, uint32(1), second)

	// sub-accounts start at 1 so they never collide with the identity's own
	// account index 0
	acct, err := store.NextAccountIndex(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), acct)
	acct, err = store.NextAccountIndex(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), acct)

	// independent ledgers per identity
	acct, err = store.NextAccountIndex(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), acct)
}

func TestInteractionsAndConnections(t *testing.T) {
	store := newStore(t)

	store.RecordInteraction("acct", "0xcontract", "request")
	store.RecordInteraction("acct", "0xcontract", "request")
	assert.Equal(t, uint64(2), store.InteractionCount("acct", "0xcontract", "request"))
	assert.Equal(t, uint64(0), store.InteractionCount("acct", "0xcontract", "sign"))

	store.StoreConnection("acct", "contracts", "0xcontract")
	assert.True(t, store.HasConnection("acct", "contracts", "0xcontract"))
	assert.False(t, store.HasConnection("acct", "apps", "0xcontract"))
}
