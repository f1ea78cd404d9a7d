package accounts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/clearid/wallet-engine/internal/wallet"
	"github/clearid/wallet-engine/internal/wallet/accounts"
)

func acct(address, network, clientID string) *wallet.Account {
	return &wallet.Account{Address: address, HexAddress: "0x" + address, Network: network, ClientID: clientID}
}

func TestSelectPrefersSegregatedAccount(t *testing.T) {
	registry := accounts.NewRegistry()
	registry.Add(acct("main", "0x1", ""))
	registry.Add(acct("segregated", "0x1", "dapp-1"))
	require.NoError(t, registry.SetCurrent("main"))

	picked, err := registry.Select("dapp-1", "0x1")
	require.NoError(t, err)
	assert.Equal(t, "segregated", picked.Address)
}

func TestSelectFallsBackToCurrentOnMatchingNetwork(t *testing.T) {
	registry := accounts.NewRegistry()
	registry.Add(acct("rinkeby", "0x4", ""))
	registry.Add(acct("main", "0x1", ""))
	require.NoError(t, registry.SetCurrent("main"))

	picked, err := registry.Select("dapp-1", "0x1")
	require.NoError(t, err)
	assert.Equal(t, "main", picked.Address)
}

func TestSelectSkipsCurrentOnWrongNetwork(t *testing.T) {
	registry := accounts.NewRegistry()
	registry.Add(acct("main", "0x1", ""))
	registry.Add(acct("rinkeby", "0x4", ""))
	require.NoError(t, registry.SetCurrent("main"))

	picked, err := registry.Select("", "0x4")
	require.NoError(t, err)
	assert.Equal(t, "rinkeby", picked.Address)
}

func TestSelectNoAccountOnNetwork(t *testing.T) {
	registry := accounts.NewRegistry()
	registry.Add(acct("main", "0x1", ""))

	_, err := registry.Select("", "0x2a")
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrNoAccount)
	assert.Contains(t, err.Error(), "You do not have an account supporting network 0x2a")
}

func TestByAddressAndReplace(t *testing.T) {
	registry := accounts.NewRegistry()
	registry.Add(acct("main", "0x1", ""))

	updated := acct("main", "0x1", "")
	updated.SignerType = wallet.SignerKeyPair
	registry.Add(updated)

	got, ok := registry.ByAddress("main")
	require.True(t, ok)
	assert.Equal(t, wallet.SignerKeyPair, got.SignerType)
	assert.Len(t, registry.All(), 1)
}

func TestForNetworkKeepsRegistrationOrder(t *testing.T) {
	registry := accounts.NewRegistry()
	registry.Add(acct("b", "0x1", ""))
	registry.Add(acct("a", "0x1", ""))
	registry.Add(acct("c", "0x4", ""))

	onMain := registry.ForNetwork("0x1")
	require.Len(t, onMain, 2)
	assert.Equal(t, "b", onMain[0].Address)
	assert.Equal(t, "a", onMain[1].Address)
}
