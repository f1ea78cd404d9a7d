package request_test

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/clearid/wallet-engine/internal/wallet"
	"github/clearid/wallet-engine/internal/wallet/request"
)

const (
	kovanContract = "35A7s7LGbDxdsFpYYggjFjcbBHom7CGdgaL" // 0x...ad6b on 0x2a
	kovanAccount  = "35A7s7LGbDxdsFpYYggjFjcbBHom79zfciS" // 0x...ad6a on 0x2a
	mainAccount   = "2nQtiQG6Cgm1GYTBaaKAgr76uY7iSexUkqX" // 0x0052... on 0x1
)

type fakeAccounts struct {
	byAddress map[string]*wallet.Account
	selected  *wallet.Account
	selectErr error
}

func (f *fakeAccounts) ByAddress(address string) (*wallet.Account, bool) {
	acct, ok := f.byAddress[address]
	return acct, ok
}

func (f *fakeAccounts) Select(_, _ string) (*wallet.Account, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	return f.selected, nil
}

type recordingEffects struct {
	interactions []string
	profiles     []string
	estimates    []string
	lookups      []string
}

func (r *recordingEffects) RecordInteraction(account, counterparty string) {
	r.interactions = append(r.interactions, account+"->"+counterparty)
}
func (r *recordingEffects) RefreshClientProfile(clientID string) {
	r.profiles = append(r.profiles, clientID)
}
func (r *recordingEffects) EstimateCost(req *wallet.TransactionRequest) {
	r.estimates = append(r.estimates, req.ID)
}
func (r *recordingEffects) LookupFunctionName(req *wallet.TransactionRequest) {
	r.lookups = append(r.lookups, req.FnSig)
}

func kovanWallet() *fakeAccounts {
	acct := &wallet.Account{Address: kovanAccount, HexAddress: "0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6a", Network: "0x2a"}
	return &fakeAccounts{
		byAddress: map[string]*wallet.Account{kovanAccount: acct},
		selected:  acct,
	}
}

func TestResolveHappyPathWithEmbeddedNetwork(t *testing.T) {
	effects := &recordingEffects{}
	resolver := request.NewResolver(kovanWallet(), effects, "0x1")

	req := resolver.Resolve(context.Background(), &request.Payload{
		To:    kovanContract,
		Value: "0x3635c9adc5dea00000",
		Iss:   "dapp-1",
	})

	require.Empty(t, req.Error)
	assert.Equal(t, kovanAccount, req.Target)
	assert.Equal(t, "0x2a", req.Network)
	assert.Equal(t, "0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6b", req.To)
	assert.Equal(t, "1000000000000000000000", req.Value.String())
	assert.InDelta(t, 1000.0, req.ValueEth, 1e-9)

	assert.Equal(t, []string{req.ID}, effects.estimates)
	assert.Equal(t, []string{kovanAccount + "->0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6b"}, effects.interactions)
	assert.Equal(t, []string{"dapp-1"}, effects.profiles)
}

func TestResolveNetworkMismatchSpawnsNoGasTask(t *testing.T) {
	effects := &recordingEffects{}
	resolver := request.NewResolver(kovanWallet(), effects, "0x1")

	req := resolver.Resolve(context.Background(), &request.Payload{
		To:  kovanContract,
		Net: "0x1",
	})

	require.NotEmpty(t, req.Error)
	assert.Contains(t, req.Error, "0x1")
	assert.Contains(t, req.Error, "0x2a")
	assert.Empty(t, effects.estimates)
	assert.Empty(t, effects.interactions)
}

func TestResolveUnknownFromAccount(t *testing.T) {
	resolver := request.NewResolver(kovanWallet(), nil, "0x1")

	req := resolver.Resolve(context.Background(), &request.Payload{
		To:   kovanContract,
		From: "2nQtiQG6Cgm1GYTBaaKAgr76uY7iSexUkqX",
	})

	assert.Contains(t, req.Error, "does not exist in your wallet")
}

func TestResolveNoAccountOnNetwork(t *testing.T) {
	accounts := &fakeAccounts{selectErr: errors.New("none")}
	resolver := request.NewResolver(accounts, nil, "0x1")

	req := resolver.Resolve(context.Background(), &request.Payload{To: kovanContract})
	assert.Contains(t, req.Error, "You do not have an account supporting network 0x2a")
}

func TestResolveRawDataKeepsSelectorAndTriggersLookup(t *testing.T) {
	effects := &recordingEffects{}
	resolver := request.NewResolver(kovanWallet(), effects, "0x1")

	req := resolver.Resolve(context.Background(), &request.Payload{
		To:   kovanContract,
		Data: "0xa9059cbb" + "00000000000000000000000000521965e7bd230323c423d96c657db5b79d099f" + "0000000000000000000000000000000000000000000000000000000000000001",
	})

	require.Empty(t, req.Error)
	assert.Equal(t, "a9059cbb", req.FnSig)
	assert.Equal(t, []string{"a9059cbb"}, effects.lookups)
}

func TestResolveFunctionDescriptorEncodesData(t *testing.T) {
	effects := &recordingEffects{}
	resolver := request.NewResolver(kovanWallet(), effects, "0x1")

	req := resolver.Resolve(context.Background(), &request.Payload{
		To: kovanContract,
		Fn: "transfer(address 0x00521965e7bd230323c423d96c657db5b79d099f, uint 1)",
	})

	require.Empty(t, req.Error)
	require.NotNil(t, req.ABI)
	assert.Equal(t, "transfer", req.ABI.Name)
	assert.Equal(t, "transfer(address,uint)", req.Fn)
	assert.Equal(t, "Transfer", req.FnName)
	// selector of the canonical transfer(address,uint256) signature
	assert.Equal(t, "a9059cbb", hex.EncodeToString(req.Data[:4]))
	assert.Len(t, req.Data, 4+32+32)
	// an explicit descriptor needs no registry lookup
	assert.Empty(t, effects.lookups)
}

func TestResolveExplicitGasFields(t *testing.T) {
	resolver := request.NewResolver(kovanWallet(), nil, "0x1")

	req := resolver.Resolve(context.Background(), &request.Payload{
		To:       kovanContract,
		Gas:      "0x5208",
		GasPrice: "0x4a817c800",
	})

	require.Empty(t, req.Error)
	assert.Equal(t, uint64(21000), req.Gas)
	assert.Equal(t, "20000000000", req.GasPrice.String())
}

func TestResolveLegacyURL(t *testing.T) {
	resolver := request.NewResolver(kovanWallet(), nil, "0x1")

	req := resolver.ResolveLegacy(context.Background(),
		"me.uport:"+kovanContract+"?value=0x3635c9adc5dea00000&client_id=dapp-2&callback_url=https%3A%2F%2Fexample.com%2Fcb")

	require.Empty(t, req.Error)
	assert.Equal(t, kovanAccount, req.Target)
	assert.InDelta(t, 1000.0, req.ValueEth, 1e-9)
	assert.Equal(t, "dapp-2", req.ClientID)
	assert.Equal(t, "https://example.com/cb", req.CallbackURL)
}

func TestResolveLegacyDeploy(t *testing.T) {
	resolver := request.NewResolver(kovanWallet(), nil, "0x1")

	req := resolver.ResolveLegacy(context.Background(), "me.uport:deploy?bytecode=0x6060aabb&net=0x2a")
	require.Empty(t, req.Error)
	assert.Empty(t, req.To)
	assert.Equal(t, []byte{0x60, 0x60, 0xaa, 0xbb}, req.Data)
	assert.Equal(t, "0x2a", req.Network)
}

func TestResolveLegacyDeployWithoutBytecode(t *testing.T) {
	resolver := request.NewResolver(kovanWallet(), nil, "0x1")

	req := resolver.ResolveLegacy(context.Background(), "me.uport:deploy")
	assert.Contains(t, req.Error, "bytecode")
}

func TestResolvePersonalSign(t *testing.T) {
	resolver := request.NewResolver(kovanWallet(), nil, "0x1")

	req := resolver.ResolvePersonalSign(context.Background(), &request.PersonalSignPayload{
		Data: "attest",
		Net:  "0x2a",
	})

	require.Empty(t, req.Error)
	assert.Equal(t, kovanAccount, req.Target)
	assert.Equal(t, []byte("attest"), req.Data)
}

func TestResolvePersonalSignWithoutData(t *testing.T) {
	resolver := request.NewResolver(kovanWallet(), nil, "0x1")
	req := resolver.ResolvePersonalSign(context.Background(), &request.PersonalSignPayload{})
	assert.Contains(t, req.Error, "No data")
}
