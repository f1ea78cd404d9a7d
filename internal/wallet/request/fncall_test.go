package request_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/clearid/wallet-engine/internal/wallet"
	"github/clearid/wallet-engine/internal/wallet/request"
)

func TestParseFunctionCall(t *testing.T) {
	call, err := request.ParseFunctionCall("register(bytes32 0x" + "ab" + repeatHex("00", 31) + ", bool true)")
	require.NoError(t, err)
	assert.Equal(t, "register", call.Name)
	assert.Equal(t, []string{"bytes32", "bool"}, call.Types)
	assert.Equal(t, "true", call.Args[1])
}

func TestParseFunctionCallNoArguments(t *testing.T) {
	call, err := request.ParseFunctionCall("withdraw()")
	require.NoError(t, err)
	assert.Equal(t, "withdraw", call.Name)
	assert.Empty(t, call.Types)
}

func TestParseFunctionCallMalformed(t *testing.T) {
	for _, raw := range []string{"", "transfer", "transfer(", "(address 0x1)", "transfer(address)"} {
		_, err := request.ParseFunctionCall(raw)
		assert.Error(t, err, raw)
	}
}

func TestEncodeFunctionCallStableAcrossCycles(t *testing.T) {
	call := &wallet.FunctionCall{
		Name:  "transfer",
		Types: []string{"address", "uint"},
		Args:  []string{"0x00521965e7bd230323c423d96c657db5b79d099f", "1000"},
	}

	first, err := request.EncodeFunctionCall(call)
	require.NoError(t, err)
	second, err := request.EncodeFunctionCall(call)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "a9059cbb", request.Selector(first))
}

func TestEncodeFunctionCallRejectsBadArgument(t *testing.T) {
	call := &wallet.FunctionCall{Name: "transfer", Types: []string{"address"}, Args: []string{"not-an-address"}}
	_, err := request.EncodeFunctionCall(call)
	assert.Error(t, err)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Transfer", request.Humanize("transfer(address,uint256)"))
	assert.Equal(t, "Transfer ownership", request.Humanize("transferOwnership"))
	assert.Equal(t, "Register name hash", request.Humanize("registerNameHash(bytes32,address)"))
	assert.Equal(t, "", request.Humanize(""))
}

func TestSelectorTooShort(t *testing.T) {
	assert.Empty(t, request.Selector([]byte{0x01, 0x02}))
}

func repeatHex(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	_, err := hex.DecodeString(string(out))
	if err != nil {
		panic(err)
	}
	return string(out)
}
