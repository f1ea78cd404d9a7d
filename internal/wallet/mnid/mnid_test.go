package mnid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/clearid/wallet-engine/internal/wallet/mnid"
)

func TestDecodeKnownAddresses(t *testing.T) {
	tests := []struct {
		encoded string
		network string
		address string
	}{
		{
			encoded: "2nQtiQG6Cgm1GYTBaaKAgr76uY7iSexUkqX",
			network: "0x1",
			address: "0x00521965e7bd230323c423d96c657db5b79d099f",
		},
		{
			encoded: "35A7s7LGbDxdsFpYYggjFjcbBHom79zfciS",
			network: "0x2a",
			address: "0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6a",
		},
		{
			encoded: "35A7s7LGbDxdsFpYYggjFjcbBHom7CGdgaL",
			network: "0x2a",
			address: "0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6b",
		},
	}

	for _, tt := range tests {
		decoded, err := mnid.Decode(tt.encoded)
		require.NoError(t, err, tt.encoded)
		assert.Equal(t, tt.network, decoded.Network)
		assert.Equal(t, tt.address, decoded.Address)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	encoded, err := mnid.Encode("0x2a", "0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6a")
	require.NoError(t, err)
	assert.Equal(t, "35A7s7LGbDxdsFpYYggjFjcbBHom79zfciS", encoded)

	decoded, err := mnid.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "0x2a", decoded.Network)
	assert.Equal(t, "0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6a", decoded.Address)
}

func TestIsMNID(t *testing.T) {
	assert.True(t, mnid.IsMNID("35A7s7LGbDxdsFpYYggjFjcbBHom79zfciS"))
	assert.False(t, mnid.IsMNID("0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6a"))
	assert.False(t, mnid.IsMNID("did:ethr:0x9df0e9759b17f34e9123adbe6d3f25d54b72ad60"))
	assert.False(t, mnid.IsMNID("not base58 at all!!"))
}

func TestDecodeRejectsCorruptedChecksum(t *testing.T) {
	_, err := mnid.Decode("35A7s7LGbDxdsFpYYggjFjcbBHom79zfciT")
	assert.Error(t, err)
}
