// Package mnid implements the multi-network identifier address encoding:
// a base58check string carrying a version byte, a variable-length network
// id and a 20-byte account address, checksummed with SHA3-256.
package mnid

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

const (
	version         = 1
	addressLength   = 20
	checksumLength  = 4
	minDecodedBytes = 1 + 1 + addressLength + checksumLength
)

var (
	ErrInvalid         = errors.New("mnid: not a valid encoded address")
	ErrBadChecksum     = errors.New("mnid: checksum mismatch")
	ErrUnknownVersion  = errors.New("mnid: unknown version byte")
	ErrInvalidNetwork  = errors.New("mnid: invalid network id")
	ErrInvalidAddress  = errors.New("mnid: invalid address")
)

// Decoded is the result of taking an encoded identifier apart.
type Decoded struct {
	Network string // hex chain id, e.g. "0x2a"
	Address string // 0x-prefixed 20-byte hex address
}

// Encode packs a network id ("0x2a") and a hex address into the encoded form.
func Encode(network, address string) (string, error) {
	netBytes, err := hexBytes(network)
	if err != nil {
		return "", errors.Wrap(ErrInvalidNetwork, network)
	}
	addrBytes, err := hexBytes(address)
	if err != nil || len(addrBytes) != addressLength {
		return "", errors.Wrap(ErrInvalidAddress, address)
	}

	payload := make([]byte, 0, 1+len(netBytes)+addressLength+checksumLength)
	payload = append(payload, version)
	payload = append(payload, netBytes...)
	payload = append(payload, addrBytes...)
	payload = append(payload, checksum(payload[:1+len(netBytes)+addressLength])...)

	return base58.Encode(payload), nil
}

// Decode unpacks an encoded identifier, verifying version and checksum.
func Decode(encoded string) (*Decoded, error) {
	data := base58.Decode(encoded)
	if len(data) < minDecodedBytes {
		return nil, ErrInvalid
	}
	if data[0] != version {
		return nil, ErrUnknownVersion
	}

	body := data[:len(data)-checksumLength]
	if !bytes.Equal(checksum(body), data[len(data)-checksumLength:]) {
		return nil, ErrBadChecksum
	}

	netBytes := body[1 : len(body)-addressLength]
	addrBytes := body[len(body)-addressLength:]

	return &Decoded{
		Network: "0x" + trimHex(hex.EncodeToString(netBytes)),
		Address: "0x" + hex.EncodeToString(addrBytes),
	}, nil
}

// IsMNID reports whether s decodes cleanly. Plain 0x addresses and DIDs
// return false.
func IsMNID(s string) bool {
	if strings.HasPrefix(s, "0x") || strings.Contains(s, ":") {
		return false
	}
	_, err := Decode(s)
	return err == nil
}

func checksum(payload []byte) []byte {
	h := sha3.New256()
	h.Write(payload)
	return h.Sum(nil)[:checksumLength]
}

func hexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// trimHex drops leading zero nibbles so "0x01" round-trips as "0x1",
// matching the wire convention for network ids.
func trimHex(s string) string {
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
