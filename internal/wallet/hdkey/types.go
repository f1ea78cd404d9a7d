package hdkey

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// PurposeIndex is the fixed purpose constant at the root of every
// hierarchical derivation path.
const PurposeIndex uint32 = 7696500

// Usage partitions the path space under an (identity, account) pair.
type Usage uint32

const (
	// UsageSigning is the primary signing key.
	UsageSigning Usage = iota
	// UsageRecovery is the recovery key.
	UsageRecovery
	// UsageEncryption is the asymmetric encryption key.
	UsageEncryption
	// UsageEncryptionAlt is the alternate-scheme encryption key.
	UsageEncryptionAlt
)

// Path addresses one key in the hierarchy. All four components are derived
// hardened.
type Path struct {
	Identity uint32
	Account  uint32
	Usage    Usage
}

func (p Path) String() string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d'", PurposeIndex, p.Identity, p.Account, p.Usage)
}

// Derived is the public result of a derivation.
type Derived struct {
	Address   common.Address
	PublicKey []byte // uncompressed, 0x04-prefixed
}

// ErrKeyStoreUnavailable is returned when the backing key store cannot serve
// the request (no seed, hardware locked, unknown address).
var ErrKeyStoreUnavailable = errors.New("hdkey: key store unavailable")

// KeyStore abstracts over hardware-backed and software-backed key storage.
// Derivation is deterministic: the same path always yields the same result.
type KeyStore interface {
	// Derive returns the address and public key at path.
	Derive(ctx context.Context, path Path) (*Derived, error)

	// CreateKeyPair creates an independent key pair with no relation to the
	// seed, for legacy standalone accounts.
	CreateKeyPair(ctx context.Context) (*Derived, error)

	// SignTx signs tx with the key behind address and returns the serialized
	// signed transaction.
	SignTx(ctx context.Context, address common.Address, tx *types.Transaction, chainID *big.Int) ([]byte, error)

	// PersonalSign signs an arbitrary message with the standard personal
	// message prefix.
	PersonalSign(ctx context.Context, address common.Address, message []byte) ([]byte, error)
}
