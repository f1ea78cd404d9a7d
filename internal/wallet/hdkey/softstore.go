package hdkey

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
)

// SoftStore is the software-backed KeyStore. Keys are derived on demand from
// the seed manager; standalone key pairs live only in memory.
type SoftStore struct {
	seeds *SeedManager

	mu         sync.RWMutex
	paths      map[common.Address]Path              // derived address -> path
	standalone map[common.Address]*ecdsa.PrivateKey // non-HD fallback keys
}

func NewSoftStore(seeds *SeedManager) *SoftStore {
	return &SoftStore{
		seeds:      seeds,
		paths:      make(map[common.Address]Path),
		standalone: make(map[common.Address]*ecdsa.PrivateKey),
	}
}

// Derive walks the hardened path under the fixed purpose index. Re-deriving
// the same path always yields the same address.
func (s *SoftStore) Derive(_ context.Context, path Path) (*Derived, error) {
	key, err := s.privateKeyAt(path)
	if err != nil {
		return nil, err
	}
	defer zeroKey(key)

	address := crypto.PubkeyToAddress(key.PublicKey)

	s.mu.Lock()
	s.paths[address] = path
	s.mu.Unlock()

	return &Derived{
		Address:   address,
		PublicKey: crypto.FromECDSAPub(&key.PublicKey),
	}, nil
}

// CreateKeyPair creates an independent key pair unrelated to the seed.
func (s *SoftStore) CreateKeyPair(_ context.Context) (*Derived, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate key pair")
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	s.mu.Lock()
	s.standalone[address] = key
	s.mu.Unlock()

	return &Derived{
		Address:   address,
		PublicKey: crypto.FromECDSAPub(&key.PublicKey),
	}, nil
}

// SignTx signs tx with the key behind address and returns the RLP-encoded
// signed transaction.
func (s *SoftStore) SignTx(ctx context.Context, address common.Address, tx *types.Transaction, chainID *big.Int) ([]byte, error) {
	key, err := s.keyFor(address)
	if err != nil {
		return nil, err
	}
	defer zeroKey(key)

	signer := types.LatestSignerForChainID(chainID)
	signed, err := types.SignTx(tx, signer, key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal signed transaction")
	}
	return raw, nil
}

// PersonalSign signs message with the standard signed-message prefix.
func (s *SoftStore) PersonalSign(ctx context.Context, address common.Address, message []byte) ([]byte, error) {
	key, err := s.keyFor(address)
	if err != nil {
		return nil, err
	}
	defer zeroKey(key)

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	sig, err := crypto.Sign(crypto.Keccak256([]byte(prefixed)), key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign message")
	}
	return sig, nil
}

func (s *SoftStore) keyFor(address common.Address) (*ecdsa.PrivateKey, error) {
	s.mu.RLock()
	if key, ok := s.standalone[address]; ok {
		s.mu.RUnlock()
		// standalone keys are long-lived, hand out a copy so zeroKey in the
		// caller cannot destroy the original
		cp := *key
		cp.D = new(big.Int).Set(key.D)
		return &cp, nil
	}
	path, ok := s.paths[address]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrKeyStoreUnavailable, "unknown address %s", address.Hex())
	}
	return s.privateKeyAt(path)
}

func (s *SoftStore) privateKeyAt(path Path) (*ecdsa.PrivateKey, error) {
	seed := s.seeds.Seed()
	if seed == nil {
		return nil, errors.Wrap(ErrKeyStoreUnavailable, "seed not initialized")
	}

	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	key := master
	for _, index := range []uint32{PurposeIndex, path.Identity, path.Account, uint32(path.Usage)} {
		key, err = key.NewChildKey(bip32.FirstHardenedChild + index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child at index %d", index)
		}
	}

	private, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert derived key")
	}
	return private, nil
}

func zeroKey(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetInt64(0)
	}
}
