package hdkey

import (
	"context"

	"github.com/pkg/errors"
)

// IndexLedger allocates derivation indices. Allocations are monotonic:
// an index is never handed out twice, even across restarts.
type IndexLedger interface {
	NextIdentityIndex() (uint32, error)
	NextAccountIndex(identityIndex uint32) (uint32, error)
}

// Identity is a newly derived identity or sub-account key.
type Identity struct {
	Derived
	IdentityIndex uint32
	AccountIndex  uint32
}

// Service allocates fresh derivation coordinates and derives keys through
// the key store.
type Service struct {
	keys   KeyStore
	ledger IndexLedger
}

func NewService(keys KeyStore, ledger IndexLedger) *Service {
	return &Service{keys: keys, ledger: ledger}
}

// CreateIdentity allocates the next unused identity index and derives its
// primary signing key.
func (s *Service) CreateIdentity(ctx context.Context) (*Identity, error) {
	idx, err := s.ledger.NextIdentityIndex()
	if err != nil {
		return nil, err
	}
	derived, err := s.keys.Derive(ctx, Path{Identity: idx, Account: 0, Usage: UsageSigning})
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive identity key")
	}
	return &Identity{Derived: *derived, IdentityIndex: idx, AccountIndex: 0}, nil
}

// CreateSubAccount allocates the next unused account index under an identity
// and derives its signing key. Sub-account indices start at 1, keeping them
// clear of the identity's own key at index 0.
func (s *Service) CreateSubAccount(ctx context.Context, identityIndex uint32) (*Identity, error) {
	idx, err := s.ledger.NextAccountIndex(identityIndex)
	if err != nil {
		return nil, err
	}
	derived, err := s.keys.Derive(ctx, Path{Identity: identityIndex, Account: idx, Usage: UsageSigning})
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive sub-account key")
	}
	return &Identity{Derived: *derived, IdentityIndex: identityIndex, AccountIndex: idx}, nil
}

// RecoveryAddress derives the recovery key for existing coordinates.
func (s *Service) RecoveryAddress(ctx context.Context, identityIndex, accountIndex uint32) (*Derived, error) {
	return s.keys.Derive(ctx, Path{Identity: identityIndex, Account: accountIndex, Usage: UsageRecovery})
}

// EncryptionKey derives one of the two encryption keys for existing
// coordinates.
func (s *Service) EncryptionKey(ctx context.Context, identityIndex, accountIndex uint32, alt bool) (*Derived, error) {
	usage := UsageEncryption
	if alt {
		usage = UsageEncryptionAlt
	}
	return s.keys.Derive(ctx, Path{Identity: identityIndex, Account: accountIndex, Usage: usage})
}

// CreateStandalone creates a key pair with no relation to the seed, for
// legacy standalone accounts.
func (s *Service) CreateStandalone(ctx context.Context) (*Derived, error) {
	return s.keys.CreateKeyPair(ctx)
}
