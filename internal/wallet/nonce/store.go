// Package nonce resolves transaction sequence numbers per account.
//
// Two lanes exist: the local-authoritative chain nonce, advanced only after
// a successful broadcast, and the meta nonce, a parallel counter scoped to
// the relay service and advanced only on successful relay submission.
//
// The local lane is deliberately not safe against two requests signing
// concurrently for the same account: advancing after broadcast (rather than
// after signing) avoids nonce gaps from failed broadcasts, at the cost of a
// possible collision. Callers that cannot tolerate collisions must serialize
// signing per account.
package nonce

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNonceUnavailable means the nonce could not be resolved; the pipeline
// must not proceed to signing.
var ErrNonceUnavailable = errors.New("nonce: resolution unavailable")

// ChainReader queries the on-chain pending nonce.
type ChainReader interface {
	NonceAt(ctx context.Context, address string) (uint64, error)
}

// MetaSource queries the relay service's nonce lane.
type MetaSource interface {
	MetaNonce(ctx context.Context, address string) (uint64, error)
}

// Snapshots persists nonce state across restarts.
type Snapshots interface {
	SaveNonce(account string, nonce uint64) error
	LoadNonce(account string) (uint64, bool)
	SaveMetaNonce(account string, nonce uint64, at time.Time) error
	LoadMetaNonce(account string) (uint64, time.Time, bool)
}

// MetaStaleAfter bounds how long a persisted meta nonce is trusted before
// being re-queried from the relay.
const MetaStaleAfter = 24 * time.Hour

type metaEntry struct {
	nonce   uint64
	savedAt time.Time
}

// Store is the account-keyed nonce store owned by the pipeline's execution
// context.
type Store struct {
	mu    sync.Mutex
	local map[string]uint64
	meta  map[string]metaEntry

	chain      ChainReader
	metaSource MetaSource
	snapshots  Snapshots
	now        func() time.Time
}

func NewStore(chain ChainReader, metaSource MetaSource, snapshots Snapshots) *Store {
	return &Store{
		local:      make(map[string]uint64),
		meta:       make(map[string]metaEntry),
		chain:      chain,
		metaSource: metaSource,
		snapshots:  snapshots,
		now:        time.Now,
	}
}

// ResolveLocal returns the next chain nonce for the account: the cached value
// if one exists, otherwise the persisted snapshot, otherwise a fresh chain
// query for hexAddress.
func (s *Store) ResolveLocal(ctx context.Context, account, hexAddress string) (uint64, error) {
	s.mu.Lock()
	if nonce, ok := s.local[account]; ok {
		s.mu.Unlock()
		return nonce, nil
	}
	if s.snapshots != nil {
		if nonce, ok := s.snapshots.LoadNonce(account); ok {
			s.local[account] = nonce
			s.mu.Unlock()
			return nonce, nil
		}
	}
	s.mu.Unlock()

	nonce, err := s.chain.NonceAt(ctx, hexAddress)
	if err != nil {
		return 0, errors.Wrap(ErrNonceUnavailable, err.Error())
	}

	s.mu.Lock()
	s.local[account] = nonce
	s.mu.Unlock()
	return nonce, nil
}

// AdvanceLocal increments the local lane by exactly one. Called only after a
// successful broadcast.
func (s *Store) AdvanceLocal(account string) {
	s.mu.Lock()
	next := s.local[account] + 1
	s.local[account] = next
	s.mu.Unlock()

	if s.snapshots != nil {
		if err := s.snapshots.SaveNonce(account, next); err != nil {
			log.Warn().Err(err).Str("account", account).Msg("Failed to persist nonce snapshot")
		}
	}
}

// ResolveMeta returns the next relay nonce. Cached and persisted values are
// trusted only within MetaStaleAfter of their stamp; anything older is
// re-queried from the relay.
func (s *Store) ResolveMeta(ctx context.Context, account string) (uint64, error) {
	now := s.now()

	s.mu.Lock()
	if entry, ok := s.meta[account]; ok && now.Sub(entry.savedAt) < MetaStaleAfter {
		s.mu.Unlock()
		return entry.nonce, nil
	}
	if s.snapshots != nil {
		if nonce, at, ok := s.snapshots.LoadMetaNonce(account); ok && now.Sub(at) < MetaStaleAfter {
			s.meta[account] = metaEntry{nonce: nonce, savedAt: at}
			s.mu.Unlock()
			return nonce, nil
		}
	}
	s.mu.Unlock()

	if s.metaSource == nil {
		return 0, errors.Wrap(ErrNonceUnavailable, "no meta nonce source configured")
	}
	nonce, err := s.metaSource.MetaNonce(ctx, account)
	if err != nil {
		return 0, errors.Wrap(ErrNonceUnavailable, err.Error())
	}

	s.mu.Lock()
	s.meta[account] = metaEntry{nonce: nonce, savedAt: now}
	s.mu.Unlock()
	return nonce, nil
}

// AdvanceMeta increments the meta lane by exactly one and stamps it with the
// current time. Called only after a successful relay submission.
func (s *Store) AdvanceMeta(account string) {
	now := s.now()

	s.mu.Lock()
	next := s.meta[account].nonce + 1
	s.meta[account] = metaEntry{nonce: next, savedAt: now}
	s.mu.Unlock()

	if s.snapshots != nil {
		if err := s.snapshots.SaveMetaNonce(account, next, now); err != nil {
			log.Warn().Err(err).Str("account", account).Msg("Failed to persist meta nonce snapshot")
		}
	}
}

// Local returns the cached local nonce, primarily for tests and diagnostics.
func (s *Store) Local(account string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce, ok := s.local[account]
	return nonce, ok
}
