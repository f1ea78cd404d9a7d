// Package activity persists the request activity log and the small pieces of
// wallet state that must survive restarts: interaction statistics, the
// connection graph, nonce snapshots and the derivation index ledger.
//
// Updates to stored requests are append-only merges: a partial patch never
// clears fields it does not mention.
package activity

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github/clearid/wallet-engine/internal/wallet"
)

var (
	ErrNotFound = errors.New("activity: request not found")
	// ErrTerminal is returned when a patch would move a canceled or errored
	// request forward, e.g. attach a transaction hash to it.
	ErrTerminal = errors.New("activity: request is terminal")
)

const (
	prefixRequest    = "request:"
	prefixStats      = "stats:"
	prefixConn       = "conn:"
	prefixNonce      = "nonce:"
	prefixMetaNonce  = "metanonce:"
	keyIdentityIdx   = "hdindex:identity"
	prefixAccountIdx = "hdindex:account:"
)

// Store is a badger-backed activity store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store under dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open activity store")
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already opened badger database.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRequest stores the initial resolved form of a request.
func (s *Store) CreateRequest(ctx context.Context, req *wallet.TransactionRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixRequest+req.ID), raw)
	})
	return errors.Wrap(err, "failed to store request")
}

// Request loads a stored request by id.
func (s *Store) Request(ctx context.Context, id string) (*wallet.TransactionRequest, error) {
	var req wallet.TransactionRequest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixRequest + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &req)
		})
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Patch merges a partial update into a stored request and returns the merged
// result. Lifecycle invariants are enforced here so no caller can regress a
// request:
//
//   - a canceled or errored request never acquires a transaction hash
//   - a transaction hash, once set, is never overwritten
//   - a recorded error is never replaced by a later one
//   - mined fields are not applied to a canceled request
func (s *Store) Patch(ctx context.Context, id string, patch wallet.RequestPatch) (*wallet.TransactionRequest, error) {
	var merged *wallet.TransactionRequest
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixRequest + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}

		var req wallet.TransactionRequest
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &req)
		}); err != nil {
			return err
		}

		if err := applyPatch(&req, patch); err != nil {
			return err
		}

		raw, err := json.Marshal(&req)
		if err != nil {
			return err
		}
		merged = &req
		return txn.Set([]byte(prefixRequest+id), raw)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func applyPatch(req *wallet.TransactionRequest, patch wallet.RequestPatch) error {
	if patch.CanceledAt != nil && req.CanceledAt == nil {
		if req.TxHash != "" || req.MinedAt != nil || req.Error != "" {
			return ErrTerminal
		}
	}
	if patch.TxHash != nil {
		if req.Error != "" || req.CanceledAt != nil {
			return ErrTerminal
		}
		if req.TxHash == "" {
			req.TxHash = *patch.TxHash
		}
	}
	if patch.Error != nil && req.Error == "" {
		req.Error = *patch.Error
	}
	if patch.CanceledAt != nil && req.CanceledAt == nil {
		req.CanceledAt = patch.CanceledAt
	}
	if req.CanceledAt == nil {
		if patch.BlockNumber != nil && req.BlockNumber == 0 {
			req.BlockNumber = *patch.BlockNumber
		}
		if patch.Status != nil && req.Status == nil {
			req.Status = patch.Status
		}
		if patch.MinedAt != nil && req.MinedAt == nil {
			req.MinedAt = patch.MinedAt
			// a late confirmation resolves the soft flag
			if req.Error == wallet.MsgNotConfirmed {
				req.Error = ""
			}
		}
	}
	if patch.Target != nil {
		req.Target = *patch.Target
	}
	if patch.Gas != nil {
		req.Gas = *patch.Gas
	}
	if patch.GasPrice != nil {
		req.GasPrice = patch.GasPrice
	}
	if patch.GasCostWei != nil {
		req.GasCostWei = patch.GasCostWei
	}
	if patch.GasCostEth != nil {
		req.GasCostEth = *patch.GasCostEth
	}
	if patch.TxCostWei != nil {
		req.TxCostWei = *patch.TxCostWei
	}
	if patch.SpotPrice != nil {
		req.SpotPrice = patch.SpotPrice
	}
	if patch.GasCostFiat != nil {
		req.GasCostFiat = patch.GasCostFiat
	}
	if patch.ValueFiat != nil {
		req.ValueFiat = patch.ValueFiat
	}
	if patch.Fn != nil {
		req.Fn = *patch.Fn
	}
	if patch.FnName != nil {
		req.FnName = *patch.FnName
	}
	if patch.ABI != nil {
		req.ABI = patch.ABI
	}
	if patch.AuthorizedAt != nil && req.AuthorizedAt == nil {
		req.AuthorizedAt = patch.AuthorizedAt
	}
	return nil
}

// UnconfirmedRequests returns requests that were broadcast but have neither a
// recorded block nor an error. Used by the confirmation backlog sweep.
func (s *Store) UnconfirmedRequests(ctx context.Context) ([]*wallet.TransactionRequest, error) {
	var out []*wallet.TransactionRequest
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRequest)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var req wallet.TransactionRequest
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &req)
			}); err != nil {
				return err
			}
			if req.TxHash != "" && req.BlockNumber == 0 && (req.Error == "" || req.Error == wallet.MsgNotConfirmed) {
				r := req
				out = append(out, &r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan unconfirmed requests")
	}
	return out, nil
}

// RecordInteraction bumps the (account, counterparty, kind) interaction
// counter.
func (s *Store) RecordInteraction(account, counterparty, kind string) {
	key := []byte(prefixStats + account + ":" + kind + ":" + counterparty)
	err := s.db.Update(func(txn *badger.Txn) error {
		var count uint64
		item, err := txn.Get(key)
		if err == nil {
			_ = item.Value(func(val []byte) error {
				if len(val) == 8 {
					count = binary.BigEndian.Uint64(val)
				}
				return nil
			})
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, count+1)
		return txn.Set(key, buf)
	})
	if err != nil {
		log.Warn().Err(err).Str("account", account).Msg("Failed to record interaction")
	}
}

// InteractionCount returns the recorded count for the triple.
func (s *Store) InteractionCount(account, counterparty, kind string) uint64 {
	var count uint64
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixStats + account + ":" + kind + ":" + counterparty))
		if err != nil {
			return nil
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				count = binary.BigEndian.Uint64(val)
			}
			return nil
		})
	})
	return count
}

// StoreConnection records account → value membership in the named bucket
// ("contracts", "apps").
func (s *Store) StoreConnection(account, bucket, value string) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixConn+account+":"+bucket+":"+value), []byte{1})
	})
	if err != nil {
		log.Warn().Err(err).Str("account", account).Str("bucket", bucket).Msg("Failed to store connection")
	}
}

// HasConnection reports whether the connection was recorded.
func (s *Store) HasConnection(account, bucket, value string) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixConn + account + ":" + bucket + ":" + value))
		return err
	})
	return err == nil
}

// SaveNonce snapshots the local nonce cache for an account.
func (s *Store) SaveNonce(account string, nonce uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixNonce+account), buf)
	})
}

// LoadNonce returns the snapshot for account, if any.
func (s *Store) LoadNonce(account string) (uint64, bool) {
	var nonce uint64
	found := false
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixNonce + account))
		if err != nil {
			return nil
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				nonce = binary.BigEndian.Uint64(val)
				found = true
			}
			return nil
		})
	})
	return nonce, found
}

type metaNonceRecord struct {
	Nonce   uint64    `json:"nonce"`
	SavedAt time.Time `json:"savedAt"`
}

// SaveMetaNonce snapshots the meta-transaction nonce lane, stamped so stale
// caches can be detected on restart.
func (s *Store) SaveMetaNonce(account string, nonce uint64, at time.Time) error {
	raw, err := json.Marshal(metaNonceRecord{Nonce: nonce, SavedAt: at})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixMetaNonce+account), raw)
	})
}

// LoadMetaNonce returns the meta-nonce snapshot and its timestamp.
func (s *Store) LoadMetaNonce(account string) (uint64, time.Time, bool) {
	var rec metaNonceRecord
	found := false
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixMetaNonce + account))
		if err != nil {
			return nil
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &rec); err == nil {
				found = true
			}
			return nil
		})
	})
	return rec.Nonce, rec.SavedAt, found
}

// NextIdentityIndex allocates the next identity derivation index. Indices
// only ever increment; the first allocation returns 0.
func (s *Store) NextIdentityIndex() (uint32, error) {
	return s.nextIndex([]byte(keyIdentityIdx), 0)
}

// NextAccountIndex allocates the next sub-account index under an identity.
// Sub-accounts start at 1: index 0 under each identity belongs to the
// identity's own key, which keeps primary and recovery paths from colliding.
func (s *Store) NextAccountIndex(identityIndex uint32) (uint32, error) {
	key := make([]byte, 0, len(prefixAccountIdx)+4)
	key = append(key, prefixAccountIdx...)
	key = binary.BigEndian.AppendUint32(key, identityIndex)
	return s.nextIndex(key, 1)
}

func (s *Store) nextIndex(key []byte, first uint32) (uint32, error) {
	var next uint32
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			next = first
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				if len(val) == 4 {
					next = binary.BigEndian.Uint32(val) + 1
				}
				return nil
			}); err != nil {
				return err
			}
		}
		buf := binary.BigEndian.AppendUint32(nil, next)
		return txn.Set(key, buf)
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to allocate derivation index")
	}
	return next, nil
}
