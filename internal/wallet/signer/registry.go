// Package signer dispatches signing to the key matching an account's signer
// type and decides whether the result routes through the meta-transaction
// relay.
package signer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github/clearid/wallet-engine/internal/wallet"
)

// FeatureFlags gates relay routing. Read at dispatch time so a flag flip
// takes effect for requests already resolved but not yet signed.
type FeatureFlags interface {
	MetaTxEnabled() bool
}

// KeySource signs transactions and messages with a key identified by its
// derived address. hdkey.KeyStore implementations satisfy it.
type KeySource interface {
	SignTx(ctx context.Context, address common.Address, tx *types.Transaction, chainID *big.Int) ([]byte, error)
	PersonalSign(ctx context.Context, address common.Address, message []byte) ([]byte, error)
}

// Result is a signed transaction plus its routing decision.
type Result struct {
	// Raw is the RLP-encoded signed transaction.
	Raw []byte
	// Meta routes the payload through the relay instead of a direct
	// broadcast.
	Meta bool
}

type Registry struct {
	keys  KeySource
	flags FeatureFlags
}

func NewRegistry(keys KeySource, flags FeatureFlags) *Registry {
	return &Registry{keys: keys, flags: flags}
}

// FromAddress returns the address whose nonce and balance govern the
// transaction for the given account.
func (r *Registry) FromAddress(acct *wallet.Account) (string, error) {
	switch acct.SignerType {
	case wallet.SignerDevice, wallet.SignerDeviceMeta:
		if acct.DeviceAddress == "" {
			return "", errors.Errorf("account %s has no device address", acct.Address)
		}
		return acct.DeviceAddress, nil
	case wallet.SignerKeyPair:
		if acct.HexAddress == "" {
			return "", errors.Errorf("account %s has no key pair address", acct.Address)
		}
		return acct.HexAddress, nil
	case wallet.SignerProxy, wallet.SignerIdentityManager, wallet.SignerMetaIdentityManager:
		if acct.ProxyAddress == "" {
			return "", errors.Errorf("account %s has no proxy address", acct.Address)
		}
		return acct.ProxyAddress, nil
	case wallet.SignerUnknown:
		// Legacy accounts with no recorded signer type behave like proxy
		// accounts, but stay a distinct case so the distinction is auditable.
		if acct.ProxyAddress == "" {
			return "", errors.Errorf("account %s has unknown signer type and no proxy address", acct.Address)
		}
		return acct.ProxyAddress, nil
	default:
		return "", errors.Errorf("unsupported signer type %q", acct.SignerType)
	}
}

// signingAddress is the key that actually produces the signature. Proxy-style
// accounts are controlled by their device key.
func (r *Registry) signingAddress(acct *wallet.Account) (string, error) {
	switch acct.SignerType {
	case wallet.SignerKeyPair:
		return acct.HexAddress, nil
	case wallet.SignerDevice, wallet.SignerDeviceMeta,
		wallet.SignerProxy, wallet.SignerIdentityManager,
		wallet.SignerMetaIdentityManager, wallet.SignerUnknown:
		if acct.DeviceAddress == "" {
			return "", errors.Errorf("account %s has no device key", acct.Address)
		}
		return acct.DeviceAddress, nil
	default:
		return "", errors.Errorf("unsupported signer type %q", acct.SignerType)
	}
}

// RoutesMeta reports whether transactions for acct go through the relay.
// Relay routing applies only to meta-capable signer types and only while
// the feature flag is on. Read at dispatch time so a flag flip takes effect
// for requests already resolved but not yet signed; callers must check it
// before choosing the transaction nonce, since relayed payloads carry the
// relay nonce.
func (r *Registry) RoutesMeta(acct *wallet.Account) bool {
	return acct.SignerType.MetaCapable() && r.flags != nil && r.flags.MetaTxEnabled()
}

// Sign produces the signed payload for tx and records its route.
func (r *Registry) Sign(ctx context.Context, acct *wallet.Account, tx *types.Transaction, chainID *big.Int) (*Result, error) {
	address, err := r.signingAddress(acct)
	if err != nil {
		return nil, err
	}

	raw, err := r.keys.SignTx(ctx, common.HexToAddress(address), tx, chainID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to sign with %s key", acct.SignerType)
	}

	return &Result{Raw: raw, Meta: r.RoutesMeta(acct)}, nil
}

// PersonalSign signs an arbitrary message with the account's signing key
// using the standard message prefix.
func (r *Registry) PersonalSign(ctx context.Context, acct *wallet.Account, message []byte) ([]byte, error) {
	address, err := r.signingAddress(acct)
	if err != nil {
		return nil, err
	}
	sig, err := r.keys.PersonalSign(ctx, common.HexToAddress(address), message)
	if err != nil {
		return nil, errors.Wrap(err, "personal sign failed")
	}
	return sig, nil
}
