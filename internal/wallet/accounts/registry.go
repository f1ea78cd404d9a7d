// Package accounts tracks the signing identities known to the wallet and
// picks the account a request should be charged to.
package accounts

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github/clearid/wallet-engine/internal/wallet"
)

// ErrNoAccount means no known account can serve the requested network.
var ErrNoAccount = errors.New("accounts: no account supporting network")

type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*wallet.Account // keyed by Address
	order    []string                   // insertion order, for stable fallback
	current  string
}

func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]*wallet.Account)}
}

// Add registers an account. Re-adding an existing address replaces it in
// place without changing its position.
func (r *Registry) Add(acct *wallet.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[acct.Address]; !ok {
		r.order = append(r.order, acct.Address)
	}
	r.accounts[acct.Address] = acct
}

// SetCurrent marks the account the user is operating as.
func (r *Registry) SetCurrent(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[address]; !ok {
		return errors.Errorf("account %s does not exist in your wallet", address)
	}
	r.current = address
	return nil
}

// Current returns the active account, or nil when none is set.
func (r *Registry) Current() *wallet.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accounts[r.current]
}

// ByAddress looks an account up by its public identifier.
func (r *Registry) ByAddress(address string) (*wallet.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[address]
	return acct, ok
}

// ForNetwork returns all accounts on the given network in registration order.
func (r *Registry) ForNetwork(network string) []*wallet.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*wallet.Account
	for _, address := range r.order {
		if acct := r.accounts[address]; acct.Network == network {
			out = append(out, acct)
		}
	}
	return out
}

// ForClientAndNetwork returns the segregated account created for one
// requesting client on one network, if any.
func (r *Registry) ForClientAndNetwork(clientID, network string) (*wallet.Account, bool) {
	if clientID == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, address := range r.order {
		acct := r.accounts[address]
		if acct.ClientID == clientID && acct.Network == network {
			return acct, true
		}
	}
	return nil, false
}

// Select picks the account for a request that names no sender. Precedence:
// the client's segregated account, then the current account when it is on
// the right network, then the first account on the network.
func (r *Registry) Select(clientID, network string) (*wallet.Account, error) {
	if acct, ok := r.ForClientAndNetwork(clientID, network); ok {
		return acct, nil
	}
	if current := r.Current(); current != nil && current.Network == network {
		return current, nil
	}
	if onNetwork := r.ForNetwork(network); len(onNetwork) > 0 {
		return onNetwork[0], nil
	}
	return nil, errors.Wrapf(ErrNoAccount, "You do not have an account supporting network %s", network)
}

// All returns every account sorted by address, for diagnostics.
func (r *Registry) All() []*wallet.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*wallet.Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
