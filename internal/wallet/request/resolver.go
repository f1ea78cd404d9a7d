// Package request normalizes inbound signing payloads into canonical
// transaction requests and resolves which account signs them.
package request

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github/clearid/wallet-engine/internal/util"
	"github/clearid/wallet-engine/internal/wallet"
	"github/clearid/wallet-engine/internal/wallet/gas"
	"github/clearid/wallet-engine/internal/wallet/mnid"
)

// Payload is the inbound wire shape of a transaction request.
type Payload struct {
	ID          string `json:"id,omitempty"`
	To          string `json:"to"`
	From        string `json:"from,omitempty"`
	Value       string `json:"value,omitempty"` // hex wei
	Data        string `json:"data,omitempty"`  // hex
	Fn          string `json:"fn,omitempty"`    // "name(type arg, ...)"
	Net         string `json:"net,omitempty"`
	Gas         string `json:"gas,omitempty"`      // hex
	GasPrice    string `json:"gasPrice,omitempty"` // hex
	Iss         string `json:"iss,omitempty"`      // requesting client
	CallbackURL string `json:"callback_url,omitempty"`
}

// PersonalSignPayload carries a message-signing intent.
type PersonalSignPayload struct {
	ID          string `json:"id,omitempty"`
	From        string `json:"from,omitempty"`
	Data        string `json:"data"` // hex or plain text
	Net         string `json:"net,omitempty"`
	Iss         string `json:"iss,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// Accounts is the account-lookup slice the resolver needs.
type Accounts interface {
	ByAddress(address string) (*wallet.Account, bool)
	Select(clientID, network string) (*wallet.Account, error)
}

// Effects receives the fire-and-forget side effects of a successful
// resolution. Calls happen on the resolving goroutine; implementations
// detach their own background work and must not block.
type Effects interface {
	RecordInteraction(account, counterparty string)
	RefreshClientProfile(clientID string)
	EstimateCost(req *wallet.TransactionRequest)
	LookupFunctionName(req *wallet.TransactionRequest)
}

// Resolver turns wire payloads into canonical requests. Resolution failures
// are recorded on the returned request, never returned as errors.
type Resolver struct {
	accounts       Accounts
	effects        Effects
	defaultNetwork string
}

func NewResolver(accounts Accounts, effects Effects, defaultNetwork string) *Resolver {
	return &Resolver{
		accounts:       accounts,
		effects:        effects,
		defaultNetwork: defaultNetwork,
	}
}

// Resolve normalizes a payload. The returned request either has a Target and
// is ready for the pipeline, or carries a resolution error in its Error
// field.
func (r *Resolver) Resolve(ctx context.Context, payload *Payload) *wallet.TransactionRequest {
	req := &wallet.TransactionRequest{
		ID:          payload.ID,
		ClientID:    payload.Iss,
		CallbackURL: payload.CallbackURL,
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := util.LogFromContext(ctx).With().Str("request_id", req.ID).Logger()

	network, toHex, failure := r.resolveDestination(payload.To, payload.Net)
	if failure != "" {
		return r.flag(req, failure)
	}
	req.Network = network
	req.To = toHex

	account, failure := r.resolveAccount(payload.From, payload.Iss, network)
	if failure != "" {
		return r.flag(req, failure)
	}
	req.Target = account.Address

	if payload.Value != "" {
		value, ok := parseBigInt(payload.Value)
		if !ok {
			return r.flag(req, fmt.Sprintf("Invalid value %s", payload.Value))
		}
		req.Value = value
		req.ValueEth = gas.WeiToEth(value)
	}

	if failure := r.resolveCall(req, payload.Fn, payload.Data); failure != "" {
		return r.flag(req, failure)
	}

	if payload.Gas != "" {
		limit, err := parseHexUint(payload.Gas)
		if err != nil {
			return r.flag(req, fmt.Sprintf("Invalid gas %s", payload.Gas))
		}
		req.Gas = limit
	}
	if payload.GasPrice != "" {
		price, ok := parseBigInt(payload.GasPrice)
		if !ok {
			return r.flag(req, fmt.Sprintf("Invalid gasPrice %s", payload.GasPrice))
		}
		req.GasPrice = price
	}

	log.Debug().Str("account", account.Address).Str("network", network).Msg("Request resolved")
	r.spawnEffects(req, account)
	return req
}

// ResolvePersonalSign normalizes a message-signing payload using the same
// account-resolution rule as transactions.
func (r *Resolver) ResolvePersonalSign(ctx context.Context, payload *PersonalSignPayload) *wallet.TransactionRequest {
	req := &wallet.TransactionRequest{
		ID:          payload.ID,
		ClientID:    payload.Iss,
		CallbackURL: payload.CallbackURL,
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if payload.Data == "" {
		return r.flag(req, "No data to sign")
	}
	if decoded, err := hex.DecodeString(strings.TrimPrefix(payload.Data, "0x")); err == nil && strings.HasPrefix(payload.Data, "0x") {
		req.Data = decoded
	} else {
		req.Data = []byte(payload.Data)
	}

	network := payload.Net
	if network == "" {
		network = r.defaultNetwork
	}
	req.Network = network

	account, failure := r.resolveAccount(payload.From, payload.Iss, network)
	if failure != "" {
		return r.flag(req, failure)
	}
	req.Target = account.Address

	if r.effects != nil && payload.Iss != "" {
		r.effects.RefreshClientProfile(payload.Iss)
	}
	return req
}

// resolveDestination decodes the to field. A network embedded in the address
// wins, but an explicitly requested network must agree with it.
func (r *Resolver) resolveDestination(to, net string) (network, toHex, failure string) {
	switch {
	case to == "":
		// deployments carry no destination
		network = net
		if network == "" {
			network = r.defaultNetwork
		}
		return network, "", ""
	case mnid.IsMNID(to):
		decoded, err := mnid.Decode(to)
		if err != nil {
			return "", "", fmt.Sprintf("Invalid address %s", to)
		}
		if net != "" && net != decoded.Network {
			return "", "", fmt.Sprintf("Network mismatch: requested %s but address %s encodes network %s", net, to, decoded.Network)
		}
		return decoded.Network, decoded.Address, ""
	case strings.HasPrefix(to, "0x"):
		network = net
		if network == "" {
			network = r.defaultNetwork
		}
		return network, to, ""
	default:
		return "", "", fmt.Sprintf("Invalid address %s", to)
	}
}

// resolveAccount applies the sender precedence rule: explicit from, then the
// client's segregated account, then the current account, then the first on
// the network.
func (r *Resolver) resolveAccount(from, clientID, network string) (*wallet.Account, string) {
	if from != "" {
		if mnid.IsMNID(from) {
			decoded, err := mnid.Decode(from)
			if err != nil {
				return nil, fmt.Sprintf("Invalid from address %s", from)
			}
			if decoded.Network != network {
				return nil, fmt.Sprintf("Network mismatch: from address %s encodes network %s, request targets %s", from, decoded.Network, network)
			}
		}
		account, ok := r.accounts.ByAddress(from)
		if !ok {
			return nil, fmt.Sprintf("The provided from account (%s) does not exist in your wallet", from)
		}
		if account.Network != network {
			return nil, fmt.Sprintf("The provided from account (%s) is not on network %s", from, network)
		}
		return account, ""
	}

	account, err := r.accounts.Select(clientID, network)
	if err != nil {
		return nil, fmt.Sprintf("You do not have an account supporting network %s", network)
	}
	return account, ""
}

// resolveCall populates call data from either an explicit descriptor or raw
// bytes, retaining the 4-byte fingerprint when only bytes arrive.
func (r *Resolver) resolveCall(req *wallet.TransactionRequest, fn, data string) string {
	if fn != "" {
		call, err := ParseFunctionCall(fn)
		if err != nil {
			return fmt.Sprintf("Invalid function call %s", fn)
		}
		encoded, err := EncodeFunctionCall(call)
		if err != nil {
			return fmt.Sprintf("Could not encode function call %s", fn)
		}
		req.ABI = call
		req.Fn = call.Signature()
		req.FnName = Humanize(call.Name)
		req.Data = encoded
		req.FnSig = Selector(encoded)
		return ""
	}
	if data != "" {
		decoded, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
		if err != nil {
			return fmt.Sprintf("Invalid call data %s", data)
		}
		req.Data = decoded
		req.FnSig = Selector(decoded)
	}
	return ""
}

// spawnEffects fires the post-resolution side effects. Never called for
// error-flagged requests.
func (r *Resolver) spawnEffects(req *wallet.TransactionRequest, account *wallet.Account) {
	if r.effects == nil {
		return
	}
	if req.To != "" {
		r.effects.RecordInteraction(account.Address, req.To)
	}
	if req.ClientID != "" {
		r.effects.RefreshClientProfile(req.ClientID)
	}
	r.effects.EstimateCost(req)
	if req.ABI == nil && req.FnSig != "" {
		r.effects.LookupFunctionName(req)
	}
}

func (r *Resolver) flag(req *wallet.TransactionRequest, message string) *wallet.TransactionRequest {
	req.Error = message
	return req
}

func parseHexUint(raw string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	value, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid hex quantity %q", raw)
	}
	return value, nil
}
