package wallet

import (
	"math/big"
	"strings"
	"time"
)

// SignerType selects the signing strategy for an account. The set is closed:
// anything we cannot parse becomes SignerUnknown, which every dispatch site
// handles as its own case (it behaves like the proxy strategy but is never
// silently conflated with it).
type SignerType int

const (
	SignerProxy SignerType = iota
	SignerDevice
	SignerDeviceMeta
	SignerKeyPair
	SignerIdentityManager
	SignerMetaIdentityManager
	SignerUnknown
)

const (
	signerProxyTag               = "proxy"
	signerDeviceTag              = "device"
	signerDeviceMetaTag          = "devicemeta"
	signerKeyPairTag             = "KeyPair"
	signerIdentityManagerTag     = "IdentityManager"
	signerMetaIdentityManagerTag = "MetaIdentityManager"
)

// ParseSignerType maps the wire tag of an account's signer type to its
// variant. Unrecognized tags (including the empty string, which legacy
// accounts carry) map to SignerUnknown.
func ParseSignerType(tag string) SignerType {
	switch tag {
	case signerProxyTag:
		return SignerProxy
	case signerDeviceTag:
		return SignerDevice
	case signerDeviceMetaTag:
		return SignerDeviceMeta
	case signerKeyPairTag:
		return SignerKeyPair
	case signerIdentityManagerTag:
		return SignerIdentityManager
	case signerMetaIdentityManagerTag:
		return SignerMetaIdentityManager
	default:
		return SignerUnknown
	}
}

func (t SignerType) String() string {
	switch t {
	case SignerProxy:
		return signerProxyTag
	case SignerDevice:
		return signerDeviceTag
	case SignerDeviceMeta:
		return signerDeviceMetaTag
	case SignerKeyPair:
		return signerKeyPairTag
	case SignerIdentityManager:
		return signerIdentityManagerTag
	case SignerMetaIdentityManager:
		return signerMetaIdentityManagerTag
	case SignerUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// MetaCapable reports whether the signer type may route through the
// meta-transaction relay. Whether it actually does is decided at dispatch
// time by the feature flag, not here.
func (t SignerType) MetaCapable() bool {
	return t == SignerDeviceMeta || t == SignerMetaIdentityManager
}

// SecurityLevel is the per-account policy controlling whether signing
// requires an explicit user gesture.
type SecurityLevel string

const DefaultSecurityLevel SecurityLevel = "simple"

// AutoPrompt reports whether the level implies a device-level prompt of its
// own, in which case the pipeline skips the in-app approval step.
func (l SecurityLevel) AutoPrompt() bool {
	if l == "" {
		l = DefaultSecurityLevel
	}
	return strings.Contains(string(l), "prompt")
}

// Account is a signing identity known to the wallet.
type Account struct {
	// Address is the public-facing identifier (network-encoded address or
	// DID) the account is referred to by in requests.
	Address string
	// HexAddress is the raw 0x address behind Address.
	HexAddress string
	// DeviceAddress is the device key's address; for proxy-style accounts it
	// differs from HexAddress.
	DeviceAddress string
	// ProxyAddress is the on-chain controller/proxy address for
	// IdentityManager-style accounts.
	ProxyAddress  string
	Network       string
	SignerType    SignerType
	SecurityLevel SecurityLevel
	// ClientID is set for segregated accounts created for one requesting
	// client on one network.
	ClientID string

	// Hierarchical derivation coordinates. Valid only when HD is true;
	// indices are never reused once an address has been derived.
	HD            bool
	IdentityIndex uint32
	AccountIndex  uint32
}

// FunctionCall is a decoded contract-call descriptor.
type FunctionCall struct {
	Name  string   `json:"name"`
	Types []string `json:"types"`
	Args  []string `json:"args"`
}

// Signature renders the canonical "name(type1,type2)" form.
func (f *FunctionCall) Signature() string {
	return f.Name + "(" + strings.Join(f.Types, ",") + ")"
}

// TransactionRequest is the canonical, resolved form of an inbound signing
// request. It is exclusively owned by the pipeline instance processing it
// until it reaches a terminal state.
type TransactionRequest struct {
	ID     string `json:"id"`
	Target string `json:"target,omitempty"` // account that signs
	To     string `json:"to,omitempty"`     // hex destination, empty for deployments

	Value    *big.Int `json:"value,omitempty"` // wei
	ValueEth float64  `json:"valueEth,omitempty"`

	Data   []byte        `json:"data,omitempty"`
	FnSig  string        `json:"fnSig,omitempty"` // 4-byte selector fingerprint, hex without 0x
	Fn     string        `json:"fn,omitempty"`
	FnName string        `json:"fnName,omitempty"` // display form, e.g. "Transfer ownership"
	ABI    *FunctionCall `json:"abi,omitempty"`

	Network  string   `json:"network,omitempty"`
	Gas      uint64   `json:"gas,omitempty"`
	GasPrice *big.Int `json:"gasPrice,omitempty"`

	// Cost fields computed by the gas estimator. Fiat fields stay nil when
	// the spot-price source is unavailable: unknown is not zero.
	GasCostWei  *big.Int `json:"gasCostWei,omitempty"`
	GasCostEth  float64  `json:"gasCost,omitempty"`
	TxCostWei   string   `json:"txCost,omitempty"`
	SpotPrice   *float64 `json:"ethSpotPrice,omitempty"`
	GasCostFiat *float64 `json:"gasCostUSD,omitempty"`
	ValueFiat   *float64 `json:"valueUSD,omitempty"`

	ClientID    string `json:"client_id,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`

	AuthorizedAt *time.Time `json:"authorizedAt,omitempty"`
	MinedAt      *time.Time `json:"minedAt,omitempty"`
	CanceledAt   *time.Time `json:"canceledAt,omitempty"`

	Error       string `json:"error,omitempty"`
	TxHash      string `json:"txhash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	// Status is the on-chain receipt status once mined: 1 means success,
	// anything else is an on-chain revert (user-visible, not a pipeline
	// failure).
	Status *uint64 `json:"status,omitempty"`
}

// Terminal reports whether the request reached a state the pipeline never
// leaves.
func (r *TransactionRequest) Terminal() bool {
	return r.Error != "" || r.CanceledAt != nil || r.MinedAt != nil
}

// RequestPatch is a partial update to a stored request. Only non-nil fields
// are applied; later patches never clear previously set fields.
type RequestPatch struct {
	Target       *string       `json:"target,omitempty"`
	Gas          *uint64       `json:"gas,omitempty"`
	GasPrice     *big.Int      `json:"gasPrice,omitempty"`
	GasCostWei   *big.Int      `json:"gasCostWei,omitempty"`
	GasCostEth   *float64      `json:"gasCost,omitempty"`
	TxCostWei    *string       `json:"txCost,omitempty"`
	SpotPrice    *float64      `json:"ethSpotPrice,omitempty"`
	GasCostFiat  *float64      `json:"gasCostUSD,omitempty"`
	ValueFiat    *float64      `json:"valueUSD,omitempty"`
	Fn           *string       `json:"fn,omitempty"`
	FnName       *string       `json:"fnName,omitempty"`
	ABI          *FunctionCall `json:"abi,omitempty"`
	AuthorizedAt *time.Time    `json:"authorizedAt,omitempty"`
	MinedAt      *time.Time    `json:"minedAt,omitempty"`
	CanceledAt   *time.Time    `json:"canceledAt,omitempty"`
	Error        *string       `json:"error,omitempty"`
	TxHash       *string       `json:"txhash,omitempty"`
	BlockNumber  *uint64       `json:"blockNumber,omitempty"`
	Status       *uint64       `json:"status,omitempty"`
}

// Error tags surfaced to calling applications.
const (
	ErrTagAccessDenied    = "access_denied"
	ErrTagProcessingError = "processing_error"
)

// MsgNotConfirmed is the soft failure set when a broadcast transaction was
// not mined within the confirmation window. Unlike other errors it does not
// make the request terminal for the backlog sweep: the chain may still
// include the transaction later.
const MsgNotConfirmed = "Transaction could not be confirmed"
