package request

import (
	"encoding/hex"
	"math/big"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github/clearid/wallet-engine/internal/wallet"
)

// ParseFunctionCall decodes the wire descriptor "name(type1 arg1, type2
// arg2)" into its structured form.
func ParseFunctionCall(raw string) (*wallet.FunctionCall, error) {
	open := strings.Index(raw, "(")
	if open <= 0 || !strings.HasSuffix(raw, ")") {
		return nil, errors.Errorf("malformed function descriptor %q", raw)
	}
	call := &wallet.FunctionCall{Name: strings.TrimSpace(raw[:open])}

	inner := strings.TrimSpace(raw[open+1 : len(raw)-1])
	if inner == "" {
		return call, nil
	}
	for _, pair := range strings.Split(inner, ",") {
		fields := strings.SplitN(strings.TrimSpace(pair), " ", 2)
		if len(fields) != 2 {
			return nil, errors.Errorf("malformed parameter %q in %q", pair, raw)
		}
		call.Types = append(call.Types, strings.TrimSpace(fields[0]))
		call.Args = append(call.Args, strings.TrimSpace(fields[1]))
	}
	return call, nil
}

// EncodeFunctionCall ABI-encodes the descriptor into call data: the 4-byte
// selector of the canonical signature followed by the packed arguments.
func EncodeFunctionCall(call *wallet.FunctionCall) ([]byte, error) {
	var (
		arguments abi.Arguments
		values    []interface{}
	)
	for i, typeName := range call.Types {
		abiType, err := abi.NewType(normalizeType(typeName), "", nil)
		if err != nil {
			return nil, errors.Wrapf(err, "unsupported parameter type %q", typeName)
		}
		value, err := parseArgument(abiType, call.Args[i])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid argument %q for type %q", call.Args[i], typeName)
		}
		arguments = append(arguments, abi.Argument{Type: abiType})
		values = append(values, value)
	}

	packed, err := arguments.Pack(values...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack arguments")
	}

	signature := call.Name + "(" + strings.Join(normalizeTypes(call.Types), ",") + ")"
	selector := crypto.Keccak256([]byte(signature))[:4]
	return append(selector, packed...), nil
}

// normalizeType maps wire aliases onto canonical ABI type names.
func normalizeType(name string) string {
	switch name {
	case "uint":
		return "uint256"
	case "int":
		return "int256"
	case "byte":
		return "bytes1"
	default:
		return name
	}
}

func normalizeTypes(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = normalizeType(name)
	}
	return out
}

func parseArgument(t abi.Type, raw string) (interface{}, error) {
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return nil, errors.Errorf("not a hex address")
		}
		return common.HexToAddress(raw), nil
	case abi.UintTy, abi.IntTy:
		value, ok := parseBigInt(raw)
		if !ok {
			return nil, errors.Errorf("not an integer")
		}
		return value, nil
	case abi.BoolTy:
		switch raw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, errors.Errorf("not a boolean")
	case abi.StringTy:
		return raw, nil
	case abi.BytesTy:
		return hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	case abi.FixedBytesTy:
		decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, err
		}
		if t.Size != 32 {
			return nil, errors.Errorf("unsupported fixed-bytes width %d", t.Size)
		}
		if len(decoded) != 32 {
			return nil, errors.Errorf("expected 32 bytes, got %d", len(decoded))
		}
		var out [32]byte
		copy(out[:], decoded)
		return out, nil
	default:
		return nil, errors.Errorf("unsupported ABI kind")
	}
}

func parseBigInt(raw string) (*big.Int, bool) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return new(big.Int).SetString(raw[2:], 16)
	}
	return new(big.Int).SetString(raw, 10)
}

// Humanize renders a function name for display: the parameter list is
// dropped and camelCase is split into lower-cased words, first word
// capitalized. "transferOwnership(address)" becomes "Transfer ownership".
func Humanize(signature string) string {
	name := signature
	if i := strings.Index(name, "("); i >= 0 {
		name = name[:i]
	}

	var b strings.Builder
	for i, r := range name {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteByte(' ')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Selector returns the 8-hex-char fingerprint of call data, without prefix.
func Selector(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	return hex.EncodeToString(data[:4])
}
