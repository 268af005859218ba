package contracts

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// CoerceArgs converts command-line strings into the Go values go-ethereum's
// ABI packer expects for method's inputs.
func CoerceArgs(method abi.Method, raw []string) ([]any, error) {
	if len(raw) != len(method.Inputs) {
		return nil, fmt.Errorf("%s takes %d argument(s), got %d", method.Sig, len(method.Inputs), len(raw))
	}
	out := make([]any, len(raw))
	for i, in := range method.Inputs {
		v, err := coerce(in.Type, raw[i])
		if err != nil {
			return nil, fmt.Errorf("%s arg %d (%s %s): %w", method.Name, i, in.Type.String(), in.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func coerce(t abi.Type, s string) (any, error) {
	s = strings.TrimSpace(s)
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.BytesTy:
		return decodeHex(s)
	case abi.FixedBytesTy:
		b, err := decodeHex(s)
		if err != nil {
			return nil, err
		}
		if t.Size != 32 || len(b) != 32 {
			return nil, fmt.Errorf("only bytes32 is supported, got %d bytes for bytes%d", len(b), t.Size)
		}
		var out [32]byte
		copy(out[:], b)
		return out, nil
	case abi.UintTy:
		return coerceInt(t.Size, false, s)
	case abi.IntTy:
		return coerceInt(t.Size, true, s)
	default:
		return nil, fmt.Errorf("unsupported argument type %s", t.String())
	}
}

func coerceInt(size int, signed bool, s string) (any, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if !signed && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value %q for unsigned type", s)
	}
	// go-ethereum packs only the 8/16/32/64-bit widths from native Go ints.
	switch size {
	case 8, 16, 32, 64:
	default:
		return n, nil
	}
	if signed {
		if !n.IsInt64() {
			return nil, fmt.Errorf("%q overflows int%d", s, size)
		}
		v := n.Int64()
		switch size {
		case 8:
			return int8(v), checkRange(v == int64(int8(v)), s, size)
		case 16:
			return int16(v), checkRange(v == int64(int16(v)), s, size)
		case 32:
			return int32(v), checkRange(v == int64(int32(v)), s, size)
		default:
			return v, nil
		}
	}
	if !n.IsUint64() {
		return nil, fmt.Errorf("%q overflows uint%d", s, size)
	}
	v := n.Uint64()
	switch size {
	case 8:
		return uint8(v), checkRange(v == uint64(uint8(v)), s, size)
	case 16:
		return uint16(v), checkRange(v == uint64(uint16(v)), s, size)
	case 32:
		return uint32(v), checkRange(v == uint64(uint32(v)), s, size)
	default:
		return v, nil
	}
}

func checkRange(ok bool, s string, size int) error {
	if !ok {
		return fmt.Errorf("%q does not fit in %d bits", s, size)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
