package framework

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EncodeCall packs a call to method with string arguments coerced to the
// method's input types. method is a name, a signature ("f(address)") or
// the raw name of an overloaded function.
func EncodeCall(contract abi.ABI, method string, args []string) ([]byte, error) {
	m, err := findMethod(contract, method, len(args))
	if err != nil {
		return nil, err
	}
	values, err := ConvertArgs(m.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, m.Sig, err)
	}
	return contract.Pack(m.Name, values...)
}

func EncodeConstructor(contract abi.ABI, args []string) ([]byte, error) {
	if len(contract.Constructor.Inputs) != len(args) {
		return nil, configErrorf("constructor takes %d arguments, got %d", len(contract.Constructor.Inputs), len(args))
	}
	values, err := ConvertArgs(contract.Constructor.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%w: constructor: %v", ErrConfig, err)
	}
	return contract.Pack("", values...)
}

func HasMethod(contract abi.ABI, method string) bool {
	for _, m := range contract.Methods {
		if m.Name == method || m.RawName == method || m.Sig == method {
			return true
		}
	}
	return false
}

func findMethod(contract abi.ABI, method string, arity int) (abi.Method, error) {
	var candidates []abi.Method
	for _, m := range contract.Methods {
		if m.Sig == method {
			if len(m.Inputs) != arity {
				return abi.Method{}, configErrorf("%s takes %d arguments, got %d", m.Sig, len(m.Inputs), arity)
			}
			return m, nil
		}
		if m.RawName == method {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return abi.Method{}, configErrorf("method %q not found in abi", method)
	}
	if len(candidates) == 1 && len(candidates[0].Inputs) != arity {
		m := candidates[0]
		return abi.Method{}, configErrorf("%s takes %d arguments, got %d", m.Sig, len(m.Inputs), arity)
	}

	var matched []abi.Method
	for _, m := range candidates {
		if len(m.Inputs) == arity {
			matched = append(matched, m)
		}
	}
	switch len(matched) {
	case 0:
		return abi.Method{}, configErrorf("no overload of %q takes %d arguments", method, arity)
	case 1:
		return matched[0], nil
	default:
		sigs := make([]string, len(matched))
		for i, m := range matched {
			sigs[i] = m.Sig
		}
		sort.Strings(sigs)
		return abi.Method{}, configErrorf("%q is ambiguous, use one of: %s", method, strings.Join(sigs, ", "))
	}
}

func ConvertArgs(inputs abi.Arguments, args []string) ([]interface{}, error) {
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(inputs), len(args))
	}
	out := make([]interface{}, len(args))
	for i, in := range inputs {
		v, err := ConvertArg(in.Type, args[i])
		if err != nil {
			name := in.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, in.Type.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

// ConvertArg coerces s into the Go value go-ethereum's packer expects for t.
func ConvertArg(t abi.Type, s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil

	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		if t.T == abi.UintTy && n.Sign() < 0 {
			return nil, fmt.Errorf("negative value %s for %s", s, t.String())
		}
		return sizedInt(t, n)

	case abi.BoolTy:
		return strconv.ParseBool(s)

	case abi.StringTy:
		return s, nil

	case abi.BytesTy:
		return hexutil.Decode(s)

	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%d bytes do not fit %s", len(b), t.String())
		}
		v := reflect.New(t.GetType()).Elem()
		reflect.Copy(v, reflect.ValueOf(b))
		return v.Interface(), nil

	case abi.SliceTy, abi.ArrayTy:
		return convertList(t, s)
	}
	return nil, fmt.Errorf("unsupported argument type %s", t.String())
}

func sizedInt(t abi.Type, n *big.Int) (interface{}, error) {
	if !inRange(t, n) {
		return nil, fmt.Errorf("%s overflows %s", n.String(), t.String())
	}
	if t.T == abi.UintTy {
		switch t.Size {
		case 8:
			return uint8(n.Uint64()), nil
		case 16:
			return uint16(n.Uint64()), nil
		case 32:
			return uint32(n.Uint64()), nil
		case 64:
			return n.Uint64(), nil
		}
		return n, nil
	}
	switch t.Size {
	case 8:
		return int8(n.Int64()), nil
	case 16:
		return int16(n.Int64()), nil
	case 32:
		return int32(n.Int64()), nil
	case 64:
		return n.Int64(), nil
	}
	return n, nil
}

// inRange checks n against [0, 2^size-1] for uintN and
// [-2^(size-1), 2^(size-1)-1] for intN.
func inRange(t abi.Type, n *big.Int) bool {
	if t.T == abi.UintTy {
		return n.Sign() >= 0 && n.BitLen() <= t.Size
	}
	bound := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	if n.Sign() < 0 {
		return n.Cmp(new(big.Int).Neg(bound)) >= 0
	}
	return n.Cmp(bound) < 0
}

// convertList parses a JSON array; elements may be JSON strings or bare
// numbers/booleans.
func convertList(t abi.Type, s string) (interface{}, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("expected a JSON array for %s: %w", t.String(), err)
	}
	if t.T == abi.ArrayTy && len(items) != t.Size {
		return nil, fmt.Errorf("%s needs %d elements, got %d", t.String(), t.Size, len(items))
	}

	var out reflect.Value
	if t.T == abi.ArrayTy {
		out = reflect.New(t.GetType()).Elem()
	} else {
		out = reflect.MakeSlice(t.GetType(), len(items), len(items))
	}
	for i, item := range items {
		var elem string
		if err := json.Unmarshal(item, &elem); err != nil {
			elem = string(item)
		}
		v, err := ConvertArg(*t.Elem, elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(v))
	}
	return out.Interface(), nil
}
