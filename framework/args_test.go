package framework

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func mustType(t *testing.T, s string) abi.Type {
	t.Helper()
	typ, err := abi.NewType(s, "", nil)
	require.NoError(t, err)
	return typ
}

func TestConvertArg(t *testing.T) {
	owner := common.HexToAddress("0x32f79322A6e0e629f2968145DBb513312bdC4806")

	tests := []struct {
		typ  string
		in   string
		want interface{}
	}{
		{"address", "0x32f79322A6e0e629f2968145DBb513312bdC4806", owner},
		{"uint8", "255", uint8(255)},
		{"uint64", "0x10", uint64(16)},
		{"int32", "-7", int32(-7)},
		{"uint256", "1000000000000000000000", mustBig("1000000000000000000000")},
		{"int128", "-1", big.NewInt(-1)},
		{"int8", "-128", int8(-128)},
		{"int8", "127", int8(127)},
		{"int64", "-9223372036854775808", int64(-9223372036854775808)},
		{"int256", "-0x8000000000000000000000000000000000000000000000000000000000000000",
			new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))},
		{"bool", "true", true},
		{"string", "Dwella", "Dwella"},
		{"bytes", "0xdead", []byte{0xde, 0xad}},
		{"bytes4", "0xdeadbeef", [4]byte{0xde, 0xad, 0xbe, 0xef}},
		{"address[]", `["0x32f79322A6e0e629f2968145DBb513312bdC4806"]`, []common.Address{owner}},
		{"uint16[2]", `[1, "2"]`, [2]uint16{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.typ+"/"+tt.in, func(t *testing.T) {
			got, err := ConvertArg(mustType(t, tt.typ), tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestConvertArgErrors(t *testing.T) {
	tests := []struct {
		typ string
		in  string
	}{
		{"address", ""},
		{"address", "0x1234"},
		{"uint8", "256"},
		{"uint256", "-1"},
		{"int8", "128"},
		{"int8", "-129"},
		{"int256", "0x8000000000000000000000000000000000000000000000000000000000000000"},
		{"uint256", "ten"},
		{"bool", "maybe"},
		{"bytes2", "0xdeadbeef"},
		{"uint16[2]", `[1]`},
		{"address[]", `0x32f79322A6e0e629f2968145DBb513312bdC4806`},
	}
	for _, tt := range tests {
		t.Run(tt.typ+"/"+tt.in, func(t *testing.T) {
			_, err := ConvertArg(mustType(t, tt.typ), tt.in)
			require.Error(t, err)
		})
	}
}

func TestEncodeCall(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(drABI))
	require.NoError(t, err)

	owner := common.HexToAddress("0x32f79322A6e0e629f2968145DBb513312bdC4806")
	want, err := parsed.Pack("__DR_init", owner)
	require.NoError(t, err)

	got, err := EncodeCall(parsed, "__DR_init", []string{owner.Hex()})
	require.NoError(t, err)
	require.Equal(t, want, got)

	bySig, err := EncodeCall(parsed, "__DR_init(address)", []string{owner.Hex()})
	require.NoError(t, err)
	require.Equal(t, want, bySig)
}

func TestEncodeCallOverloads(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(boxV2ABI))
	require.NoError(t, err)

	one, err := EncodeCall(parsed, "store", []string{"42"})
	require.NoError(t, err)
	require.Equal(t, parsed.Methods[methodName(t, parsed, "store(uint256)")].ID, one[:4])

	two, err := EncodeCall(parsed, "store", []string{"42", "hello"})
	require.NoError(t, err)
	require.Equal(t, parsed.Methods[methodName(t, parsed, "store(uint256,string)")].ID, two[:4])

	_, err = EncodeCall(parsed, "store", nil)
	require.ErrorIs(t, err, ErrConfig)
}

func TestEncodeCallConfigErrors(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(drABI))
	require.NoError(t, err)

	_, err = EncodeCall(parsed, "__DR_init", nil)
	require.ErrorIs(t, err, ErrConfig, "arity")

	_, err = EncodeCall(parsed, "missing", nil)
	require.ErrorIs(t, err, ErrConfig, "unknown method")

	_, err = EncodeCall(parsed, "__DR_init", []string{"not-an-address"})
	require.ErrorIs(t, err, ErrConfig, "bad argument")
}

func TestEncodeConstructor(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(drABI))
	require.NoError(t, err)

	data, err := EncodeConstructor(parsed, nil)
	require.NoError(t, err)
	require.Empty(t, data)

	_, err = EncodeConstructor(parsed, []string{"1"})
	require.ErrorIs(t, err, ErrConfig)
}

func methodName(t *testing.T, parsed abi.ABI, sig string) string {
	t.Helper()
	for name, m := range parsed.Methods {
		if m.Sig == sig {
			return name
		}
	}
	t.Fatalf("no method %s", sig)
	return ""
}

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return n
}
