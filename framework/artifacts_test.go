package framework

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

func TestReadArtifactHardhat(t *testing.T) {
	root := t.TempDir()
	path := writeHardhatArtifact(t, root, "contracts/DR.sol", "DR", drABI, "0x6080604052")

	a, err := ReadArtifact(path)
	require.NoError(t, err)
	require.Equal(t, "DR", a.Name)
	require.Equal(t, "contracts/DR.sol", a.SourceName)
	require.Equal(t, "contracts/DR.sol:DR", a.FullyQualifiedName())
	require.Equal(t, hexutil.MustDecode("0x6080604052"), a.Bytecode)
	require.Contains(t, a.Abi.Methods, "__DR_init")
}

func TestReadArtifactFoundry(t *testing.T) {
	root := t.TempDir()
	path := writeFoundryArtifact(t, root, "BoxV2", boxV2ABI, "0x6080604053")

	a, err := ReadArtifact(path)
	require.NoError(t, err)
	require.Equal(t, "BoxV2", a.Name, "name falls back to the file name")
	require.Empty(t, a.SourceName)
	require.Equal(t, hexutil.MustDecode("0x6080604053"), a.Bytecode)
}

func TestReadArtifactFoundrySource(t *testing.T) {
	root := t.TempDir()

	a, err := ReadArtifact(writeFoundryTarget(t, root, "src/A.sol", "DR", drABI, "0x6001", false))
	require.NoError(t, err)
	require.Equal(t, "src/A.sol:DR", a.FullyQualifiedName())

	b, err := ReadArtifact(writeFoundryTarget(t, root, "src/v2/Box.sol", "BoxV2", boxV2ABI, "0x6002", true))
	require.NoError(t, err)
	require.Equal(t, "src/v2/Box.sol:BoxV2", b.FullyQualifiedName())

	astPath := filepath.Join(root, "C.sol", "C.json")
	writeJSON(t, astPath, map[string]interface{}{
		"abi":      json.RawMessage(ifaceABI),
		"bytecode": map[string]string{"object": "0x6003"},
		"ast":      map[string]string{"absolutePath": "src/C.sol"},
	})
	c, err := ReadArtifact(astPath)
	require.NoError(t, err)
	require.Equal(t, "src/C.sol:C", c.FullyQualifiedName())
}

func TestReadArtifactRejectsUnlinkedLibraries(t *testing.T) {
	root := t.TempDir()
	path := writeHardhatArtifact(t, root, "contracts/L.sol", "L", ifaceABI, "0x6080__$a1b2c3$__6040")

	_, err := ReadArtifact(path)
	require.ErrorIs(t, err, errUnlinkedBytecode)
}

func TestReadArtifactInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := ReadArtifact(path)
	require.Error(t, err)
}

func TestGetContractFactory(t *testing.T) {
	reg := testRegistry(t)

	dr, err := reg.GetContractFactory("DR")
	require.NoError(t, err)
	require.Equal(t, "DR", dr.Name)

	again, err := reg.GetContractFactory("DR")
	require.NoError(t, err)
	require.Same(t, dr, again, "lookups are cached")

	fq, err := reg.GetContractFactory("contracts/BoxV2.sol:BoxV2")
	require.NoError(t, err)
	require.Equal(t, "BoxV2", fq.Name)
}

func TestGetContractFactoryUnknown(t *testing.T) {
	reg := testRegistry(t)

	for _, name := range []string{"Missing", "contracts/Other.sol:DR", ""} {
		_, err := reg.GetContractFactory(name)
		var lookupErr *LookupError
		require.True(t, errors.As(err, &lookupErr), "name %q: %v", name, err)
	}
}

func TestGetContractFactoryAmbiguous(t *testing.T) {
	root := t.TempDir()
	writeHardhatArtifact(t, root, "contracts/a/DR.sol", "DR", drABI, "0x6001")
	writeHardhatArtifact(t, root, "contracts/b/DR.sol", "DR", drABI, "0x6002")
	reg := NewRegistry(root)

	_, err := reg.GetContractFactory("DR")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	require.Contains(t, lookupErr.Reason, "contracts/a/DR.sol:DR")
	require.Contains(t, lookupErr.Reason, "contracts/b/DR.sol:DR")

	a, err := reg.GetContractFactory("contracts/b/DR.sol:DR")
	require.NoError(t, err)
	require.Equal(t, hexutil.MustDecode("0x6002"), a.Bytecode)
}

func TestGetContractFactoryFoundryAmbiguous(t *testing.T) {
	root := t.TempDir()
	writeFoundryTarget(t, root, "src/A.sol", "DR", drABI, "0x6001", false)
	writeFoundryTarget(t, root, "src/B.sol", "DR", drABI, "0x6002", false)
	reg := NewRegistry(root)

	_, err := reg.GetContractFactory("DR")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	require.Contains(t, lookupErr.Reason, "src/A.sol:DR, src/B.sol:DR")

	a, err := reg.GetContractFactory("src/A.sol:DR")
	require.NoError(t, err)
	require.Equal(t, hexutil.MustDecode("0x6001"), a.Bytecode)
}

func TestGetContractFactoryCorruptArtifact(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "contracts", "DR.sol", "DR.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := NewRegistry(root).GetContractFactory("DR")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	require.Contains(t, lookupErr.Reason, "decode artifact")
	require.Contains(t, lookupErr.Reason, path)
}

func TestGetContractFactoryWithoutBytecode(t *testing.T) {
	root := t.TempDir()
	writeHardhatArtifact(t, root, "contracts/IDR.sol", "IDR", ifaceABI, "0x")

	_, err := NewRegistry(root).GetContractFactory("IDR")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	require.Equal(t, errMissingBytecode.Error(), lookupErr.Reason)
}

func TestGetContractFactoryRootOrder(t *testing.T) {
	hardhat, foundry := t.TempDir(), t.TempDir()
	writeHardhatArtifact(t, hardhat, "contracts/DR.sol", "DR", drABI, "0x6001")
	writeFoundryArtifact(t, foundry, "DR", drABI, "0x6002")

	a, err := NewRegistry(filepath.Join(t.TempDir(), "missing"), foundry, hardhat).GetContractFactory("DR")
	require.NoError(t, err)
	require.Equal(t, hexutil.MustDecode("0x6002"), a.Bytecode, "first root with a match wins")
}

func TestGetContractFactorySkipsBuildInfo(t *testing.T) {
	root := t.TempDir()
	writeJSON(t, filepath.Join(root, "build-info", "DR.json"), map[string]string{"id": "abc"})

	_, err := NewRegistry(root).GetContractFactory("DR")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	require.Empty(t, lookupErr.Reason)
}
