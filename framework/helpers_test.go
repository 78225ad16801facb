package framework

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	drABI = `[
  {"type":"constructor","inputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"__DR_init","inputs":[{"name":"admin","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"owner","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"}
]`
	boxV2ABI = `[
  {"type":"function","name":"initialize","inputs":[{"name":"value","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"store","inputs":[{"name":"value","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"store","inputs":[{"name":"value","type":"uint256"},{"name":"note","type":"string"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"increment","inputs":[],"outputs":[],"stateMutability":"nonpayable"}
]`
	ifaceABI = `[{"type":"function","name":"ping","inputs":[],"outputs":[],"stateMutability":"nonpayable"}]`
)

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

// writeHardhatArtifact lays out artifacts/<source>/<name>.json the way
// hardhat does, including the debug file next to it.
func writeHardhatArtifact(t *testing.T, root, source, name, abiJSON, bytecode string) string {
	t.Helper()
	dir := filepath.Join(root, source)
	path := filepath.Join(dir, name+".json")
	writeJSON(t, path, map[string]interface{}{
		"_format":      "hh-sol-artifact-1",
		"contractName": name,
		"sourceName":   source,
		"abi":          json.RawMessage(abiJSON),
		"bytecode":     bytecode,
	})
	writeJSON(t, filepath.Join(dir, name+".dbg.json"), map[string]interface{}{
		"_format":   "hh-sol-dbg-1",
		"buildInfo": "../../build-info/abc.json",
	})
	return path
}

func writeFoundryArtifact(t *testing.T, root, name, abiJSON, bytecode string) string {
	t.Helper()
	path := filepath.Join(root, name+".sol", name+".json")
	writeJSON(t, path, map[string]interface{}{
		"abi":      json.RawMessage(abiJSON),
		"bytecode": map[string]string{"object": bytecode},
	})
	return path
}

// writeFoundryTarget writes out/<file>.sol/<name>.json with the
// compilation target foundry keeps in the metadata. stringMeta stores the
// metadata as an encoded JSON string.
func writeFoundryTarget(t *testing.T, root, source, name, abiJSON, bytecode string, stringMeta bool) string {
	t.Helper()
	meta := map[string]interface{}{
		"settings": map[string]interface{}{
			"compilationTarget": map[string]string{source: name},
		},
	}
	var metaField interface{} = meta
	if stringMeta {
		raw, err := json.Marshal(meta)
		require.NoError(t, err)
		metaField = string(raw)
	}
	path := filepath.Join(root, filepath.Base(source), name+".json")
	writeJSON(t, path, map[string]interface{}{
		"abi":      json.RawMessage(abiJSON),
		"bytecode": map[string]string{"object": bytecode},
		"metadata": metaField,
	})
	return path
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	root := t.TempDir()
	writeHardhatArtifact(t, root, "contracts/DR.sol", "DR", drABI, "0x6080604052")
	writeHardhatArtifact(t, root, "contracts/BoxV2.sol", "BoxV2", boxV2ABI, "0x6080604053")
	return NewRegistry(root)
}
