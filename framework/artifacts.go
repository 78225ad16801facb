package framework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is a compiled contract: its ABI and creation bytecode. It plays
// the role of a contract factory for DeployProxy and UpgradeProxy.
type Artifact struct {
	Name       string
	SourceName string
	Path       string
	Abi        abi.ABI
	Bytecode   []byte
}

// FullyQualifiedName is "<source>:<name>" when the source is known.
func (a *Artifact) FullyQualifiedName() string {
	if a.SourceName == "" {
		return a.Name
	}
	return a.SourceName + ":" + a.Name
}

// artifactJSON covers both hardhat (bytecode is a hex string) and foundry
// (bytecode.object) layouts.
type artifactJSON struct {
	ContractName string          `json:"contractName"`
	SourceName   string          `json:"sourceName"`
	Abi          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
	Metadata     json.RawMessage `json:"metadata"`
	Ast          *struct {
		AbsolutePath string `json:"absolutePath"`
	} `json:"ast"`
}

type compilerMetadata struct {
	Settings struct {
		CompilationTarget map[string]string `json:"compilationTarget"`
	} `json:"settings"`
}

// foundryTarget returns the source and contract name foundry records in the
// artifact metadata (an object, or a JSON string in older versions), falling
// back to the AST path for the source.
func (raw *artifactJSON) foundryTarget() (source, name string) {
	var meta compilerMetadata
	if len(raw.Metadata) > 0 {
		if err := json.Unmarshal(raw.Metadata, &meta); err != nil {
			var encoded string
			if json.Unmarshal(raw.Metadata, &encoded) == nil {
				_ = json.Unmarshal([]byte(encoded), &meta)
			}
		}
	}
	// solc compiles one target per artifact.
	for src, contract := range meta.Settings.CompilationTarget {
		source, name = src, contract
	}
	if source == "" && raw.Ast != nil {
		source = raw.Ast.AbsolutePath
	}
	return source, name
}

func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw artifactJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if len(raw.Abi) == 0 {
		return nil, fmt.Errorf("artifact %s has no abi", path)
	}

	parsed, err := abi.JSON(strings.NewReader(string(raw.Abi)))
	if err != nil {
		return nil, fmt.Errorf("parse abi %s: %w", path, err)
	}

	code, err := decodeBytecode(raw.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}

	name, source := raw.ContractName, raw.SourceName
	if source == "" {
		var target string
		source, target = raw.foundryTarget()
		if name == "" {
			name = target
		}
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	return &Artifact{
		Name:       name,
		SourceName: source,
		Path:       path,
		Abi:        parsed,
		Bytecode:   code,
	}, nil
}

func decodeBytecode(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var hexCode string
	if err := json.Unmarshal(raw, &hexCode); err != nil {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("decode bytecode: %w", err)
		}
		hexCode = obj.Object
	}

	if hexCode == "" || hexCode == "0x" {
		return nil, nil
	}
	if strings.Contains(hexCode, "__") {
		return nil, errUnlinkedBytecode
	}
	if !strings.HasPrefix(hexCode, "0x") {
		hexCode = "0x" + hexCode
	}
	return hexutil.Decode(hexCode)
}

// Registry resolves contract names against one or more artifact roots.
type Registry struct {
	roots []string

	mu    sync.Mutex
	cache map[string]*Artifact
}

func NewRegistry(roots ...string) *Registry {
	return &Registry{
		roots: roots,
		cache: make(map[string]*Artifact),
	}
}

// GetContractFactory looks a contract up by bare name ("DR") or by fully
// qualified name ("contracts/DR.sol:DR").
func (r *Registry) GetContractFactory(name string) (*Artifact, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &LookupError{Name: name, Reason: "empty contract name"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.cache[name]; ok {
		return a, nil
	}

	source, contract := "", name
	if i := strings.LastIndex(name, ":"); i >= 0 {
		source, contract = name[:i], name[i+1:]
	}

	var found []*Artifact
	for _, root := range r.roots {
		var err error
		found, err = scanRoot(root, name, source, contract)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			break
		}
	}

	switch len(found) {
	case 0:
		return nil, &LookupError{Name: name}
	case 1:
	default:
		names := make([]string, len(found))
		for i, a := range found {
			names[i] = a.FullyQualifiedName()
		}
		sort.Strings(names)
		return nil, &LookupError{
			Name:   name,
			Reason: "multiple artifacts match, use a fully qualified name: " + strings.Join(names, ", "),
		}
	}

	a := found[0]
	if len(a.Bytecode) == 0 {
		return nil, &LookupError{Name: name, Reason: errMissingBytecode.Error()}
	}
	r.cache[name] = a
	return a, nil
}

// scanRoot walks one artifact root. Hardhat debug files (*.dbg.json) never
// match since only "<contract>.json" is considered.
func scanRoot(root, name, source, contract string) ([]*Artifact, error) {
	var found []*Artifact
	want := contract + ".json"
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != want {
			return nil
		}
		a, err := ReadArtifact(path)
		if err != nil {
			return &LookupError{Name: name, Reason: err.Error()}
		}
		if a.Name != contract || (source != "" && a.SourceName != source) {
			return nil
		}
		found = append(found, a)
		return nil
	})
	if err != nil {
		var lookupErr *LookupError
		if errors.As(err, &lookupErr) {
			return nil, err
		}
		return nil, fmt.Errorf("scan artifacts %s: %w", root, err)
	}
	return found, nil
}
