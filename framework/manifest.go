package framework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const manifestVersion = "1"

type ImplementationRecord struct {
	Address  common.Address `json:"address"`
	Contract string         `json:"contract"`
	TxHash   common.Hash    `json:"txHash"`
}

type UpgradeRecord struct {
	Implementation common.Address `json:"implementation"`
	Contract       string         `json:"contract"`
	TxHash         common.Hash    `json:"txHash"`
}

type ProxyRecord struct {
	Address        common.Address  `json:"address"`
	Kind           string          `json:"kind"`
	Contract       string          `json:"contract"`
	Implementation common.Address  `json:"implementation"`
	Admin          common.Address  `json:"admin"`
	DeploymentID   string          `json:"deploymentId"`
	TxHash         common.Hash     `json:"txHash"`
	Upgrades       []UpgradeRecord `json:"upgrades,omitempty"`
}

type manifestData struct {
	ManifestVersion string                          `json:"manifestVersion"`
	ChainID         uint64                          `json:"chainId"`
	Impls           map[string]ImplementationRecord `json:"impls"`
	Proxies         []ProxyRecord                   `json:"proxies"`
}

// Manifest tracks proxies and implementations deployed on one chain. It is
// stored as <dir>/<chainId>.json.
type Manifest struct {
	path string

	mu   sync.Mutex
	data manifestData
}

func ManifestPath(dir string, chainID *big.Int) string {
	return filepath.Join(dir, chainID.String()+".json")
}

// OpenManifest loads the manifest for chainID, starting an empty one if the
// file does not exist yet.
func OpenManifest(dir string, chainID *big.Int) (*Manifest, error) {
	if chainID == nil || chainID.Sign() <= 0 || !chainID.IsUint64() {
		return nil, configErrorf("unsupported chain id %v", chainID)
	}
	m := &Manifest{
		path: ManifestPath(dir, chainID),
		data: manifestData{
			ManifestVersion: manifestVersion,
			ChainID:         chainID.Uint64(),
			Impls:           make(map[string]ImplementationRecord),
		},
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	if m.data.ChainID != chainID.Uint64() {
		return nil, fmt.Errorf("manifest %s is for chain %d, not %s", m.path, m.data.ChainID, chainID)
	}
	return m, nil
}

func (m *Manifest) Path() string { return m.path }

// Reload re-reads the file, keeping the current state if it is missing.
func (m *Manifest) Reload() error {
	raw, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var data manifestData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode manifest %s: %w", m.path, err)
	}
	if data.ManifestVersion != manifestVersion {
		return fmt.Errorf("manifest %s: unsupported version %q", m.path, data.ManifestVersion)
	}
	if data.Impls == nil {
		data.Impls = make(map[string]ImplementationRecord)
	}

	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

func (m *Manifest) Implementation(codeHash string) (ImplementationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data.Impls[codeHash]
	return rec, ok
}

func (m *Manifest) AddImplementation(codeHash string, rec ImplementationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Impls[codeHash] = rec
	return m.save()
}

func (m *Manifest) AddProxy(rec ProxyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.Proxies {
		if m.data.Proxies[i].Address == rec.Address {
			m.data.Proxies[i] = rec
			return m.save()
		}
	}
	m.data.Proxies = append(m.data.Proxies, rec)
	return m.save()
}

// RecordUpgrade points a proxy at a new implementation. Proxies not created
// by this tool are added with an unknown deployment.
func (m *Manifest) RecordUpgrade(proxy common.Address, up UpgradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.Proxies {
		p := &m.data.Proxies[i]
		if p.Address == proxy {
			p.Implementation = up.Implementation
			p.Contract = up.Contract
			p.Upgrades = append(p.Upgrades, up)
			return m.save()
		}
	}
	m.data.Proxies = append(m.data.Proxies, ProxyRecord{
		Address:        proxy,
		Kind:           ProxyKindERC1967,
		Contract:       up.Contract,
		Implementation: up.Implementation,
		Upgrades:       []UpgradeRecord{up},
	})
	return m.save()
}

func (m *Manifest) Proxy(addr common.Address) (ProxyRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.data.Proxies {
		if p.Address == addr {
			return copyProxy(p), true
		}
	}
	return ProxyRecord{}, false
}

func (m *Manifest) Proxies() []ProxyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProxyRecord, len(m.data.Proxies))
	for i, p := range m.data.Proxies {
		out[i] = copyProxy(p)
	}
	return out
}

func copyProxy(p ProxyRecord) ProxyRecord {
	p.Upgrades = append([]UpgradeRecord(nil), p.Upgrades...)
	return p
}

// save writes through a temp file so readers never see a partial manifest.
// Callers hold m.mu.
func (m *Manifest) save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), m.path)
}
