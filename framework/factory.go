package framework

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultFactoryAddress is the canonical Solady ERC1967Factory deployment.
var DefaultFactoryAddress = common.HexToAddress("0x0000000000006396FF2a80c067f99B3d2Ab4Df24")

const erc1967FactoryABI = `[
  {"type":"function","name":"deployDeterministicAndCall","stateMutability":"payable",
   "inputs":[{"name":"implementation","type":"address"},{"name":"admin","type":"address"},{"name":"salt","type":"bytes32"},{"name":"data","type":"bytes"}],
   "outputs":[{"name":"proxy","type":"address"}]},
  {"type":"function","name":"predictDeterministicAddress","stateMutability":"view",
   "inputs":[{"name":"salt","type":"bytes32"}],
   "outputs":[{"name":"predicted","type":"address"}]},
  {"type":"function","name":"upgrade","stateMutability":"payable",
   "inputs":[{"name":"proxy","type":"address"},{"name":"implementation","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"upgradeAndCall","stateMutability":"payable",
   "inputs":[{"name":"proxy","type":"address"},{"name":"implementation","type":"address"},{"name":"data","type":"bytes"}],
   "outputs":[]},
  {"type":"function","name":"adminOf","stateMutability":"view",
   "inputs":[{"name":"proxy","type":"address"}],
   "outputs":[{"name":"admin","type":"address"}]},
  {"type":"event","name":"Deployed","anonymous":false,
   "inputs":[{"name":"proxy","type":"address","indexed":true},{"name":"implementation","type":"address","indexed":true},{"name":"admin","type":"address","indexed":true}]},
  {"type":"event","name":"Upgraded","anonymous":false,
   "inputs":[{"name":"proxy","type":"address","indexed":true},{"name":"implementation","type":"address","indexed":true}]},
  {"type":"event","name":"AdminChanged","anonymous":false,
   "inputs":[{"name":"proxy","type":"address","indexed":true},{"name":"admin","type":"address","indexed":true}]},
  {"type":"error","name":"Unauthorized","inputs":[]},
  {"type":"error","name":"DeploymentFailed","inputs":[]},
  {"type":"error","name":"UpgradeFailed","inputs":[]},
  {"type":"error","name":"SaltDoesNotStartWithCaller","inputs":[]}
]`

var FactoryABI = mustParseABI(erc1967FactoryABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse factory abi: %v", err))
	}
	return parsed
}

// DeployedEvent is the factory's Deployed(proxy, implementation, admin).
type DeployedEvent struct {
	Proxy          common.Address
	Implementation common.Address
	Admin          common.Address
}

// UpgradedEvent is the factory's Upgraded(proxy, implementation).
type UpgradedEvent struct {
	Proxy          common.Address
	Implementation common.Address
}

func packDeployDeterministicAndCall(impl, admin common.Address, salt [32]byte, data []byte) ([]byte, error) {
	if data == nil {
		data = []byte{}
	}
	return FactoryABI.Pack("deployDeterministicAndCall", impl, admin, salt, data)
}

func packUpgrade(proxy, impl common.Address, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return FactoryABI.Pack("upgrade", proxy, impl)
	}
	return FactoryABI.Pack("upgradeAndCall", proxy, impl, data)
}

func unpackAddress(method string, out []byte) (common.Address, error) {
	values, err := FactoryABI.Unpack(method, out)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return common.Address{}, fmt.Errorf("unpack %s: unexpected %d values", method, len(values))
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unpack %s: unexpected type %T", method, values[0])
	}
	return addr, nil
}

func topicAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h.Bytes())
}

// ParseDeployed decodes a Deployed log. ok is false for any other log.
func ParseDeployed(log *types.Log) (DeployedEvent, bool) {
	ev := FactoryABI.Events["Deployed"]
	if len(log.Topics) != 4 || log.Topics[0] != ev.ID {
		return DeployedEvent{}, false
	}
	return DeployedEvent{
		Proxy:          topicAddress(log.Topics[1]),
		Implementation: topicAddress(log.Topics[2]),
		Admin:          topicAddress(log.Topics[3]),
	}, true
}

// ParseUpgraded decodes an Upgraded log. ok is false for any other log.
func ParseUpgraded(log *types.Log) (UpgradedEvent, bool) {
	ev := FactoryABI.Events["Upgraded"]
	if len(log.Topics) != 3 || log.Topics[0] != ev.ID {
		return UpgradedEvent{}, false
	}
	return UpgradedEvent{
		Proxy:          topicAddress(log.Topics[1]),
		Implementation: topicAddress(log.Topics[2]),
	}, true
}

func findDeployed(receipt *types.Receipt, factory common.Address) (DeployedEvent, error) {
	for _, l := range receipt.Logs {
		if l.Address != factory {
			continue
		}
		if ev, ok := ParseDeployed(l); ok {
			return ev, nil
		}
	}
	return DeployedEvent{}, fmt.Errorf("Deployed: %w", errEventNotFound)
}

func findUpgraded(receipt *types.Receipt, factory common.Address) (UpgradedEvent, error) {
	for _, l := range receipt.Logs {
		if l.Address != factory {
			continue
		}
		if ev, ok := ParseUpgraded(l); ok {
			return ev, nil
		}
	}
	return UpgradedEvent{}, fmt.Errorf("Upgraded: %w", errEventNotFound)
}
