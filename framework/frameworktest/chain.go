// Package frameworktest provides an in-memory Chain that emulates the
// ERC1967Factory, for tests of code built on the framework package.
package frameworktest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/dwella/dwella-examples/framework"
)

var (
	factoryCode = []byte{0x60, 0x80, 0x60, 0x40}
	proxyCode   = []byte{0x36, 0x3d, 0x3d, 0x37}

	errUnknownMethod = errors.New("unknown factory method")
)

type Chain struct {
	mu sync.Mutex

	Sender  common.Address
	ID      *big.Int
	Factory common.Address
	// Predicted is what predictDeterministicAddress returns and where the
	// factory deploys proxies.
	Predicted common.Address
	// Admins overrides adminOf per proxy; unknown proxies report the sender.
	Admins map[common.Address]common.Address
	Code   map[common.Address][]byte

	DeployErr   error
	TransactErr error
	CallErr     error
	WaitErr     error
	// Revert marks transactions whose receipt has a failed status.
	Revert func(to *common.Address, data []byte) bool

	Deployments  []common.Address
	Transactions []*types.Transaction

	nonce    uint64
	receipts map[common.Hash]*types.Receipt
}

var _ framework.Chain = (*Chain)(nil)

func NewChain() *Chain {
	c := &Chain{
		Sender:    common.HexToAddress("0x00000000000000000000000000000000000dea10"),
		ID:        big.NewInt(31337),
		Factory:   framework.DefaultFactoryAddress,
		Predicted: common.HexToAddress("0x0000000000000000000000000000000000000abc"),
		Admins:    make(map[common.Address]common.Address),
		Code:      make(map[common.Address][]byte),
		receipts:  make(map[common.Hash]*types.Receipt),
	}
	c.Code[c.Factory] = factoryCode
	return c
}

// AddProxy installs code at addr so it can be upgraded.
func (c *Chain) AddProxy(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Code[addr] = proxyCode
}

// Dialer hands out this chain and counts how often it was dialed.
func (c *Chain) Dialer(calls *int) framework.Dialer {
	return func(context.Context, *logrus.Entry, framework.ChainConfig) (framework.Chain, func(), error) {
		if calls != nil {
			*calls++
		}
		return c, func() {}, nil
	}
}

func (c *Chain) From() common.Address { return c.Sender }

func (c *Chain) ChainID() *big.Int { return new(big.Int).Set(c.ID) }

func (c *Chain) Deploy(_ context.Context, code []byte) (*types.Transaction, common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DeployErr != nil {
		return nil, common.Address{}, c.DeployErr
	}

	tx := c.newTx(nil, code)
	addr := crypto.CreateAddress(c.Sender, tx.Nonce())
	receipt := c.receiptFor(tx)
	if receipt.Status == types.ReceiptStatusSuccessful {
		c.Code[addr] = code
		receipt.ContractAddress = addr
		c.Deployments = append(c.Deployments, addr)
	}
	return tx, addr, nil
}

func (c *Chain) Transact(_ context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TransactErr != nil {
		return nil, c.TransactErr
	}

	tx := c.newTx(&to, data)
	receipt := c.receiptFor(tx)
	if receipt.Status != types.ReceiptStatusSuccessful || to != c.Factory {
		return tx, nil
	}

	method, args, err := decodeFactoryCall(data)
	if err != nil {
		return nil, err
	}
	ev := framework.FactoryABI.Events
	switch method {
	case "deployDeterministicAndCall":
		impl, admin := args[0].(common.Address), args[1].(common.Address)
		c.Code[c.Predicted] = proxyCode
		c.Admins[c.Predicted] = admin
		receipt.Logs = append(receipt.Logs, c.log(ev["Deployed"].ID, c.Predicted, impl, admin))
	case "upgrade", "upgradeAndCall":
		proxy, impl := args[0].(common.Address), args[1].(common.Address)
		receipt.Logs = append(receipt.Logs, c.log(ev["Upgraded"].ID, proxy, impl))
	}
	return tx, nil
}

func (c *Chain) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CallErr != nil {
		return nil, c.CallErr
	}
	if to != c.Factory {
		return nil, fmt.Errorf("call to unknown contract %s", to.Hex())
	}

	method, args, err := decodeFactoryCall(data)
	if err != nil {
		return nil, err
	}
	outputs := framework.FactoryABI.Methods[method].Outputs
	switch method {
	case "predictDeterministicAddress":
		return outputs.Pack(c.Predicted)
	case "adminOf":
		admin, ok := c.Admins[args[0].(common.Address)]
		if !ok {
			admin = c.Sender
		}
		return outputs.Pack(admin)
	}
	return nil, fmt.Errorf("%w: %s", errUnknownMethod, method)
}

func (c *Chain) CodeAt(_ context.Context, addr common.Address) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Code[addr], nil
}

func (c *Chain) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WaitErr != nil {
		return nil, c.WaitErr
	}
	receipt, ok := c.receipts[tx.Hash()]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", tx.Hash().Hex())
	}
	return receipt, nil
}

// Sent returns how many transactions were broadcast.
func (c *Chain) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Transactions)
}

func (c *Chain) newTx(to *common.Address, data []byte) *types.Transaction {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID: c.ID,
		Nonce:   c.nonce,
		To:      to,
		Data:    data,
		Gas:     1_000_000,
	})
	c.nonce++
	c.Transactions = append(c.Transactions, tx)
	return tx
}

func (c *Chain) receiptFor(tx *types.Transaction) *types.Receipt {
	status := types.ReceiptStatusSuccessful
	if c.Revert != nil && c.Revert(tx.To(), tx.Data()) {
		status = types.ReceiptStatusFailed
	}
	receipt := &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(int64(tx.Nonce()) + 1),
	}
	c.receipts[tx.Hash()] = receipt
	return receipt
}

func (c *Chain) log(sig common.Hash, indexed ...common.Address) *types.Log {
	topics := []common.Hash{sig}
	for _, a := range indexed {
		topics = append(topics, common.BytesToHash(a.Bytes()))
	}
	return &types.Log{Address: c.Factory, Topics: topics}
}

func decodeFactoryCall(data []byte) (string, []interface{}, error) {
	if len(data) < 4 {
		return "", nil, errUnknownMethod
	}
	m, err := framework.FactoryABI.MethodById(data[:4])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errUnknownMethod, err)
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, err
	}
	return m.Name, args, nil
}

// IsFactoryCall matches transactions calling method on the factory, for
// use with Revert.
func IsFactoryCall(method string) func(*common.Address, []byte) bool {
	id := framework.FactoryABI.Methods[method].ID
	return func(to *common.Address, data []byte) bool {
		return to != nil && len(data) >= 4 && string(data[:4]) == string(id)
	}
}
