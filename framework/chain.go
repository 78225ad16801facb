package framework

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Chain is the network side of a deployment: a funded sender that can
// broadcast, call and wait.
type Chain interface {
	From() common.Address
	ChainID() *big.Int
	Deploy(ctx context.Context, code []byte) (*types.Transaction, common.Address, error)
	Transact(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

type ChainConfig struct {
	RPCURL string
	// ChainID, when set, must match the node.
	ChainID   *big.Int
	Key       *PrivKey
	GasLimit  uint64
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

// Client implements Chain over an ethclient connection with EIP-1559
// transactions signed by a local key.
type Client struct {
	log     *logrus.Entry
	eth     *ethclient.Client
	key     *PrivKey
	from    common.Address
	chainID *big.Int
	signer  types.Signer

	gasLimit  uint64
	gasFeeCap *big.Int
	gasTipCap *big.Int
}

var _ Chain = (*Client)(nil)

func DialChain(ctx context.Context, log *logrus.Entry, cfg ChainConfig) (*Client, error) {
	if cfg.Key == nil {
		return nil, configErrorf("private key is required")
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, &NetworkError{Op: "dial " + cfg.RPCURL, Err: err}
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, &NetworkError{Op: "get chain id", Err: err}
	}
	if cfg.ChainID != nil && cfg.ChainID.Sign() > 0 && cfg.ChainID.Cmp(chainID) != 0 {
		eth.Close()
		return nil, configErrorf("chain id %s does not match node chain id %s", cfg.ChainID, chainID)
	}

	c := &Client{
		log:       log.WithField("chainId", chainID.String()),
		eth:       eth,
		key:       cfg.Key,
		from:      cfg.Key.Address(),
		chainID:   chainID,
		signer:    types.LatestSignerForChainID(chainID),
		gasLimit:  cfg.GasLimit,
		gasFeeCap: cfg.GasFeeCap,
		gasTipCap: cfg.GasTipCap,
	}
	c.log.WithField("sender", c.from.Hex()).Debug("Connected")
	return c, nil
}

func (c *Client) From() common.Address { return c.from }

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) Deploy(ctx context.Context, code []byte) (*types.Transaction, common.Address, error) {
	tx, err := c.send(ctx, nil, code)
	if err != nil {
		return nil, common.Address{}, err
	}
	return tx, crypto.CreateAddress(c.from, tx.Nonce()), nil
}

func (c *Client) Transact(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	return c.send(ctx, &to, data)
}

func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, classifyRPCError("call "+to.Hex(), err)
	}
	return out, nil
}

func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := c.eth.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, &NetworkError{Op: "get code " + addr.Hex(), Err: err}
	}
	return code, nil
}

func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	c.log.WithField("tx", tx.Hash().Hex()).Debug("Waiting for transaction")
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, &NetworkError{Op: "wait for " + tx.Hash().Hex(), Err: err}
	}
	return receipt, nil
}

func (c *Client) send(ctx context.Context, to *common.Address, data []byte) (*types.Transaction, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, &NetworkError{Op: "get nonce", Err: err}
	}

	tipCap, feeCap, err := c.fees(ctx)
	if err != nil {
		return nil, err
	}

	gas := c.gasLimit
	if gas == 0 {
		gas, err = c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:      c.from,
			To:        to,
			GasFeeCap: feeCap,
			GasTipCap: tipCap,
			Data:      data,
		})
		if err != nil {
			return nil, classifyRPCError("estimate gas", err)
		}
	}

	tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        to,
		Data:      data,
	}), c.signer, c.key.Priv)
	if err != nil {
		return nil, err
	}

	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return nil, classifyRPCError("send transaction", err)
	}

	c.log.WithFields(logrus.Fields{
		"tx":    tx.Hash().Hex(),
		"nonce": nonce,
		"gas":   gas,
	}).Debug("Transaction sent")
	return tx, nil
}

func (c *Client) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	tipCap := c.gasTipCap
	if tipCap == nil {
		var err error
		tipCap, err = c.eth.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, nil, &NetworkError{Op: "suggest gas tip cap", Err: err}
		}
	}
	if c.gasFeeCap != nil {
		// A tip above the fee cap makes the transaction invalid.
		if tipCap.Cmp(c.gasFeeCap) > 0 {
			c.log.WithFields(logrus.Fields{
				"tipCap": tipCap.String(),
				"feeCap": c.gasFeeCap.String(),
			}).Debug("Capping gas tip at the fee cap")
			tipCap = c.gasFeeCap
		}
		return tipCap, c.gasFeeCap, nil
	}

	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, &NetworkError{Op: "get latest header", Err: err}
	}
	if head.BaseFee == nil {
		return nil, nil, configErrorf("node has no base fee, set an explicit gas fee cap")
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return tipCap, feeCap, nil
}
