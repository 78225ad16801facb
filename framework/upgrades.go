package framework

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	ProxyKindERC1967 = "erc1967"

	defaultInitializer = "initialize"
)

type UpgradesConfig struct {
	// Factory is the ERC1967Factory; DefaultFactoryAddress when zero.
	Factory common.Address
	// Admin of new proxies; the sender when zero.
	Admin common.Address
	// Manifest is optional.
	Manifest *Manifest
}

// Upgrades deploys and upgrades ERC1967 proxies through a factory
// contract.
type Upgrades struct {
	log      *logrus.Entry
	chain    Chain
	factory  common.Address
	admin    common.Address
	manifest *Manifest

	newID func() uuid.UUID
}

func NewUpgrades(log *logrus.Entry, chain Chain, cfg UpgradesConfig) *Upgrades {
	factory := cfg.Factory
	if factory == (common.Address{}) {
		factory = DefaultFactoryAddress
	}
	admin := cfg.Admin
	if admin == (common.Address{}) {
		admin = chain.From()
	}
	return &Upgrades{
		log:      log.WithField("factory", factory.Hex()),
		chain:    chain,
		factory:  factory,
		admin:    admin,
		manifest: cfg.Manifest,
		newID:    uuid.New,
	}
}

type DeployOptions struct {
	// Initializer is called with the deploy args through the proxy. Empty
	// means "initialize" when the contract has one.
	Initializer     string
	NoInitializer   bool
	ConstructorArgs []string
}

type UpgradeOptions struct {
	// Call, if set, is invoked with Args through the proxy right after the
	// upgrade.
	Call string
	Args []string
}

// Proxy is a proxy whose address is known. A proxy returned by DeployProxy
// is pending until Deployed returns.
type Proxy struct {
	u *Upgrades

	address        common.Address
	Implementation common.Address
	Admin          common.Address
	Contract       string
	DeploymentID   string
	Tx             *types.Transaction
	confirmed      bool
}

func (p *Proxy) Address() common.Address { return p.address }

// DeployProxy deploys (or reuses) the implementation for factory and
// broadcasts the proxy deployment. The proxy address is predicted so it is
// available before confirmation; call Deployed to wait for it.
func (u *Upgrades) DeployProxy(ctx context.Context, factory *Artifact, args []string, opts DeployOptions) (*Proxy, error) {
	log := u.log.WithField("contract", factory.Name)

	if err := u.checkFactory(ctx); err != nil {
		return nil, err
	}

	initData, err := initializerData(factory, args, opts)
	if err != nil {
		return nil, err
	}

	impl, err := u.deployImplementation(ctx, log, factory, opts.ConstructorArgs)
	if err != nil {
		return nil, err
	}

	id := u.newID()
	salt := proxySalt(u.chain.From(), id)

	out, err := u.chain.Call(ctx, u.factory, mustPack("predictDeterministicAddress", salt))
	if err != nil {
		return nil, err
	}
	predicted, err := unpackAddress("predictDeterministicAddress", out)
	if err != nil {
		return nil, &ContractError{Op: "predict proxy address", Err: err}
	}

	data, err := packDeployDeterministicAndCall(impl, u.admin, salt, initData)
	if err != nil {
		return nil, err
	}
	tx, err := u.chain.Transact(ctx, u.factory, data)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"proxy":          predicted.Hex(),
		"implementation": impl.Hex(),
		"tx":             tx.Hash().Hex(),
	}).Debug("Proxy deployment sent")

	return &Proxy{
		u:              u,
		address:        predicted,
		Implementation: impl,
		Admin:          u.admin,
		Contract:       factory.Name,
		DeploymentID:   id.String(),
		Tx:             tx,
	}, nil
}

// Deployed waits for the proxy deployment to be mined and checks that the
// factory created the predicted proxy.
func (p *Proxy) Deployed(ctx context.Context) error {
	if p.confirmed {
		return nil
	}
	u := p.u

	receipt, err := u.chain.WaitMined(ctx, p.Tx)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &ContractError{Op: "deploy proxy", TxHash: receipt.TxHash}
	}

	ev, err := findDeployed(receipt, u.factory)
	if err != nil {
		return &ContractError{Op: "deploy proxy", TxHash: receipt.TxHash, Err: err}
	}
	if ev.Proxy != p.address {
		return &ContractError{
			Op:     "deploy proxy",
			TxHash: receipt.TxHash,
			Err:    fmt.Errorf("factory deployed %s, expected %s", ev.Proxy.Hex(), p.address.Hex()),
		}
	}
	p.confirmed = true

	if u.manifest != nil {
		err := u.manifest.AddProxy(ProxyRecord{
			Address:        p.address,
			Kind:           ProxyKindERC1967,
			Contract:       p.Contract,
			Implementation: p.Implementation,
			Admin:          p.Admin,
			DeploymentID:   p.DeploymentID,
			TxHash:         receipt.TxHash,
		})
		if err != nil {
			u.log.WithError(err).Warn("Failed to record proxy in manifest")
		}
	}
	return nil
}

// UpgradeProxy points proxy at a new implementation built from factory and
// waits for the upgrade to be mined.
func (u *Upgrades) UpgradeProxy(ctx context.Context, proxy common.Address, factory *Artifact, opts UpgradeOptions) (*Proxy, error) {
	if proxy == (common.Address{}) {
		return nil, configErrorf("proxy address is required")
	}
	log := u.log.WithFields(logrus.Fields{"contract": factory.Name, "proxy": proxy.Hex()})

	code, err := u.chain.CodeAt(ctx, proxy)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, configErrorf("no contract at proxy address %s", proxy.Hex())
	}
	if err := u.checkFactory(ctx); err != nil {
		return nil, err
	}

	out, err := u.chain.Call(ctx, u.factory, mustPack("adminOf", proxy))
	if err != nil {
		return nil, err
	}
	admin, err := unpackAddress("adminOf", out)
	if err != nil {
		return nil, &ContractError{Op: "read proxy admin", Err: err}
	}
	if admin != u.chain.From() {
		return nil, configErrorf("proxy %s is administered by %s, not the sender %s", proxy.Hex(), admin.Hex(), u.chain.From().Hex())
	}

	var callData []byte
	if opts.Call != "" {
		callData, err = EncodeCall(factory.Abi, opts.Call, opts.Args)
		if err != nil {
			return nil, err
		}
	} else if len(opts.Args) > 0 {
		return nil, configErrorf("upgrade arguments given without a call")
	}

	impl, err := u.deployImplementation(ctx, log, factory, nil)
	if err != nil {
		return nil, err
	}

	data, err := packUpgrade(proxy, impl, callData)
	if err != nil {
		return nil, err
	}
	tx, err := u.chain.Transact(ctx, u.factory, data)
	if err != nil {
		return nil, err
	}
	receipt, err := u.chain.WaitMined(ctx, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &ContractError{Op: "upgrade proxy", TxHash: receipt.TxHash}
	}

	ev, err := findUpgraded(receipt, u.factory)
	if err != nil {
		return nil, &ContractError{Op: "upgrade proxy", TxHash: receipt.TxHash, Err: err}
	}
	if ev.Proxy != proxy || ev.Implementation != impl {
		return nil, &ContractError{
			Op:     "upgrade proxy",
			TxHash: receipt.TxHash,
			Err:    fmt.Errorf("factory upgraded %s to %s", ev.Proxy.Hex(), ev.Implementation.Hex()),
		}
	}

	if u.manifest != nil {
		err := u.manifest.RecordUpgrade(proxy, UpgradeRecord{
			Implementation: impl,
			Contract:       factory.Name,
			TxHash:         receipt.TxHash,
		})
		if err != nil {
			log.WithError(err).Warn("Failed to record upgrade in manifest")
		}
	}

	return &Proxy{
		u:              u,
		address:        proxy,
		Implementation: impl,
		Admin:          admin,
		Contract:       factory.Name,
		Tx:             tx,
		confirmed:      true,
	}, nil
}

func (u *Upgrades) checkFactory(ctx context.Context) error {
	code, err := u.chain.CodeAt(ctx, u.factory)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return configErrorf("no proxy factory deployed at %s", u.factory.Hex())
	}
	return nil
}

// deployImplementation reuses an implementation recorded in the manifest
// for the same creation code, or deploys and confirms a new one.
func (u *Upgrades) deployImplementation(ctx context.Context, log *logrus.Entry, factory *Artifact, ctorArgs []string) (common.Address, error) {
	code := factory.Bytecode
	if len(factory.Abi.Constructor.Inputs) > 0 || len(ctorArgs) > 0 {
		packed, err := EncodeConstructor(factory.Abi, ctorArgs)
		if err != nil {
			return common.Address{}, err
		}
		code = append(append([]byte{}, factory.Bytecode...), packed...)
	}
	key := codeKey(code)

	if u.manifest != nil {
		if rec, ok := u.manifest.Implementation(key); ok {
			existing, err := u.chain.CodeAt(ctx, rec.Address)
			if err != nil {
				return common.Address{}, err
			}
			if len(existing) > 0 {
				log.WithField("implementation", rec.Address.Hex()).Info("Reusing implementation")
				return rec.Address, nil
			}
		}
	}

	tx, addr, err := u.chain.Deploy(ctx, code)
	if err != nil {
		return common.Address{}, err
	}
	receipt, err := u.chain.WaitMined(ctx, tx)
	if err != nil {
		return common.Address{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Address{}, &ContractError{Op: "deploy " + factory.Name + " implementation", TxHash: receipt.TxHash}
	}
	log.WithField("implementation", addr.Hex()).Info("Implementation deployed")

	if u.manifest != nil {
		err := u.manifest.AddImplementation(key, ImplementationRecord{
			Address:  addr,
			Contract: factory.Name,
			TxHash:   receipt.TxHash,
		})
		if err != nil {
			log.WithError(err).Warn("Failed to record implementation in manifest")
		}
	}
	return addr, nil
}

func initializerData(factory *Artifact, args []string, opts DeployOptions) ([]byte, error) {
	if opts.NoInitializer {
		if len(args) > 0 {
			return nil, configErrorf("initializer arguments given with initializer disabled")
		}
		return nil, nil
	}
	name := opts.Initializer
	if name == "" {
		if !HasMethod(factory.Abi, defaultInitializer) {
			if len(args) > 0 {
				return nil, configErrorf("%s has no %s function for the given arguments", factory.Name, defaultInitializer)
			}
			return nil, nil
		}
		name = defaultInitializer
	}
	return EncodeCall(factory.Abi, name, args)
}

// proxySalt starts with the sender, as the factory requires for
// deterministic deployments, followed by 12 bytes of the deployment id.
func proxySalt(sender common.Address, id uuid.UUID) [32]byte {
	var salt [32]byte
	copy(salt[:20], sender.Bytes())
	copy(salt[20:], id[:12])
	return salt
}

func codeKey(code []byte) string {
	return crypto.Keccak256Hash(code).Hex()
}

func mustPack(method string, args ...interface{}) []byte {
	data, err := FactoryABI.Pack(method, args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", method, err))
	}
	return data
}
