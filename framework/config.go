package framework

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "DWELLA"

func prefixEnvVar(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	RPCURLFlag = &cli.StringFlag{
		Name:    "rpc-url",
		Usage:   "JSON-RPC endpoint of the target network",
		EnvVars: prefixEnvVar("RPC_URL"),
	}
	PrivateKeyFlag = &cli.StringFlag{
		Name:    "private-key",
		Usage:   "hex encoded key of the deploying account",
		EnvVars: prefixEnvVar("PRIVATE_KEY"),
	}
	ChainIDFlag = &cli.Uint64Flag{
		Name:    "chain-id",
		Usage:   "expected chain id, checked against the node (0 skips the check)",
		EnvVars: prefixEnvVar("CHAIN_ID"),
	}
	FactoryFlag = &cli.StringFlag{
		Name:    "factory",
		Usage:   "ERC1967Factory address",
		Value:   DefaultFactoryAddress.Hex(),
		EnvVars: prefixEnvVar("FACTORY"),
	}
	AdminFlag = &cli.StringFlag{
		Name:    "admin",
		Usage:   "admin of newly deployed proxies (default: the sender)",
		EnvVars: prefixEnvVar("ADMIN"),
	}
	ArtifactsFlag = &cli.StringSliceFlag{
		Name:    "artifacts",
		Usage:   "artifact directories searched for contracts, in order",
		Value:   cli.NewStringSlice("artifacts", "out"),
		EnvVars: prefixEnvVar("ARTIFACTS"),
	}
	ManifestDirFlag = &cli.StringFlag{
		Name:    "manifest-dir",
		Usage:   "directory holding the per-chain deployment manifests",
		Value:   ".deployments",
		EnvVars: prefixEnvVar("MANIFEST_DIR"),
	}
	TimeoutFlag = &cli.DurationFlag{
		Name:    "timeout",
		Usage:   "overall deadline for the command",
		Value:   10 * time.Minute,
		EnvVars: prefixEnvVar("TIMEOUT"),
	}
	GasLimitFlag = &cli.Uint64Flag{
		Name:    "gas-limit",
		Usage:   "gas limit for every transaction (0 estimates)",
		EnvVars: prefixEnvVar("GAS_LIMIT"),
	}
	GasFeeCapFlag = &cli.StringFlag{
		Name:    "gas-fee-cap",
		Usage:   "EIP-1559 fee cap in wei (default: 2x base fee + tip)",
		EnvVars: prefixEnvVar("GAS_FEE_CAP"),
	}
	GasTipCapFlag = &cli.StringFlag{
		Name:    "gas-tip-cap",
		Usage:   "EIP-1559 tip cap in wei (default: node suggestion)",
		EnvVars: prefixEnvVar("GAS_TIP_CAP"),
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "trace|debug|info|warn|error",
		Value:   "info",
		EnvVars: prefixEnvVar("LOG_LEVEL"),
	}
	LogFormatFlag = &cli.StringFlag{
		Name:    "log.format",
		Usage:   "text|json",
		Value:   "text",
		EnvVars: prefixEnvVar("LOG_FORMAT"),
	}
)

var requiredFlags = []cli.Flag{
	RPCURLFlag,
	PrivateKeyFlag,
}

var optionalFlags = []cli.Flag{
	ChainIDFlag,
	FactoryFlag,
	AdminFlag,
	ArtifactsFlag,
	ManifestDirFlag,
	TimeoutFlag,
	GasLimitFlag,
	GasFeeCapFlag,
	GasTipCapFlag,
	LogLevelFlag,
	LogFormatFlag,
}

// Flags are the network flags shared by every command.
var Flags = append(append([]cli.Flag{}, requiredFlags...), optionalFlags...)

// LogFlags is the subset used by commands that never send transactions.
var LogFlags = []cli.Flag{LogLevelFlag, LogFormatFlag}

type Config struct {
	RPCURL      string
	Key         *PrivKey
	ChainID     *big.Int
	Factory     common.Address
	Admin       common.Address
	Artifacts   []string
	ManifestDir string
	Timeout     time.Duration
	GasLimit    uint64
	GasFeeCap   *big.Int
	GasTipCap   *big.Int
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		name := f.Names()[0]
		if strings.TrimSpace(ctx.String(name)) == "" {
			return configErrorf("flag --%s is required", name)
		}
	}
	return nil
}

func ReadConfig(ctx *cli.Context) (*Config, error) {
	if err := CheckRequired(ctx); err != nil {
		return nil, err
	}

	key, err := ParsePrivKey(ctx.String(PrivateKeyFlag.Name))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCURL:      ctx.String(RPCURLFlag.Name),
		Key:         key,
		Artifacts:   ctx.StringSlice(ArtifactsFlag.Name),
		ManifestDir: ctx.String(ManifestDirFlag.Name),
		Timeout:     ctx.Duration(TimeoutFlag.Name),
		GasLimit:    ctx.Uint64(GasLimitFlag.Name),
	}
	if id := ctx.Uint64(ChainIDFlag.Name); id != 0 {
		cfg.ChainID = new(big.Int).SetUint64(id)
	}

	if cfg.Factory, err = ParseAddress(FactoryFlag.Name, ctx.String(FactoryFlag.Name)); err != nil {
		return nil, err
	}
	if v := ctx.String(AdminFlag.Name); v != "" {
		if cfg.Admin, err = ParseAddress(AdminFlag.Name, v); err != nil {
			return nil, err
		}
	}
	if cfg.GasFeeCap, err = parseWei(GasFeeCapFlag.Name, ctx.String(GasFeeCapFlag.Name)); err != nil {
		return nil, err
	}
	if cfg.GasTipCap, err = parseWei(GasTipCapFlag.Name, ctx.String(GasTipCapFlag.Name)); err != nil {
		return nil, err
	}
	if cfg.GasFeeCap != nil && cfg.GasTipCap != nil && cfg.GasTipCap.Cmp(cfg.GasFeeCap) > 0 {
		return nil, configErrorf("gas tip cap %s exceeds gas fee cap %s", cfg.GasTipCap, cfg.GasFeeCap)
	}
	if cfg.Timeout <= 0 {
		return nil, configErrorf("timeout must be positive")
	}
	return cfg, nil
}

func (c *Config) ChainConfig() ChainConfig {
	return ChainConfig{
		RPCURL:    c.RPCURL,
		ChainID:   c.ChainID,
		Key:       c.Key,
		GasLimit:  c.GasLimit,
		GasFeeCap: c.GasFeeCap,
		GasTipCap: c.GasTipCap,
	}
}

// ParseAddress validates a hex address; empty input is an error.
func ParseAddress(field, v string) (common.Address, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return common.Address{}, configErrorf("%s is required", field)
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, configErrorf("%s: invalid address %q", field, v)
	}
	return common.HexToAddress(v), nil
}

func parseWei(field, v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	n, err := uint256.FromDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, field, err)
	}
	return n.ToBig(), nil
}
