package framework

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Dialer opens the Chain a session runs against. DialClient is the
// production one; tests substitute fakes.
type Dialer func(ctx context.Context, log *logrus.Entry, cfg ChainConfig) (Chain, func(), error)

func DialClient(ctx context.Context, log *logrus.Entry, cfg ChainConfig) (Chain, func(), error) {
	c, err := DialChain(ctx, log, cfg)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

// Session bundles everything a deploy or upgrade needs: the network, the
// artifacts and the manifest of the connected chain.
type Session struct {
	Chain    Chain
	Registry *Registry
	Manifest *Manifest
	Upgrades *Upgrades

	close func()
}

func OpenSession(ctx context.Context, log *logrus.Entry, cfg *Config, dial Dialer) (*Session, error) {
	if dial == nil {
		return nil, errors.New("no dialer")
	}
	chain, closeFn, err := dial(ctx, log, cfg.ChainConfig())
	if err != nil {
		return nil, err
	}

	manifest, err := OpenManifest(cfg.ManifestDir, chain.ChainID())
	if err != nil {
		closeFn()
		return nil, err
	}
	log.WithField("manifest", manifest.Path()).Debug("Manifest loaded")

	return &Session{
		Chain:    chain,
		Registry: NewRegistry(cfg.Artifacts...),
		Manifest: manifest,
		Upgrades: NewUpgrades(log, chain, UpgradesConfig{
			Factory:  cfg.Factory,
			Admin:    cfg.Admin,
			Manifest: manifest,
		}),
		close: closeFn,
	}, nil
}

func (s *Session) Close() {
	if s.close != nil {
		s.close()
	}
}
