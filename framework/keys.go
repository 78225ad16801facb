package framework

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type PrivKey struct {
	Priv *ecdsa.PrivateKey
}

func (p *PrivKey) Address() common.Address {
	return crypto.PubkeyToAddress(p.Priv.PublicKey)
}

// ParsePrivKey accepts a hex encoded secp256k1 key with or without 0x.
func ParsePrivKey(hexKey string) (*PrivKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, configErrorf("private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrConfig, err)
	}
	return &PrivKey{Priv: key}, nil
}

func NewPrivKeyFromHex(hexKey string) *PrivKey {
	key, err := ParsePrivKey(hexKey)
	if err != nil {
		panic(err)
	}
	return key
}

func GeneratePrivKey() *PrivKey {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(fmt.Sprintf("generate key: %v", err))
	}
	return &PrivKey{Priv: key}
}
