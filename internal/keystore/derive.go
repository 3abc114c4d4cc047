package keystore

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

const custodyKeyInfo = "kei/treasury/custody/v1"

// deriveCustodyKey expands the bip39 seed into a secp256k1 custody key.
// The hkdf info tag is bumped with a counter on the (vanishingly rare)
// chance the expanded bytes fall outside the curve order.
func deriveCustodyKey(seed []byte) (*ecdsa.PrivateKey, error) {
	for i := 0; i < 10; i++ {
		info := custodyKeyInfo
		if i > 0 {
			info = fmt.Sprintf("%s/%d", custodyKeyInfo, i)
		}
		material, err := hkdfExpand(seed, info, 32)
		if err != nil {
			return nil, err
		}
		key, err := ethcrypto.ToECDSA(material)
		zeroBytes(material)
		if err == nil {
			return key, nil
		}
	}
	return nil, errors.New("derive custody key: no valid scalar")
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
