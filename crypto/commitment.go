package crypto

import (
	"crypto/rand"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// CommitmentHash binds a ceiling step to its secret salt:
// keccak256(uint256 delta || uint8 last || bytes32 salt), all big-endian.
// The boolean ok is false when delta is negative or wider than 256 bits.
func CommitmentHash(delta *big.Int, last bool, salt common.Hash) (common.Hash, bool) {
	if delta == nil || delta.Sign() < 0 {
		return common.Hash{}, false
	}
	word, overflow := uint256.FromBig(delta)
	if overflow {
		return common.Hash{}, false
	}
	encoded := word.Bytes32()
	flag := byte(0)
	if last {
		flag = 1
	}
	return crypto.Keccak256Hash(encoded[:], []byte{flag}, salt.Bytes()), true
}

// RandomSalt draws a fresh 32-byte salt for a ceiling commitment.
func RandomSalt() (common.Hash, error) {
	var salt common.Hash
	if _, err := rand.Read(salt[:]); err != nil {
		return common.Hash{}, err
	}
	return salt, nil
}
