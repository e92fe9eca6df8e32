package ethsig

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// U256 encodes n as a 32-byte big-endian word (the abi.encodePacked layout
// for uint256). n must be non-negative and fit in 256 bits.
func U256(n *big.Int) []byte {
	b := make([]byte, 32)
	n.FillBytes(b)
	return b
}

// U256FromInt64 is U256 for plain int64 values (timestamps, costs in tests).
func U256FromInt64(v int64) []byte {
	return U256(big.NewInt(v))
}

// Pad32 left-pads n into a 32-byte abi.encode slot.
func Pad32(n *big.Int) []byte {
	return U256(n)
}

// AddrSlot right-aligns an address in a 32-byte abi.encode slot.
func AddrSlot(a common.Address) []byte {
	slot := make([]byte, 32)
	copy(slot[12:], a.Bytes())
	return slot
}

// KeccakPacked hashes the concatenation of the given byte sequences, i.e.
// keccak256(abi.encodePacked(...)) with the parts already width-encoded by
// the caller (addresses 20 bytes, uint256 via U256, bytes32 verbatim,
// strings/bytes raw without a length prefix).
func KeccakPacked(parts ...[]byte) common.Hash {
	return crypto.Keccak256Hash(parts...)
}
