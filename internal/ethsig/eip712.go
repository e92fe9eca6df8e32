package ethsig

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var domainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

// Domain identifies an EIP-712 signing domain. Two are used in this module:
// "x402 Channel" at the HTTP boundary and "ChannelEscrow" for dispute proofs.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() common.Hash {
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], crypto.Keccak256([]byte(d.Name)))
	copy(encoded[64:96], crypto.Keccak256([]byte(d.Version)))
	copy(encoded[96:128], Pad32(d.ChainID))
	copy(encoded[128:160], AddrSlot(d.VerifyingContract))
	return crypto.Keccak256Hash(encoded)
}

// Digest produces the final signable digest:
// keccak256(0x19 || 0x01 || domainSeparator || structHash)
func (d Domain) Digest(structHash common.Hash) common.Hash {
	sep := d.Separator()
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}
