package escrow

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roudra323/x402-prototype/internal/ethsig"
)

var callTypeHash = crypto.Keccak256Hash([]byte(
	"CallAuthorization(bytes32 callId,uint256 cost,uint256 timestamp,address escrow)",
))

// CallDomain is the EIP-712 domain for dispute-time call authorizations.
func CallDomain(chainID *big.Int, escrowAddr common.Address) ethsig.Domain {
	return ethsig.Domain{
		Name:              "ChannelEscrow",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: escrowAddr,
	}
}

// CallDigest is the signable typed-data digest for one call entry.
func CallDigest(c SignedCall, chainID *big.Int, escrowAddr common.Address) common.Hash {
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], callTypeHash[:])
	copy(encoded[32:64], c.CallID[:])
	copy(encoded[64:96], ethsig.U256(c.Cost))
	copy(encoded[96:128], ethsig.U256(c.Timestamp))
	copy(encoded[128:160], ethsig.AddrSlot(escrowAddr))
	structHash := crypto.Keccak256Hash(encoded)
	return CallDomain(chainID, escrowAddr).Digest(structHash)
}

// SignCall attaches the payer's call authorization signature, V in 27/28.
func SignCall(c *SignedCall, key *ecdsa.PrivateKey, chainID *big.Int, escrowAddr common.Address) error {
	digest := CallDigest(*c, chainID, escrowAddr)
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return err
	}
	sig[64] += 27
	c.Signature = sig
	return nil
}

// CallLeaf is the Merkle leaf for a call:
// keccak256(callId || cost || timestamp), each slot 32 bytes big-endian.
func CallLeaf(callID common.Hash, cost, timestamp *big.Int) common.Hash {
	return ethsig.KeccakPacked(callID[:], ethsig.U256(cost), ethsig.U256(timestamp))
}
