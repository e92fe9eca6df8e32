package auth

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roudra323/x402-prototype/internal/ethsig"
	"github.com/roudra323/x402-prototype/internal/x402"
)

var channelAuthTypeHash = crypto.Keccak256Hash([]byte(
	"ChannelAuthorization(address agent,string sessionId,string endpoint,uint256 nonce,uint256 timestamp)",
))

// ChannelAuthDomain is the EIP-712 domain for HTTP-boundary channel
// authorizations.
func ChannelAuthDomain(chainID *big.Int, escrowAddr common.Address) ethsig.Domain {
	return ethsig.Domain{
		Name:              "x402 Channel",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: escrowAddr,
	}
}

// ChannelAuthDigest computes the signable digest for a channel
// authorization. endpoint is the resource path the agent is authorizing
// spend against; string fields are keccak-hashed into their slots.
func ChannelAuthDigest(agent common.Address, a *x402.ChannelAuthorization, endpoint string, chainID *big.Int, escrowAddr common.Address) common.Hash {
	encoded := make([]byte, 6*32)
	copy(encoded[0:32], channelAuthTypeHash[:])
	copy(encoded[32:64], ethsig.AddrSlot(agent))
	copy(encoded[64:96], crypto.Keccak256([]byte(a.SessionID)))
	copy(encoded[96:128], crypto.Keccak256([]byte(endpoint)))
	copy(encoded[128:160], ethsig.U256(new(big.Int).SetUint64(a.Nonce)))
	copy(encoded[160:192], ethsig.U256(big.NewInt(a.Timestamp)))
	structHash := crypto.Keccak256Hash(encoded)
	return ChannelAuthDomain(chainID, escrowAddr).Digest(structHash)
}

// SignChannelAuth produces the agent's authorization signature for the
// payment payload, V in 27/28. Client-side helper; the server only verifies.
func SignChannelAuth(key *ecdsa.PrivateKey, a *x402.ChannelAuthorization, endpoint string, chainID *big.Int, escrowAddr common.Address) ([]byte, error) {
	agent := crypto.PubkeyToAddress(key.PublicKey)
	digest := ChannelAuthDigest(agent, a, endpoint, chainID, escrowAddr)
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// VerifyChannelAuth checks a payment payload's channel authorization and
// returns the recovered agent address.
func VerifyChannelAuth(p *x402.PaymentPayload, endpoint string, chainID *big.Int, escrowAddr common.Address) (common.Address, error) {
	if p.Scheme != x402.SchemeChannel || p.Channel == nil {
		return common.Address{}, x402.ErrUnsupportedScheme
	}
	claimed := common.HexToAddress(p.AgentAddress)

	sig, err := hex.DecodeString(strings.TrimPrefix(p.Signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("authorization signature hex: %w", err)
	}

	digest := ChannelAuthDigest(claimed, p.Channel, endpoint, chainID, escrowAddr)
	recovered, err := ethsig.Recover(digest[:], sig)
	if err != nil {
		return common.Address{}, err
	}
	if recovered != claimed {
		return common.Address{}, fmt.Errorf("%w: signed by %s, claimed %s", ethsig.ErrInvalidSignature, recovered.Hex(), claimed.Hex())
	}
	return recovered, nil
}
