package ethsig

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	testChainID  = big.NewInt(31337)
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

func testDomain() Domain {
	return Domain{
		Name:              "ChannelEscrow",
		Version:           "1",
		ChainID:           testChainID,
		VerifyingContract: testContract,
	}
}

func TestSeparator_Stable(t *testing.T) {
	if testDomain().Separator() != testDomain().Separator() {
		t.Fatal("separator is not stable")
	}
}

func TestSeparator_ChainIDDiff(t *testing.T) {
	a := testDomain()
	b := testDomain()
	b.ChainID = big.NewInt(1)
	if a.Separator() == b.Separator() {
		t.Fatal("different chainIDs should produce different separators")
	}
}

func TestSeparator_NameDiff(t *testing.T) {
	a := testDomain()
	b := testDomain()
	b.Name = "x402 Channel"
	if a.Separator() == b.Separator() {
		t.Fatal("different names should produce different separators")
	}
}

func TestSeparator_ContractDiff(t *testing.T) {
	a := testDomain()
	b := testDomain()
	b.VerifyingContract = common.HexToAddress("0x01")
	if a.Separator() == b.Separator() {
		t.Fatal("different contracts should produce different separators")
	}
}

func TestDigest_PrefixBinding(t *testing.T) {
	structHash := crypto.Keccak256Hash([]byte("struct"))
	d := testDomain()

	// Recompute by hand: keccak256(0x19 || 0x01 || separator || structHash)
	sep := d.Separator()
	want := crypto.Keccak256Hash([]byte{0x19, 0x01}, sep[:], structHash[:])
	if got := d.Digest(structHash); got != want {
		t.Errorf("digest mismatch: got %s want %s", got.Hex(), want.Hex())
	}
}

func TestU256_Width(t *testing.T) {
	b := U256(big.NewInt(1))
	if len(b) != 32 || b[31] != 1 {
		t.Errorf("U256(1) = %x", b)
	}
}

func TestAddrSlot_RightAligned(t *testing.T) {
	slot := AddrSlot(testContract)
	if len(slot) != 32 {
		t.Fatalf("slot length %d", len(slot))
	}
	for _, b := range slot[:12] {
		if b != 0 {
			t.Fatal("address slot not left zero-padded")
		}
	}
	if common.BytesToAddress(slot[12:]) != testContract {
		t.Fatal("address not preserved in slot")
	}
}

func TestKeccakPacked_MatchesConcat(t *testing.T) {
	a, b := []byte{1, 2}, []byte{3}
	if KeccakPacked(a, b) != crypto.Keccak256Hash([]byte{1, 2, 3}) {
		t.Fatal("packed hash differs from concatenation hash")
	}
}
