package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Version is the x402 protocol version this module speaks.
const Version = 1

// Transport header names. Each carries base64-encoded JSON.
const (
	HeaderChallenge     = "X-Payment-Required"
	HeaderAuthorization = "X-Payment"
	HeaderReceipt       = "X-Payment-Receipt"
)

// Scheme tags the payment authorization variant. The escrow only settles the
// channel scheme; exact is carried for protocol completeness.
const (
	SchemeChannel = "channel"
	SchemeExact   = "exact"
)

var ErrUnsupportedScheme = errors.New("x402: unsupported payment scheme")

// Challenge is the 402 payment-required payload.
type Challenge struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	ChainID     int64          `json:"chainId"`
	Network     string         `json:"network"`
	PayTo       string         `json:"payTo"`
	Asset       string         `json:"asset"`
	MaxAmount   string         `json:"maxAmount"`
	Expiry      int64          `json:"expiry"`
	Extra       ChallengeExtra `json:"extra"`
}

type ChallengeExtra struct {
	EscrowAddress      string `json:"escrowAddress"`
	MinDeposit         string `json:"minDeposit"`
	FacilitatorAddress string `json:"facilitatorAddress"`
	FacilitatorBond    string `json:"facilitatorBond"`
}

// PaymentPayload is the authorization header payload: a tagged variant over
// the channel and exact schemes.
type PaymentPayload struct {
	X402Version  int    `json:"x402Version"`
	Scheme       string `json:"scheme"`
	AgentAddress string `json:"agentAddress"`
	Signature    string `json:"signature"` // 65 bytes, 0x-hex

	// Exactly one of the following is set, per Scheme.
	Channel *ChannelAuthorization `json:"authorization,omitempty"`
	Exact   *ExactAuthorization   `json:"exactAuthorization,omitempty"`
}

// ChannelAuthorization is the channel-scheme variant: the agent's consent to
// open a session against the escrow.
type ChannelAuthorization struct {
	Scheme        string `json:"scheme"`
	EscrowAddress string `json:"escrowAddress"`
	SessionID     string `json:"sessionId"`
	Nonce         uint64 `json:"nonce"`
	Timestamp     int64  `json:"timestamp"`
}

// ExactAuthorization is the exact-scheme variant (EIP-3009 style one-shot
// transfer). Not settled by this escrow.
type ExactAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ReceiptHeader is the per-call receipt payload returned by the server.
type ReceiptHeader struct {
	CallID          string `json:"callId"` // 32 bytes, 0x-hex
	Endpoint        string `json:"endpoint"`
	Cost            string `json:"cost"` // decimal string, minor units
	Timestamp       int64  `json:"timestamp"`
	ServerSignature string `json:"serverSignature"`
}

// Encode serializes v as base64(JSON) for header transport.
func Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("x402 encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses a base64(JSON) header value into out.
func Decode(header string, out any) error {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return fmt.Errorf("x402 decode base64: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("x402 decode json: %w", err)
	}
	return nil
}

// ParseAmount converts a decimal-string amount into minor units. The string
// must be a non-negative integer — the protocol has a single configured
// minor unit, so fractional values are malformed.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("x402 amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("x402 amount %q: negative", s)
	}
	if !d.IsInteger() {
		return nil, fmt.Errorf("x402 amount %q: fractional minor units", s)
	}
	return d.BigInt(), nil
}

// FormatAmount renders minor units as the protocol's decimal string.
func FormatAmount(n *big.Int) string {
	return decimal.NewFromBigInt(n, 0).String()
}
