package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roudra323/x402-prototype/internal/ethsig"
	"github.com/roudra323/x402-prototype/internal/x402"
)

var (
	testChainID    = big.NewInt(31337)
	testEscrowAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// ── Channel authorization (EIP-712) ──────────────────────────────────────────

func newChannelAuth(nonce uint64) *x402.ChannelAuthorization {
	return &x402.ChannelAuthorization{
		Scheme:        x402.SchemeChannel,
		EscrowAddress: testEscrowAddr.Hex(),
		SessionID:     "sess-abc",
		Nonce:         nonce,
		Timestamp:     time.Now().Unix(),
	}
}

func signedPayload(t *testing.T, key *ecdsa.PrivateKey, a *x402.ChannelAuthorization, endpoint string) *x402.PaymentPayload {
	t.Helper()
	sig, err := SignChannelAuth(key, a, endpoint, testChainID, testEscrowAddr)
	if err != nil {
		t.Fatalf("SignChannelAuth: %v", err)
	}
	return &x402.PaymentPayload{
		X402Version:  x402.Version,
		Scheme:       x402.SchemeChannel,
		AgentAddress: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Signature:    hexutil.Encode(sig),
		Channel:      a,
	}
}

func TestVerifyChannelAuth_RoundTrip(t *testing.T) {
	key, _ := crypto.GenerateKey()
	want := crypto.PubkeyToAddress(key.PublicKey)

	p := signedPayload(t, key, newChannelAuth(1), "/paid/echo")
	got, err := VerifyChannelAuth(p, "/paid/echo", testChainID, testEscrowAddr)
	if err != nil {
		t.Fatalf("VerifyChannelAuth: %v", err)
	}
	if got != want {
		t.Errorf("recovered %s, want %s", got.Hex(), want.Hex())
	}
}

func TestVerifyChannelAuth_WrongEndpoint(t *testing.T) {
	key, _ := crypto.GenerateKey()
	p := signedPayload(t, key, newChannelAuth(1), "/paid/echo")
	if _, err := VerifyChannelAuth(p, "/paid/other", testChainID, testEscrowAddr); err == nil {
		t.Error("signature bound to one endpoint verified for another")
	}
}

func TestVerifyChannelAuth_ClaimedAddressMismatch(t *testing.T) {
	key, _ := crypto.GenerateKey()
	p := signedPayload(t, key, newChannelAuth(1), "/paid/echo")
	p.AgentAddress = "0x9999999999999999999999999999999999999999"
	if _, err := VerifyChannelAuth(p, "/paid/echo", testChainID, testEscrowAddr); err == nil {
		t.Error("payload with forged agent address verified")
	}
}

func TestVerifyChannelAuth_ExactSchemeRejected(t *testing.T) {
	p := &x402.PaymentPayload{
		Scheme: x402.SchemeExact,
		Exact:  &x402.ExactAuthorization{},
	}
	if _, err := VerifyChannelAuth(p, "/", testChainID, testEscrowAddr); err == nil {
		t.Error("exact scheme must be rejected by the channel verifier")
	}
}

// ── Admission gate ───────────────────────────────────────────────────────────

func newGateRouter(t *testing.T) (*gin.Engine, *redis.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rdb := newTestRedis(t)
	challenge := x402.Challenge{
		X402Version: x402.Version,
		Scheme:      x402.SchemeChannel,
		ChainID:     testChainID.Int64(),
	}
	ad := NewAdmission(rdb, testChainID, testEscrowAddr, challenge, zap.NewNop())

	r := gin.New()
	paid := r.Group("/paid", ad.Gate())
	paid.GET("/echo", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agent": c.GetString(AgentKey)})
	})
	return r, rdb
}

func doPaid(t *testing.T, r *gin.Engine, payload *x402.PaymentPayload) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/paid/echo", nil)
	if payload != nil {
		encoded, err := x402.Encode(payload)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set(x402.HeaderAuthorization, encoded)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGate_MissingPaymentGets402WithChallenge(t *testing.T) {
	r, _ := newGateRouter(t)
	w := doPaid(t, r, nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status: got %d want 402", w.Code)
	}
	if w.Header().Get(x402.HeaderChallenge) == "" {
		t.Error("402 response missing challenge header")
	}
}

func TestGate_ValidAuthorizationAdmits(t *testing.T) {
	r, _ := newGateRouter(t)
	key, _ := crypto.GenerateKey()
	w := doPaid(t, r, signedPayload(t, key, newChannelAuth(1), "/paid/echo"))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d want 200 (%s)", w.Code, w.Body.String())
	}
}

func TestGate_NonceMustIncrease(t *testing.T) {
	r, _ := newGateRouter(t)
	key, _ := crypto.GenerateKey()

	if w := doPaid(t, r, signedPayload(t, key, newChannelAuth(5), "/paid/echo")); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	// Replay with the same nonce.
	if w := doPaid(t, r, signedPayload(t, key, newChannelAuth(5), "/paid/echo")); w.Code != http.StatusPaymentRequired {
		t.Errorf("replayed nonce: got %d want 402", w.Code)
	}
	// Lower nonce also refused.
	if w := doPaid(t, r, signedPayload(t, key, newChannelAuth(4), "/paid/echo")); w.Code != http.StatusPaymentRequired {
		t.Errorf("lower nonce: got %d want 402", w.Code)
	}
	// Strictly higher admits.
	if w := doPaid(t, r, signedPayload(t, key, newChannelAuth(6), "/paid/echo")); w.Code != http.StatusOK {
		t.Errorf("higher nonce: got %d want 200", w.Code)
	}
}

func TestGate_StaleTimestamp(t *testing.T) {
	r, _ := newGateRouter(t)
	key, _ := crypto.GenerateKey()
	a := newChannelAuth(1)
	a.Timestamp = time.Now().Add(-time.Hour).Unix()
	if w := doPaid(t, r, signedPayload(t, key, a, "/paid/echo")); w.Code != http.StatusPaymentRequired {
		t.Errorf("stale authorization: got %d want 402", w.Code)
	}
}

// ── Wallet middleware ────────────────────────────────────────────────────────

func newWalletRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rdb := newTestRedis(t)
	r := gin.New()
	api := r.Group("/api", Middleware(rdb))
	api.POST("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"caller": c.GetString(CallerKey)})
	})
	return r
}

func signedWalletRequest(t *testing.T, key *ecdsa.PrivateKey, nonce string) *http.Request {
	t.Helper()
	msg, err := json.Marshal(SignedRequest{
		Action:    "ping",
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
		Nonce:     nonce,
	})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := crypto.Sign(ethsig.HashPersonal(msg), key)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/ping", nil)
	req.Header.Set("X-Wallet-Address", crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set("X-Signed-Message", base64.StdEncoding.EncodeToString(msg))
	req.Header.Set("X-Wallet-Signature", hexutil.Encode(sig))
	return req
}

func TestMiddleware_ValidSignature(t *testing.T) {
	r := newWalletRouter(t)
	key, _ := crypto.GenerateKey()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedWalletRequest(t, key, "n-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", w.Code, w.Body.String())
	}
}

func TestMiddleware_MissingHeaders(t *testing.T) {
	r := newWalletRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/ping", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d want 401", w.Code)
	}
}

func TestMiddleware_NonceReplay(t *testing.T) {
	r := newWalletRouter(t)
	key, _ := crypto.GenerateKey()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedWalletRequest(t, key, "n-dup"))
	if w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, signedWalletRequest(t, key, "n-dup"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("replay: got %d want 401", w.Code)
	}
}

func TestMiddleware_WrongAddress(t *testing.T) {
	r := newWalletRouter(t)
	key, _ := crypto.GenerateKey()

	req := signedWalletRequest(t, key, "n-2")
	req.Header.Set("X-Wallet-Address", "0x9999999999999999999999999999999999999999")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("forged address: got %d want 401", w.Code)
	}
}
