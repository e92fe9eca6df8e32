package auth

import (
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roudra323/x402-prototype/internal/x402"
)

// AgentKey is the gin context key holding the admitted agent address.
const AgentKey = "agent_address"

// sessionNonceKey prefixes the per-session monotonic nonce counter.
const sessionNonceKey = "x402:nonce:"

const maxAuthSkew = 5 * time.Minute

// acceptNonceScript admits a nonce iff it is strictly greater than the last
// accepted one for the session, and records it. Single round-trip, atomic
// under concurrent requests for the same session.
//
// KEYS[1] = session nonce key
// ARGV[1] = presented nonce
var acceptNonceScript = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[1]) or '-1')
local n = tonumber(ARGV[1])
if n <= last then return 0 end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// Admission is the x402 payment gate for paid endpoints. Requests without a
// valid channel authorization receive 402 plus a challenge header describing
// how to open a channel.
type Admission struct {
	rdb        *redis.Client
	chainID    *big.Int
	escrowAddr common.Address
	challenge  x402.Challenge
	log        *zap.Logger
}

func NewAdmission(rdb *redis.Client, chainID *big.Int, escrowAddr common.Address, challenge x402.Challenge, log *zap.Logger) *Admission {
	return &Admission{rdb: rdb, chainID: chainID, escrowAddr: escrowAddr, challenge: challenge, log: log}
}

// Gate returns the gin middleware.
func (ad *Admission) Gate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(x402.HeaderAuthorization)
		if header == "" {
			ad.reject(c, "payment required")
			return
		}

		var payload x402.PaymentPayload
		if err := x402.Decode(header, &payload); err != nil {
			ad.reject(c, "malformed payment header")
			return
		}

		agent, err := VerifyChannelAuth(&payload, c.FullPath(), ad.chainID, ad.escrowAddr)
		if err != nil {
			ad.log.Warn("payment authorization rejected", zap.Error(err))
			ad.reject(c, "invalid payment authorization")
			return
		}

		now := time.Now().Unix()
		ts := payload.Channel.Timestamp
		if ts < now-int64(maxAuthSkew.Seconds()) || ts > now+int64(maxAuthSkew.Seconds()) {
			ad.reject(c, "stale payment authorization")
			return
		}

		key := sessionNonceKey + payload.Channel.SessionID
		ok, err := acceptNonceScript.Run(c.Request.Context(), ad.rdb, []string{key}, payload.Channel.Nonce).Int64()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if ok == 0 {
			ad.reject(c, "nonce not monotonic")
			return
		}

		c.Set(AgentKey, agent.Hex())
		c.Next()
	}
}

// Agent returns the admitted agent from the request context.
func Agent(c *gin.Context) common.Address {
	return common.HexToAddress(c.GetString(AgentKey))
}

func (ad *Admission) reject(c *gin.Context, reason string) {
	ch := ad.challenge
	ch.Expiry = time.Now().Add(maxAuthSkew).Unix()
	if encoded, err := x402.Encode(ch); err == nil {
		c.Header(x402.HeaderChallenge, encoded)
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": reason})
}
