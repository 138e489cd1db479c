// Package httpgate is the HTTP admission surface: a gin middleware that
// turns unpaid requests into structured 402 challenges, admits bearer
// credentials, and enforces per-principal rate limits, plus the
// facilitator routes under /x402.
package httpgate

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kamiyo/x402/credential"
	"github.com/kamiyo/x402/logger"
	"github.com/kamiyo/x402/metrics"
	"github.com/kamiyo/x402/pricing"
	"github.com/kamiyo/x402/ratelimit"
	"github.com/kamiyo/x402/types"
	"github.com/kamiyo/x402/verifier"
)

// PrincipalContextKey is where the middleware stores the admitted
// credential's principal for downstream handlers.
const PrincipalContextKey = "x402.principal"

const (
	tokenHeader = "X-Payment-Token"
	txHeader    = "X-Payment-Tx"
	chainHeader = "X-Payment-Chain"
)

// Paths never gated: health probes and the payment surface itself.
var exemptPaths = []string{
	"/x402/",
	"/health",
	"/healthz",
	"/metrics",
	"/docs",
	"/openapi.json",
}

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Gate admits requests that carry a valid access credential and
// challenges the rest.
type Gate struct {
	cfg       *types.Config
	validator *credential.Validator
	quoter    *pricing.Issuer
	verifier  *verifier.Verifier
	limiter   ratelimit.Limiter
	log       logger.Logger
	metrics   metrics.Recorder
}

func NewGate(cfg *types.Config, validator *credential.Validator, quoter *pricing.Issuer, v *verifier.Verifier, limiter ratelimit.Limiter, log logger.Logger, rec metrics.Recorder) *Gate {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Gate{
		cfg:       cfg,
		validator: validator,
		quoter:    quoter,
		verifier:  v,
		limiter:   limiter,
		log:       log,
		metrics:   rec,
	}
}

// Middleware gates every non-exempt route. A bearer credential admits
// directly; an on-chain proof in the X-Payment-Tx/X-Payment-Chain
// headers is verified inline. Absence of either is a 402 with a payment
// challenge; a present but bad credential is a 401. The two are
// deliberately distinct so clients can tell "go pay" from "your token
// is broken".
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if isExempt(path) {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			if txID := strings.TrimSpace(c.GetHeader(txHeader)); txID != "" {
				g.admitOnchain(c, txID, path)
				return
			}
			g.writeChallenge(c, path)
			return
		}

		cred, err := g.validator.Validate(token, path)
		if err != nil {
			g.metrics.IncCounter(metrics.EventAdmissionDenied, nil)
			writeError(c, http.StatusUnauthorized, err)
			return
		}

		if !g.allowRate(c, cred.Principal) {
			return
		}

		c.Set(PrincipalContextKey, cred.Principal)
		g.metrics.IncCounter(metrics.EventAdmission, nil)
		c.Next()
	}
}

// admitOnchain redeems a payment proof submitted through the headers
// the 402 challenge advertises. The minted credential is returned in
// the X-Payment-Token response header so the client can present it on
// subsequent requests instead of re-proving.
func (g *Gate) admitOnchain(c *gin.Context, txID, path string) {
	chain := strings.TrimSpace(c.GetHeader(chainHeader))
	if chain == "" {
		chain = types.ChainBase.String()
	}
	grant, err := g.verifier.Verify(c.Request.Context(), &types.VerifyRequest{
		Chain:    chain,
		TxID:     txID,
		Resource: path,
	})
	if err != nil {
		g.metrics.IncCounter(metrics.EventAdmissionDenied, nil)
		writeError(c, verifyStatus(err), err)
		return
	}

	if !g.allowRate(c, grant.Credential.Principal) {
		return
	}

	c.Header(tokenHeader, grant.Token)
	c.Set(PrincipalContextKey, grant.Credential.Principal)
	g.metrics.IncCounter(metrics.EventAdmission, nil)
	c.Next()
}

func (g *Gate) writeChallenge(c *gin.Context, path string) {
	principal := strings.TrimSpace(c.Query("payer"))
	challenge := g.quoter.Challenge(c.Request.Context(), path, principal)
	g.metrics.IncCounter(metrics.EventChallengeIssued, nil)

	c.Header("X-Payment-Required", "true")
	c.Header("X-Payment-Amount", challenge.Amount)
	currency := "USDC"
	if len(challenge.Prices) > 0 {
		currency = challenge.Prices[0].AssetSymbol
	}
	c.Header("X-Payment-Currency", currency)

	c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
		"error":     "Payment Required",
		"status":    http.StatusPaymentRequired,
		"challenge": challenge,
		"payment_methods": gin.H{
			"onchain": gin.H{
				"verify_endpoint": "/x402/verify",
				"headers":         []string{txHeader, chainHeader},
			},
			"token": gin.H{"header": tokenHeader},
		},
	})
}

func (g *Gate) allowRate(c *gin.Context, principal string) bool {
	if g.limiter == nil || g.cfg.RateLimitRequests <= 0 {
		return true
	}
	decision, err := g.limiter.Allow(c.Request.Context(), "principal:"+principal, g.cfg.RateLimitRequests, g.cfg.RateLimitWindow)
	if err != nil {
		// Fail open on limiter trouble: the credential itself already
		// proved payment, throttling is a secondary control.
		g.log.Warn("rate limiter unavailable, admitting", map[string]any{"error": err.Error()})
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		g.metrics.IncCounter(metrics.EventRateLimited, nil)
		writeError(c, http.StatusTooManyRequests, &types.Error{
			Code:    types.ErrRateLimited,
			Message: "rate limit exceeded",
			Data:    map[string]any{"resetAt": decision.ResetAt.UTC().Format(time.RFC3339)},
		})
		return false
	}
	return true
}

func isExempt(path string) bool {
	for _, e := range exemptPaths {
		if path == strings.TrimSuffix(e, "/") || strings.HasPrefix(path, e) {
			return true
		}
	}
	return false
}

func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if t, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	return strings.TrimSpace(c.GetHeader(tokenHeader))
}

func writeRateLimitHeaders(c *gin.Context, decision ratelimit.Decision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}

func writeError(c *gin.Context, status int, err error) {
	var xerr *types.Error
	if errors.As(err, &xerr) {
		c.AbortWithStatusJSON(status, errorResponse{Code: xerr.Code, Message: xerr.Message, Data: xerr.Data})
		return
	}
	c.AbortWithStatusJSON(status, errorResponse{Code: types.ErrInvalidRequest, Message: err.Error()})
}
