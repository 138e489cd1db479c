package httpgate

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kamiyo/x402/staking"
	"github.com/kamiyo/x402/types"
)

// Register mounts the facilitator routes under /x402 on r. These routes
// are exempt from the admission middleware: pricing discovery,
// supported-chain discovery, and payment-proof verification.
func (g *Gate) Register(r gin.IRouter) {
	grp := r.Group("/x402")
	grp.GET("/pricing", g.handlePricing)
	grp.GET("/chains", g.handleChains)
	grp.POST("/verify", g.handleVerify)
}

func (g *Gate) handlePricing(c *gin.Context) {
	prices := make(map[string]string, len(g.cfg.ResourcePrices))
	for resource, price := range g.cfg.ResourcePrices {
		prices[resource] = price.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"default_price":    g.cfg.DefaultPrice.String(),
		"resource_prices":  prices,
		"credential_ttl":   g.cfg.CredentialTTL.String(),
		"challenge_ttl":    g.cfg.ChallengeTTL.String(),
		"payment_methods":  []string{"onchain", "token"},
		"supported_chains": g.verifier.SupportedChains(),
		"discount_tiers":   tierList(),
	})
}

func tierList() []gin.H {
	var out []gin.H
	for _, t := range staking.Tiers() {
		out = append(out, gin.H{
			"name":         t.Name,
			"min_stake":    t.MinStake.String(),
			"discount_bps": t.DiscountBps,
		})
	}
	return out
}

func (g *Gate) handleChains(c *gin.Context) {
	var out []gin.H
	for _, chain := range g.verifier.SupportedChains() {
		cc := g.cfg.Chains[chain]
		out = append(out, gin.H{
			"name":            chain.String(),
			"payment_address": cc.PaymentAddress,
			"asset":           cc.Asset,
			"asset_symbol":    cc.AssetSymbol,
			"asset_decimals":  cc.AssetDecimals,
			"confirmations":   cc.Confirmations,
			"testnet":         chain.IsTestnet(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"chains": out})
}

func (g *Gate) handleVerify(c *gin.Context) {
	var req types.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, &types.Error{
			Code:    types.ErrInvalidRequest,
			Message: "malformed verify request: " + err.Error(),
		})
		return
	}
	req.Chain = strings.TrimSpace(req.Chain)
	req.TxID = strings.TrimSpace(req.TxID)

	grant, err := g.verifier.Verify(c.Request.Context(), &req)
	if err != nil {
		writeError(c, verifyStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

// verifyStatus maps verification error codes onto HTTP statuses.
// Retryable conditions get 503 so clients back off and resubmit the
// same proof; payment shortfalls get 402; replays get 409.
func verifyStatus(err error) int {
	switch types.CodeOf(err) {
	case types.ErrInvalidRequest, types.ErrUnsupportedChain:
		return http.StatusBadRequest
	case types.ErrTransactionNotFound:
		return http.StatusNotFound
	case types.ErrAmountInsufficient, types.ErrRecipientMismatch,
		types.ErrAssetMismatch, types.ErrAmbiguousTransfer:
		return http.StatusPaymentRequired
	case types.ErrAlreadyConsumed:
		return http.StatusConflict
	case types.ErrNotFinalized, types.ErrAdapterUnavailable, types.ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
