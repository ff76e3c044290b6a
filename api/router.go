// Package api exposes the swap core over HTTP with gin. Handlers translate
// requests into service calls and apperr kinds into status codes; they hold
// no business rules of their own.
package api

import (
	"context"
	"net/http"

	"campusswap/auth"
	"campusswap/dispute"
	"campusswap/ledger"
	"campusswap/logging"
	"campusswap/matching"
	"campusswap/rating"
	"campusswap/swap"
	"campusswap/valuation"
	"campusswap/wishlist"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TokenVerifier interface {
	VerifyToken(token string) (auth.Actor, error)
}

// Accounts is the registration and login side of auth.Service.
type Accounts interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
}

type LedgerReader interface {
	ListBySwap(ctx context.Context, swapID string) ([]ledger.Entry, error)
}

type Valuer interface {
	Estimate(ctx context.Context, attrs valuation.Attributes) (valuation.Result, error)
	Revalue(ctx context.Context, itemID string) (valuation.Result, error)
}

type Matcher interface {
	Match(ctx context.Context, prefs matching.Preferences) ([]matching.Result, error)
}

// Deps are the services the router serves. Ratings and Wishlists are
// optional; their routes are only mounted when set.
type Deps struct {
	Tokens    TokenVerifier
	Accounts  Accounts
	Swaps     *swap.Service
	Disputes  *dispute.Service
	Ledger    LedgerReader
	Valuation Valuer
	Matching  Matcher
	Ratings   *rating.Service
	Wishlists *wishlist.Service
	Logger    *zap.Logger
}

type Handler struct {
	tokens    TokenVerifier
	accounts  Accounts
	swaps     *swap.Service
	disputes  *dispute.Service
	ledger    LedgerReader
	valuation Valuer
	matching  Matcher
	ratings   *rating.Service
	wishlists *wishlist.Service
	logger    *zap.Logger
}

func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		tokens:    d.Tokens,
		accounts:  d.Accounts,
		swaps:     d.Swaps,
		disputes:  d.Disputes,
		ledger:    d.Ledger,
		valuation: d.Valuation,
		matching:  d.Matching,
		ratings:   d.Ratings,
		wishlists: d.Wishlists,
		logger:    logger,
	}
}

// Router builds the gin engine with every route under /api/v1.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(logging.GinMiddleware(h.logger))

	v1 := router.Group("/api/v1")
	v1.GET("/health", health)

	if h.accounts != nil {
		a := v1.Group("/auth")
		a.POST("/register", h.register)
		a.POST("/login", h.login)
	}

	protected := v1.Group("")
	protected.Use(Authenticate(h.tokens, h.logger))

	swaps := protected.Group("/swaps")
	{
		swaps.POST("", h.proposeSwap)
		swaps.GET("", h.listSwaps)
		swaps.GET("/:id", h.getSwap)
		swaps.GET("/:id/ledger", h.swapLedger)
		swaps.POST("/:id/negotiate", h.negotiate)
		swaps.POST("/:id/accept", h.accept)
		swaps.POST("/:id/schedule", h.scheduleDelivery)
		swaps.POST("/:id/pickup", h.confirmPickup)
		swaps.POST("/:id/delivery", h.confirmDelivery)
		swaps.POST("/:id/receipt", h.confirmReceipt)
		swaps.POST("/:id/cancel", h.cancel)

		swaps.POST("/:id/dispute", h.openDispute)
		swaps.POST("/:id/dispute/investigate", h.investigateDispute)
		swaps.POST("/:id/dispute/evidence", h.addDisputeEvidence)
		swaps.POST("/:id/dispute/resolve", h.resolveDispute)
		swaps.POST("/:id/dispute/withdraw", h.withdrawDispute)
		swaps.POST("/:id/dispute/close", h.closeDispute)
	}

	if h.disputes != nil {
		protected.GET("/disputes", h.listDisputes)
		protected.GET("/disputes/:id", h.getDispute)
	}

	if h.valuation != nil {
		protected.POST("/valuations/estimate", h.estimate)
		protected.POST("/items/:id/revalue", h.revalue)
	}
	if h.matching != nil {
		protected.POST("/matches", h.match)
	}

	if h.ratings != nil {
		swaps.POST("/:id/ratings", h.rate)
		swaps.GET("/:id/ratings", h.swapRatings)
		protected.GET("/users/:id/ratings", h.userRatings)
		protected.GET("/users/:id/ratings/summary", h.ratingSummary)
	}

	if h.wishlists != nil {
		w := protected.Group("/wishlists")
		w.POST("", h.createWishlist)
		w.GET("", h.listWishlists)
		w.GET("/:id", h.getWishlist)
		w.POST("/:id/cancel", h.cancelWishlist)
		w.GET("/:id/matches", h.wishlistMatches)
	}

	return router
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "swapd"})
}
