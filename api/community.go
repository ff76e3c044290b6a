package api

import (
	"net/http"

	"campusswap/auth"
	"campusswap/rating"
	"campusswap/wishlist"

	"github.com/gin-gonic/gin"
)

func (h *Handler) register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	user, err := h.accounts.Register(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"display_name":   user.DisplayName,
		"role":           user.Role,
		"points_balance": user.PointsBalance,
	})
}

func (h *Handler) login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	res, err := h.accounts.Login(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": res.Token, "user_id": res.User.ID, "role": res.User.Role})
}

func (h *Handler) rate(c *gin.Context) {
	var req rating.RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	r, err := h.ratings.Rate(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) swapRatings(c *gin.Context) {
	list, err := h.ratings.ListForSwap(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

func (h *Handler) userRatings(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		h.fail(c, err)
		return
	}
	list, err := h.ratings.ListReceived(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

func (h *Handler) ratingSummary(c *gin.Context) {
	sum, err := h.ratings.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) createWishlist(c *gin.Context) {
	var req wishlist.CreateParams
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	w, err := h.wishlists.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) listWishlists(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		h.fail(c, err)
		return
	}
	size, err := queryInt(c, "page_size", 20)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.wishlists.List(c.Request.Context(), actorFrom(c), wishlist.Filters{
		OwnerID:   c.Query("owner_id"),
		Status:    wishlist.Status(c.Query("status")),
		Category:  c.Query("category"),
		Page:      page,
		PageSize:  size,
		SortKey:   c.Query("sort"),
		SortOrder: c.Query("order"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getWishlist(c *gin.Context) {
	w, err := h.wishlists.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) cancelWishlist(c *gin.Context) {
	var body struct {
		Reason *string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.badRequest(c, err)
			return
		}
	}
	w, err := h.wishlists.Cancel(c.Request.Context(), actorFrom(c), c.Param("id"), body.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) wishlistMatches(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		h.fail(c, err)
		return
	}
	results, err := h.wishlists.Match(c.Request.Context(), actorFrom(c), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": results})
}
