package api

import (
	"net/http"

	"campusswap/apperr"
	"campusswap/swap"

	"github.com/gin-gonic/gin"
)

// versioned is the body of every mutation: the version the caller last saw.
type versioned struct {
	Version int64 `json:"version"`
}

func (v versioned) check() error {
	if v.Version <= 0 {
		return apperr.Validationf("version is required")
	}
	return nil
}

type negotiateBody struct {
	versioned
	swap.NegotiateRequest
}

type scheduleBody struct {
	versioned
	swap.ScheduleRequest
}

type cancelBody struct {
	versioned
	Reason string `json:"reason"`
}

func (h *Handler) proposeSwap(c *gin.Context) {
	var req swap.ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	sw, err := h.swaps.Propose(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sw)
}

func (h *Handler) getSwap(c *gin.Context) {
	sw, err := h.swaps.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sw)
}

func (h *Handler) listSwaps(c *gin.Context) {
	var f swap.ListFilter
	if raw := c.Query("state"); raw != "" {
		st, err := swap.ParseState(raw)
		if err != nil {
			h.fail(c, apperr.Wrap(apperr.KindValidation, "invalid state filter", err))
			return
		}
		f.State = st
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		h.fail(c, err)
		return
	}
	f.Limit = limit

	list, err := h.swaps.ListForUser(c.Request.Context(), actorFrom(c), c.Query("user_id"), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

// swapLedger lists the settlement and compensation entries of a swap the
// caller may read.
func (h *Handler) swapLedger(c *gin.Context) {
	ctx := c.Request.Context()
	sw, err := h.swaps.Get(ctx, actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	entries, err := h.ledger.ListBySwap(ctx, sw.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swap_id": sw.ID, "entries": entries})
}

func (h *Handler) negotiate(c *gin.Context) {
	var body negotiateBody
	if !h.bindVersioned(c, &body, &body.versioned) {
		return
	}
	h.respond(c)(h.swaps.Negotiate(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version, body.NegotiateRequest))
}

func (h *Handler) accept(c *gin.Context) {
	var body versioned
	if !h.bindVersioned(c, &body, &body) {
		return
	}
	h.respond(c)(h.swaps.Accept(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version))
}

func (h *Handler) scheduleDelivery(c *gin.Context) {
	var body scheduleBody
	if !h.bindVersioned(c, &body, &body.versioned) {
		return
	}
	h.respond(c)(h.swaps.ScheduleDelivery(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version, body.ScheduleRequest))
}

func (h *Handler) confirmPickup(c *gin.Context) {
	var body versioned
	if !h.bindVersioned(c, &body, &body) {
		return
	}
	h.respond(c)(h.swaps.ConfirmPickup(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version))
}

func (h *Handler) confirmDelivery(c *gin.Context) {
	var body versioned
	if !h.bindVersioned(c, &body, &body) {
		return
	}
	h.respond(c)(h.swaps.ConfirmDelivery(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version))
}

func (h *Handler) confirmReceipt(c *gin.Context) {
	var body versioned
	if !h.bindVersioned(c, &body, &body) {
		return
	}
	h.respond(c)(h.swaps.ConfirmReceipt(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version))
}

func (h *Handler) cancel(c *gin.Context) {
	var body cancelBody
	if !h.bindVersioned(c, &body, &body.versioned) {
		return
	}
	h.respond(c)(h.swaps.Cancel(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version, body.Reason))
}

// bindVersioned decodes the body into dst and checks the embedded version.
// It writes the error response itself and reports whether to continue.
func (h *Handler) bindVersioned(c *gin.Context, dst any, v *versioned) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.badRequest(c, err)
		return false
	}
	if err := v.check(); err != nil {
		h.fail(c, err)
		return false
	}
	return true
}

func (h *Handler) respond(c *gin.Context) func(swap.Swap, error) {
	return func(sw swap.Swap, err error) {
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, sw)
	}
}
