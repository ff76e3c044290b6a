package api

import (
	"net/http"

	"campusswap/apperr"
	"campusswap/dispute"

	"github.com/gin-gonic/gin"
)

type openDisputeBody struct {
	versioned
	dispute.OpenRequest
}

type evidenceBody struct {
	versioned
	dispute.EvidenceInput
}

type resolveBody struct {
	versioned
	dispute.ResolveRequest
}

func (h *Handler) openDispute(c *gin.Context) {
	var body openDisputeBody
	if !h.bindVersioned(c, &body, &body.versioned) {
		return
	}
	h.respond(c)(h.swaps.OpenDispute(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version, body.OpenRequest))
}

func (h *Handler) investigateDispute(c *gin.Context) {
	var body versioned
	if !h.bindVersioned(c, &body, &body) {
		return
	}
	h.respond(c)(h.swaps.InvestigateDispute(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version))
}

func (h *Handler) addDisputeEvidence(c *gin.Context) {
	var body evidenceBody
	if !h.bindVersioned(c, &body, &body.versioned) {
		return
	}
	h.respond(c)(h.swaps.AddDisputeEvidence(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version, body.EvidenceInput))
}

func (h *Handler) resolveDispute(c *gin.Context) {
	var body resolveBody
	if !h.bindVersioned(c, &body, &body.versioned) {
		return
	}
	h.respond(c)(h.swaps.ResolveDispute(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version, body.ResolveRequest))
}

func (h *Handler) withdrawDispute(c *gin.Context) {
	var body versioned
	if !h.bindVersioned(c, &body, &body) {
		return
	}
	h.respond(c)(h.swaps.WithdrawDispute(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version))
}

func (h *Handler) closeDispute(c *gin.Context) {
	var body versioned
	if !h.bindVersioned(c, &body, &body) {
		return
	}
	h.respond(c)(h.swaps.CloseDispute(c.Request.Context(), c.Param("id"), actorFrom(c), body.Version))
}

func (h *Handler) listDisputes(c *gin.Context) {
	f := dispute.ListFilter{SwapID: c.Query("swap_id")}
	if raw := c.Query("status"); raw != "" {
		st, err := dispute.ParseStatus(raw)
		if err != nil {
			h.fail(c, apperr.Wrap(apperr.KindValidation, "invalid status filter", err))
			return
		}
		f.Status = st
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		h.fail(c, err)
		return
	}
	f.Limit = limit

	list, err := h.disputes.List(c.Request.Context(), actorFrom(c), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

func (h *Handler) getDispute(c *gin.Context) {
	rec, err := h.disputes.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
