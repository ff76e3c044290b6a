package api

import (
	"net/http"

	"campusswap/apperr"
	"campusswap/catalog"
	"campusswap/matching"
	"campusswap/valuation"

	"github.com/gin-gonic/gin"
)

var errModeratorOnly = apperr.New(apperr.KindAuthorization, "api: moderators only")

type matchBody struct {
	Categories []string            `json:"categories"`
	MinPoints  int64               `json:"min_points"`
	MaxPoints  int64               `json:"max_points"`
	Conditions []catalog.Condition `json:"conditions"`
	Location   *catalog.Location   `json:"location,omitempty"`
	RadiusKm   float64             `json:"radius_km"`
	MinScore   float64             `json:"min_score"`
	Limit      int                 `json:"limit"`
}

func (h *Handler) estimate(c *gin.Context) {
	var attrs valuation.Attributes
	if err := c.ShouldBindJSON(&attrs); err != nil {
		h.badRequest(c, err)
		return
	}
	res, err := h.valuation.Estimate(c.Request.Context(), attrs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// revalue rewrites an item's listed points. Moderators only.
func (h *Handler) revalue(c *gin.Context) {
	if !actorFrom(c).IsResolver() {
		h.fail(c, errModeratorOnly)
		return
	}
	res, err := h.valuation.Revalue(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": c.Param("id"), "valuation": res})
}

func (h *Handler) match(c *gin.Context) {
	var body matchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	results, err := h.matching.Match(c.Request.Context(), matching.Preferences{
		UserID:     actorFrom(c).ID,
		Categories: body.Categories,
		MinPoints:  body.MinPoints,
		MaxPoints:  body.MaxPoints,
		Conditions: body.Conditions,
		Location:   body.Location,
		RadiusKm:   body.RadiusKm,
		MinScore:   body.MinScore,
		Limit:      body.Limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": results})
}
