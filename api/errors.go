package api

import (
	"errors"
	"net/http"
	"strconv"

	"campusswap/apperr"
	"campusswap/logging"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// fail writes err with the status its apperr kind maps to. Unclassified
// errors are logged and hidden behind a generic message.
func (h *Handler) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(logging.RequestIDKey)),
			zap.Error(err),
		)
		msg = "internal error"
	}
	_ = c.Error(err)
	c.JSON(status, errorBody{Error: errorDetail{
		Kind:      apperr.KindOf(err).String(),
		Message:   msg,
		Retryable: apperr.Retryable(err),
	}})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		h.fail(c, err)
		return
	}
	h.fail(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validationf("invalid %s %q", key, raw)
	}
	return n, nil
}
