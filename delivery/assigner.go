// Package delivery is the client side of the agent-assignment service that
// is consulted when a swap schedules its pickup.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"campusswap/apperr"

	"go.uber.org/zap"
)

// Window is the time range the pickup must happen in.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Valid() bool { return !w.Start.IsZero() && w.End.After(w.Start) }

type Request struct {
	SwapID           string `json:"swap_id"`
	PickupLocation   string `json:"pickup_location"`
	DeliveryLocation string `json:"delivery_location"`
	Window           Window `json:"window"`
}

func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.PickupLocation) == "":
		return apperr.Validationf("delivery: pickup location required")
	case strings.TrimSpace(r.DeliveryLocation) == "":
		return apperr.Validationf("delivery: delivery location required")
	case !r.Window.Valid():
		return apperr.Validationf("delivery: window must have a start before its end")
	}
	return nil
}

// Assignment is the agent and schedule the service committed to.
type Assignment struct {
	AgentID           string    `json:"agent_id"`
	TrackingCode      string    `json:"tracking_code"`
	ScheduledPickup   time.Time `json:"scheduled_pickup"`
	ScheduledDelivery time.Time `json:"scheduled_delivery"`
}

// Assigner requests an agent for a pickup. Implementations must honour ctx.
type Assigner interface {
	Assign(ctx context.Context, req Request) (Assignment, error)
}

// HTTPAssigner calls the assignment service over JSON/HTTP.
type HTTPAssigner struct {
	baseURL string
	client  *http.Client
	token   string
	logger  *zap.Logger
}

func NewHTTPAssigner(baseURL, token string, timeout time.Duration, logger *zap.Logger) *HTTPAssigner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAssigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		token:   token,
		logger:  logger,
	}
}

// Assign posts to /v1/assignments. Every transport or service failure is an
// ExternalDependency error so callers can leave the swap where it was.
func (a *HTTPAssigner) Assign(ctx context.Context, req Request) (Assignment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Assignment{}, fmt.Errorf("delivery: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/assignments", bytes.NewReader(body))
	if err != nil {
		return Assignment{}, fmt.Errorf("delivery: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Assignment{}, apperr.Wrap(apperr.KindExternalDependency, "delivery: assign timed out", err)
		}
		return Assignment{}, apperr.Wrap(apperr.KindExternalDependency, "delivery: assign", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		a.logger.Warn("delivery assignment rejected",
			zap.String("swap_id", req.SwapID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet),
		)
		return Assignment{}, apperr.New(apperr.KindExternalDependency, fmt.Sprintf("delivery: assign returned %d", resp.StatusCode))
	}

	var out Assignment
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Assignment{}, apperr.Wrap(apperr.KindExternalDependency, "delivery: decode assignment", err)
	}
	if out.AgentID == "" {
		return Assignment{}, apperr.New(apperr.KindExternalDependency, "delivery: assignment without agent")
	}
	return out, nil
}
