package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campusswap/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request() Request {
	start := time.Date(2025, 7, 1, 14, 0, 0, 0, time.UTC)
	return Request{
		SwapID:           "swap-1",
		PickupLocation:   "Library, north entrance",
		DeliveryLocation: "Dorm B lobby",
		Window:           Window{Start: start, End: start.Add(2 * time.Hour)},
	}
}

func TestAssignSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assignments", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "swap-1", req.SwapID)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Assignment{
			AgentID:         "agent-7",
			TrackingCode:    "TRK-1",
			ScheduledPickup: req.Window.Start,
		})
	}))
	defer srv.Close()

	got, err := NewHTTPAssigner(srv.URL+"/", "tok", time.Second, nil).Assign(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "agent-7", got.AgentID)
	assert.Equal(t, "TRK-1", got.TrackingCode)
}

func TestAssignServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no agents available", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPAssigner(srv.URL, "", time.Second, nil).Assign(context.Background(), request())
	assert.True(t, errors.Is(err, apperr.ErrExternalDependency))
	assert.True(t, apperr.Retryable(err))
}

func TestAssignTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPAssigner(srv.URL, "", 5*time.Second, nil).Assign(ctx, request())
	assert.True(t, errors.Is(err, apperr.ErrExternalDependency))
}

func TestAssignRejectsMissingAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tracking_code":"x"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPAssigner(srv.URL, "", time.Second, nil).Assign(context.Background(), request())
	assert.True(t, errors.Is(err, apperr.ErrExternalDependency))
}

func TestRequestValidate(t *testing.T) {
	assert.NoError(t, request().Validate())

	r := request()
	r.PickupLocation = " "
	assert.True(t, errors.Is(r.Validate(), apperr.ErrValidation))

	r = request()
	r.Window.End = r.Window.Start
	assert.True(t, errors.Is(r.Validate(), apperr.ErrValidation))
}
