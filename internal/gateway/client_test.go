package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/shipment-monitor/internal/config"
)

func newTestClient(url string) *Client {
	return NewClient(config.GatewayConfig{
		BaseURL:        url,
		APIKey:         "test-key",
		TimeoutSeconds: 5,
	})
}

func TestSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"provider_id":"wamid.123"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Send(context.Background(), SendRequest{
		TemplateID: "sin_movimiento",
		Recipient:  "573001234567",
		Body:       "Hola",
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.123", res.ProviderID)
}

func TestSendClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"bad request is permanent", http.StatusBadRequest, false},
		{"unauthorized is permanent", http.StatusUnauthorized, false},
		{"throttled is transient", http.StatusTooManyRequests, true},
		{"server error is transient", http.StatusInternalServerError, true},
		{"unavailable is transient", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Send(context.Background(), SendRequest{Recipient: "57300"})
			require.Error(t, err)

			var gerr *Error
			require.True(t, errors.As(err, &gerr))
			assert.Equal(t, tt.status, gerr.StatusCode)
			assert.Equal(t, tt.transient, gerr.Transient())
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestIsTransientNetworkError(t *testing.T) {
	assert.True(t, IsTransient(errors.New("connection refused")))
	assert.False(t, IsTransient(nil))
}
