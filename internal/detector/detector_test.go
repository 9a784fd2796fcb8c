package detector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/backoff"
)

func newClientForServer(t *testing.T, server *httptest.Server, retry backoff.Config) *Client {
	t.Helper()
	return New(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
		Retry:   retry,
	}, zap.NewNop())
}

func TestDetectParsesAndGroups(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "https://shop.example.com", r.URL.Query().Get("url"))
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"domain": "shop.example.com",
			"technologies": [
				{"name": "Shopify", "category": "Ecommerce", "first_detected": "2021-03-01", "last_detected": "2025-08-01"},
				{"name": "Cloudflare", "category": "CDN", "first_detected": "2020-01-15", "last_detected": "2025-08-01"},
				{"name": "Klaviyo", "category": "Ecommerce", "first_detected": "2023-06-10", "last_detected": "2025-08-01"}
			]
		}`))
	}))
	defer server.Close()

	payload, err := newClientForServer(t, server, backoff.Config{}).Detect(context.Background(), "https://shop.example.com")
	require.NoError(t, err)
	require.Len(t, payload.Technologies, 3)
	require.Equal(t, "Shopify", payload.Technologies[0].Name)
	require.Equal(t, []string{"Shopify", "Klaviyo"}, payload.ByCategory["Ecommerce"])
	require.Equal(t, []string{"Cloudflare"}, payload.ByCategory["CDN"])
}

func TestDetectEmptyResultIsSuccess(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"domain": "blank.example.com", "technologies": []}`))
	}))
	defer server.Close()

	payload, err := newClientForServer(t, server, backoff.Config{}).Detect(context.Background(), "https://blank.example.com")
	require.NoError(t, err)
	require.Empty(t, payload.Technologies)
}

func TestDetectRetriesOn429(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"domain": "shop.example.com", "technologies": [{"name": "Shopify", "category": "Ecommerce", "first_detected": "", "last_detected": ""}]}`))
	}))
	defer server.Close()

	client := newClientForServer(t, server, backoff.Config{MaxAttempts: 2, InitialDelay: time.Millisecond})
	payload, err := client.Detect(context.Background(), "https://shop.example.com")
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
	require.Len(t, payload.Technologies, 1)
}

func TestDetectServerErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := newClientForServer(t, server, backoff.Config{MaxAttempts: 3, InitialDelay: time.Millisecond})
	_, err := client.Detect(context.Background(), "https://shop.example.com")
	require.Error(t, err)
	require.False(t, audit.IsRateLimit(err))
	require.Equal(t, int32(1), calls.Load())
}

func TestDetectMalformedResponseIsError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"domain": "x", "technologies": [{"surprise_field": true}]}`))
	}))
	defer server.Close()

	_, err := newClientForServer(t, server, backoff.Config{}).Detect(context.Background(), "https://shop.example.com")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode detector response")
}
