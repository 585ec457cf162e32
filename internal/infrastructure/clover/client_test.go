package clover

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kds/backend/internal/infrastructure/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 2}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := NewConfig("test_api_key", "MID1")
	cfg.APIBaseURL = server.URL
	cfg.RequestsPerSecond = 0

	opts = append([]ClientOption{WithRetryPolicy(fastRetry()), WithLogger(zaptest.NewLogger(t))}, opts...)
	client, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	return client, server
}

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{name: "valid config", config: &Config{APIKey: "k", MerchantID: "m"}},
		{name: "missing api key", config: &Config{MerchantID: "m"}, wantErr: ErrConfigMissingAPIKey},
		{name: "missing merchant id", config: &Config{APIKey: "k"}, wantErr: ErrConfigMissingMerchantID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ProductionAPIURL, tt.config.APIBaseURL)
			assert.Equal(t, DefaultTimeout, tt.config.Timeout)
			assert.Equal(t, 1, tt.config.Burst)
		})
	}
}

func TestConfig_Validate_KeepsSubSecondTimeout(t *testing.T) {
	cfg := &Config{APIKey: "k", MerchantID: "m", Timeout: 500 * time.Millisecond}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500*time.Millisecond, cfg.Timeout)

	client, err := NewClient(cfg)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, client.httpClient.Timeout)
}

func TestConfig_Validate_TrimsBaseURL(t *testing.T) {
	cfg := &Config{APIKey: "k", MerchantID: "m", APIBaseURL: SandboxAPIURL + "/"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, SandboxAPIURL+"/v3/merchants/m", cfg.merchantURL())
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(&Config{MerchantID: "m"})
	assert.ErrorIs(t, err, ErrConfigMissingAPIKey)

	_, err = NewClient(nil)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Fetch Tests
// ---------------------------------------------------------------------------

func TestClient_FetchOrders(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v3/merchants/MID1/orders", r.URL.Path)
		assert.Equal(t, "Bearer test_api_key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"elements":[
			{"id":"A","createdTime":100,"total":1250,"state":"open"},
			{"id":"B","createdTime":300}
		],"href":"ignored"}`))
	})

	orders, err := client.FetchOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "A", orders[0].ID)
	assert.Equal(t, int64(100), orders[0].CreatedTime)
	assert.Empty(t, orders[0].LineItems)
	assert.Equal(t, "B", orders[1].ID)
}

func TestClient_FetchLineItems(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/merchants/MID1/orders/ORD1/line_items", r.URL.Path)
		assert.Equal(t, "modifications", r.URL.Query().Get("expand"))

		_, _ = w.Write([]byte(`{"elements":[
			{"id":"L1","name":"Ramen","modifications":{"elements":[{"id":"M1","name":"Extra Egg"}]}},
			{"id":"L2","name":"Tea"}
		]}`))
	})

	items, err := client.FetchLineItems(context.Background(), "ORD1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Ramen", items[0].Name)
	require.Len(t, items[0].Modifications, 1)
	assert.Equal(t, "Extra Egg", items[0].Modifications[0].Name)
	assert.NotNil(t, items[1].Modifications)
	assert.Empty(t, items[1].Modifications)
}

func TestClient_FetchOrderWithModifications(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v3/merchants/MID1/orders/ORD1":
			_, _ = w.Write([]byte(`{"id":"ORD1","createdTime":1700000000000}`))
		case "/v3/merchants/MID1/orders/ORD1/line_items":
			assert.Empty(t, r.URL.Query().Get("expand"))
			_, _ = w.Write([]byte(`{"elements":[{"id":"L1","name":"Ramen"},{"id":"L2","name":"Tea"}]}`))
		case "/v3/merchants/MID1/orders/ORD1/line_items/L1/modifications":
			_, _ = w.Write([]byte(`{"elements":[{"id":"M1","name":"No Scallions"}]}`))
		case "/v3/merchants/MID1/orders/ORD1/line_items/L2/modifications":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	order, err := client.FetchOrderWithModifications(context.Background(), "ORD1")
	require.NoError(t, err)
	assert.Equal(t, "ORD1", order.ID)
	require.Len(t, order.LineItems, 2)
	require.Len(t, order.LineItems[0].Modifications, 1)
	assert.Equal(t, "No Scallions", order.LineItems[0].Modifications[0].Name)
	assert.Empty(t, order.LineItems[1].Modifications)
}

func TestClient_FetchOrderWithModifications_OrderFails(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.FetchOrderWithModifications(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRequestFailed)
}

// ---------------------------------------------------------------------------
// Retry Tests
// ---------------------------------------------------------------------------

func TestClient_RateLimitStatus_ExhaustsAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, WithMetrics(metrics))

	orders, err := client.FetchOrders(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Empty(t, orders)
	assert.Equal(t, int32(5), hits.Load())

	expected := `
# HELP kds_upstream_retries_total Rate-limited upstream attempts that were retried.
# TYPE kds_upstream_retries_total counter
kds_upstream_retries_total{endpoint="orders"} 4
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "kds_upstream_retries_total"))
}

func TestClient_RateLimitBody_ThenSuccess(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			_, _ = w.Write([]byte(`{"message":"429 Too Many Requests"}`))
			return
		}
		_, _ = w.Write([]byte(`{"elements":[{"id":"L1","name":"Tea"}]}`))
	})

	items, err := client.FetchLineItems(context.Background(), "ORD1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_ServerError_NotRetried(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.FetchOrders(context.Background())
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_MalformedBody_NotRetried(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`<html>Bad Gateway</html>`))
	})

	items, err := client.FetchLineItems(context.Background(), "ORD1")
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Empty(t, items)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_OtherMessage_IsNotRateLimit(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"something else"}`))
	})

	orders, err := client.FetchOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, WithRetryPolicy(RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.FetchOrders(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
