package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	appkitchen "github.com/kds/backend/internal/application/kitchen"
	"github.com/kds/backend/internal/domain/kitchen"
	"github.com/kds/backend/internal/infrastructure/telemetry"
	"github.com/kds/backend/internal/interfaces/http/handler"
	"github.com/kds/backend/internal/interfaces/http/middleware"
	"github.com/kds/backend/internal/interfaces/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSyncer struct {
	orders []kitchen.EnrichedOrder
}

func (s stubSyncer) SyncOrders(context.Context) ([]kitchen.EnrichedOrder, error) {
	return s.orders, nil
}

type stack struct {
	engine  *gin.Engine
	store   *appkitchen.CompletionStore
	gateway *realtime.Gateway
}

func newStack(t *testing.T, mutate func(*Handlers)) *stack {
	t.Helper()
	middleware.SetupValidator()

	store := appkitchen.NewCompletionStore(nil)
	gateway := realtime.NewGateway(store, realtime.WithHeartbeat(0))
	t.Cleanup(gateway.Stop)

	syncer := stubSyncer{orders: []kitchen.EnrichedOrder{{ID: "O1", LineItems: []kitchen.EnrichedLineItem{}}}}
	h := Handlers{
		Kitchen:   handler.NewKitchenHandler(syncer, store, gateway),
		System:    handler.NewSystemHandler("kds", "test", gateway),
		WebSocket: realtime.NewWebSocketHandler(gateway),
		SSE:       realtime.NewSSEHandler(gateway, nil),
	}
	if mutate != nil {
		mutate(&h)
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	Setup(engine, h)
	return &stack{engine: engine, store: store, gateway: gateway}
}

func (s *stack) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestSetup_KitchenRoutes(t *testing.T) {
	s := newStack(t, nil)

	w := s.do(http.MethodGet, "/api/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"elements":[`)

	w = s.do(http.MethodPost, "/api/completed_orders", `{"order_id":"O1","item_id":"I1","completed":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success"}`, w.Body.String())

	w = s.do(http.MethodGet, "/api/completed_orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"O1":["I1"]}`, w.Body.String())
}

func TestSetup_SystemRoutes(t *testing.T) {
	s := newStack(t, nil)

	w := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = s.do(http.MethodGet, "/api/system/info", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"kds"`)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/", "").Code)
}

func TestSetup_ToggleMiddleware(t *testing.T) {
	s := newStack(t, func(h *Handlers) {
		h.ToggleMiddleware = []gin.HandlerFunc{func(c *gin.Context) {
			c.AbortWithStatus(http.StatusTooManyRequests)
		}}
	})

	w := s.do(http.MethodPost, "/api/completed_orders", `{"order_id":"O1","item_id":"I1","completed":true}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Empty(t, s.store.Get())

	// reads are not limited
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/completed_orders", "").Code)
}

func TestSetup_Metrics(t *testing.T) {
	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{})
	s := newStack(t, func(h *Handlers) {
		h.Metrics = metrics.Handler()
	})

	w := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kds_")
}

func TestSetup_StaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>kitchen</h1>"), 0o644))

	s := newStack(t, func(h *Handlers) {
		h.StaticDir = dir
	})

	w := s.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>kitchen</h1>")

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/missing.js", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/", "").Code)

	// API routes win over the static fallback
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/orders", "").Code)
}

func TestSetup_SSEStream(t *testing.T) {
	s := newStack(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/completed_orders/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Eventually(t, func() bool { return s.gateway.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSetup_WebSocketReceivesHTTPToggle(t *testing.T) {
	s := newStack(t, nil)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg realtime.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, realtime.EventInitialState, msg.Event)
	assert.JSONEq(t, `{}`, string(msg.Data))

	resp, err := http.Post(srv.URL+"/api/completed_orders", "application/json",
		strings.NewReader(`{"order_id":"O1","item_id":"I1","completed":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, realtime.EventToggle, msg.Event)

	var ev realtime.ToggleEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "O1", ev.OrderID)
	assert.Equal(t, "I1", ev.ItemID)
	require.NotNil(t, ev.Completed)
	assert.True(t, *ev.Completed)
}
