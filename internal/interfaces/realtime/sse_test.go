package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kds/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sseEvent struct {
	event string
	data  string
}

func readSSE(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return ev
		case strings.HasPrefix(line, "event: "):
			ev.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func newSSEServer(t *testing.T, g *Gateway) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/stream", NewSSEHandler(g, zaptest.NewLogger(t)).Stream)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestSSE_StreamsInitialStateAndToggles(t *testing.T) {
	g, _ := newTestGateway(t)
	server := newSSEServer(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/stream", nil)
	require.NoError(t, err)

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readSSE(t, reader)
	assert.Equal(t, EventInitialState, first.event)
	assert.Equal(t, "{}", first.data)

	require.Eventually(t, func() bool { return g.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, g.Toggle(context.Background(), ToggleEvent{OrderID: "ORD1", ItemID: "L1", Completed: boolPtr(true)}, ""))

	ev := readSSE(t, reader)
	assert.Equal(t, EventToggle, ev.event)
	assert.JSONEq(t, `{"order_id":"ORD1","item_id":"L1","completed":true}`, ev.data)

	cancel()
	require.Eventually(t, func() bool { return g.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSSE_MaxClients(t *testing.T) {
	g, _ := newTestGateway(t, WithMaxClients(1))
	_, err := g.Connect(TransportWebSocket)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/stream", nil)

	NewSSEHandler(g, nil).Stream(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp dto.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeTooManyConnections, resp.Error.Code)
}

func TestSSE_GatewayStopped(t *testing.T) {
	g, _ := newTestGateway(t)
	g.Stop()

	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/stream", nil)

	NewSSEHandler(g, nil).Stream(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp dto.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeUnavailable, resp.Error.Code)
}
