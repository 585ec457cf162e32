package realtime

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kds/backend/internal/interfaces/http/dto"
	"github.com/kds/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// SSEHandler streams gateway events to clients as Server-Sent Events. SSE is
// one-way; these clients send toggles through the HTTP completion endpoint.
type SSEHandler struct {
	gateway *Gateway
	logger  *zap.Logger
}

// NewSSEHandler creates a handler serving clients of g
func NewSSEHandler(g *Gateway, logger *zap.Logger) *SSEHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEHandler{gateway: g, logger: logger.Named("sse")}
}

// Stream handles GET /api/completed_orders/stream
func (h *SSEHandler) Stream(c *gin.Context) {
	client, err := h.gateway.Connect(TransportSSE)
	if err != nil {
		code := dto.ErrCodeInternal
		switch {
		case errors.Is(err, ErrTooManyClients):
			code = dto.ErrCodeTooManyConnections
		case errors.Is(err, ErrGatewayStopped):
			code = dto.ErrCodeUnavailable
		}
		c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, err.Error(), middleware.GetRequestID(c)))
		return
	}
	defer h.gateway.Disconnect(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	c.Status(http.StatusOK)
	c.Writer.Flush()

	reqCtx := c.Request.Context()
	for {
		select {
		case <-reqCtx.Done():
			return
		case <-client.Done():
			return
		case msg := <-client.Messages():
			if err := writeEvent(c.Writer, msg); err != nil {
				h.logger.Debug("SSE write failed",
					zap.String("client_id", client.ID()),
					zap.Error(err),
				)
				return
			}
			c.Writer.Flush()
		}
	}
}

// writeEvent writes one SSE frame
func writeEvent(w io.Writer, msg Message) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
	return err
}
