package router

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/kds/backend/internal/interfaces/http/handler"
	"github.com/kds/backend/internal/interfaces/realtime"
)

// Handlers bundles everything the display backend serves
type Handlers struct {
	Kitchen   *handler.KitchenHandler
	System    *handler.SystemHandler
	WebSocket *realtime.WebSocketHandler
	SSE       *realtime.SSEHandler

	// Metrics serves /metrics when set
	Metrics http.Handler
	// ToggleMiddleware runs before the completion toggle, e.g. a rate limiter
	ToggleMiddleware []gin.HandlerFunc
	// StaticDir is served at / when set
	StaticDir string
}

// KitchenRoutes returns the /completed_orders and /orders groups
func KitchenRoutes(h Handlers) *DomainGroup {
	g := NewDomainGroup("kitchen", "")
	g.GET("/orders", h.Kitchen.ListOrders)

	completed := g.Group("completions", "/completed_orders")
	completed.GET("", h.Kitchen.GetCompletedOrders)
	completed.POST("", append(slices.Clone(h.ToggleMiddleware), h.Kitchen.SetCompletedOrder)...)
	if h.SSE != nil {
		completed.GET("/stream", h.SSE.Stream)
	}
	return g
}

// SystemRoutes returns the /system group
func SystemRoutes(h Handlers) *DomainGroup {
	g := NewDomainGroup("system", "/system")
	g.GET("/info", h.System.GetSystemInfo)
	return g
}

// Setup registers every route of the display backend on engine. basePath
// prefixes the JSON API; /health, /ws, /metrics and the static page live at
// the root.
func Setup(engine *gin.Engine, h Handlers, opts ...RouterOption) {
	r := NewRouter(engine, opts...)
	r.Register(KitchenRoutes(h)).Register(SystemRoutes(h))
	r.Setup()

	engine.GET("/health", h.System.Health)
	if h.WebSocket != nil {
		engine.GET("/ws", h.WebSocket.Handle)
	}
	if h.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(h.Metrics))
	}
	if h.StaticDir != "" {
		engine.NoRoute(staticFallback(h.StaticDir))
	}
}

// staticFallback serves files from dir for GET and HEAD requests no route
// matched; everything else stays a 404
func staticFallback(dir string) gin.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusNotFound)
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}
