package gateway

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/forgehq/forge/internal/realtime"
	"github.com/forgehq/forge/internal/repository"
	"github.com/forgehq/forge/internal/router"
	"github.com/forgehq/forge/internal/shutdown"
)

// Deps bundles what NewEngine needs to wire every route; kept as one
// struct instead of a long parameter list since the gateway wires
// together nearly every other package in this runtime.
type Deps struct {
	Router         *router.Router
	Hub            *realtime.Hub
	Verifier       Verifier // nil disables bearer verification; all callers are anonymous
	Sessions       repository.SessionRepository
	Nodes          repository.NodeRepository
	Leaders        repository.LeaderRepository
	Jobs           repository.JobRepository
	NodeID         string
	Logger         *slog.Logger
	SpanCollector  SpanCollector // nil disables span capture
	TracingEnabled bool
	Barrier        *shutdown.Barrier
}

// NewEngine builds the gin.Engine serving the RPC, WebSocket, and status
// surfaces, wired with the same middleware stack order as the teacher's
// transport/http router: request id, then security headers, then
// metrics, then auth (auth runs last so request id/metrics still cover
// rejected calls).
func NewEngine(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Security())
	r.Use(Metrics())
	r.Use(Tracing(d.SpanCollector, d.TracingEnabled))
	r.Use(Auth(d.Verifier))

	rpc := r.Group("/rpc")
	if d.Barrier != nil {
		rpc.Use(Drain(d.Barrier))
	}
	rpc.POST("", RPCHandler(d.Router))
	rpc.POST("/:function", RESTRPCHandler(d.Router))

	r.GET("/ws", WSHandler(d.Hub, d.Sessions, d.NodeID, d.Logger))
	r.GET("/forge/status", StatusHandler(d.Nodes, d.Leaders, d.Jobs))

	return r
}
