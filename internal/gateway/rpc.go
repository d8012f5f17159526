package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/requestid"
	"github.com/forgehq/forge/internal/router"
)

// rpcRequest is the POST /rpc envelope (§6). The REST-style
// POST /rpc/:function surface reuses the same dispatch path with the
// function name taken from the path and the body treated as args
// directly.
type rpcRequest struct {
	Function string          `json:"function"`
	Args     json.RawMessage `json:"args"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type rpcResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *rpcError       `json:"error,omitempty"`
	RequestID string          `json:"request_id"`
}

// RPCHandler dispatches POST /rpc.
func RPCHandler(rt *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rpcRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeRPCError(c, forgeerr.New(forgeerr.KindInvalidArgument, "malformed request body"))
			return
		}
		dispatch(c, rt, req.Function, req.Args)
	}
}

// RESTRPCHandler dispatches POST /rpc/:function, the REST-style
// equivalent surface (§6).
func RESTRPCHandler(rt *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("function")
		body, err := c.GetRawData()
		if err != nil {
			writeRPCError(c, forgeerr.New(forgeerr.KindInvalidArgument, "malformed request body"))
			return
		}
		if len(body) == 0 {
			body = []byte("{}")
		}
		dispatch(c, rt, name, body)
	}
}

func dispatch(c *gin.Context, rt *router.Router, name string, args json.RawMessage) {
	auth := authFromGin(c)
	out, err := rt.Dispatch(c.Request.Context(), name, auth, clientIP(c), args)
	if err != nil {
		writeRPCError(c, err)
		return
	}
	c.JSON(http.StatusOK, rpcResponse{
		Success:   true,
		Data:      out,
		RequestID: requestid.FromContext(c.Request.Context()),
	})
}

func writeRPCError(c *gin.Context, err error) {
	kind := forgeerr.KindOf(err)
	status := kind.HTTPStatus()

	code := "INTERNAL_ERROR"
	message := "internal error"
	var details any

	var fe *forgeerr.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
		details = fe.Details
	}

	var rl *forgeerr.RetryAfterError
	if errors.As(err, &rl) {
		details = map[string]any{
			"retry_after": rl.RetryAfterSeconds,
			"limit":       rl.Limit,
			"remaining":   rl.Remaining,
		}
	}

	c.JSON(status, rpcResponse{
		Success: false,
		Error: &rpcError{
			Code:    code,
			Message: message,
			Details: details,
		},
		RequestID: requestid.FromContext(c.Request.Context()),
	})
}
