package gateway_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/forgehq/forge/internal/gateway"
	"github.com/forgehq/forge/internal/router"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T) *router.Router {
	t.Helper()
	reg := router.NewRegistry()
	reg.RegisterQuery("echo", router.Meta{IsPublic: true}, func(qc *router.QueryContext) (json.RawMessage, error) {
		return qc.Args, nil
	})
	reg.RegisterQuery("whoami", router.Meta{}, func(qc *router.QueryContext) (json.RawMessage, error) {
		return json.Marshal(map[string]string{"sub": qc.Auth.Claims.Subject})
	})
	return router.New(reg, router.NewQueryCache(10), nil, nil, nil)
}

func TestRPCHandler_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gateway.RequestID())
	r.POST("/rpc", gateway.RPCHandler(newTestRouter(t)))

	body := `{"function":"echo","args":{"a":1}}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success")
	}
}

func TestRPCHandler_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/rpc", gateway.RPCHandler(newTestRouter(t)))

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"function":"nope","args":{}}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %q", resp.Error.Code)
	}
}

func TestRPCHandler_RequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gateway.Auth(nil))
	r.POST("/rpc", gateway.RPCHandler(newTestRouter(t)))

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"function":"whoami","args":{}}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRESTRPCHandler_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/rpc/:function", gateway.RESTRPCHandler(newTestRouter(t)))

	req := httptest.NewRequest(http.MethodPost, "/rpc/echo", strings.NewReader(`{"x":2}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
