package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atheer-Ganayem/snapserver"
)

func setupRouter(t *testing.T) (*gin.Engine, *snapserver.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	registry := snapserver.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = registry.Shutdown(shutdownCtx)
	})

	h := NewHandler(ctx, registry, func() *snapserver.Options {
		return &snapserver.Options{Logger: logger}
	}, logger)

	r := gin.New()
	h.RegisterRoutes(r)
	return r, registry
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createListener(t *testing.T, r http.Handler) ListenerResponse {
	t.Helper()
	port := 0
	w := doJSON(t, r, http.MethodPost, "/listeners", CreateListenerRequest{Address: "127.0.0.1", Port: &port})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp ListenerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","listeners":0}`, w.Body.String())
}

func TestCreateAndList(t *testing.T) {
	r, registry := setupRouter(t)

	created := createListener(t, r)
	assert.Equal(t, "127.0.0.1", created.Address)
	assert.NotZero(t, created.Port)
	assert.True(t, created.Running)
	assert.Equal(t, 1, registry.Len())

	w := doJSON(t, r, http.MethodGet, "/listeners", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Listeners []ListenerResponse `json:"listeners"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Listeners, 1)
	assert.Equal(t, created.Endpoint, list.Listeners[0].Endpoint)
}

func TestCreateConflict(t *testing.T) {
	r, _ := setupRouter(t)
	created := createListener(t, r)

	w := doJSON(t, r, http.MethodPost, "/listeners", CreateListenerRequest{Address: "127.0.0.1", Port: &created.Port})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "ENDPOINT_BUSY")
	assert.Contains(t, w.Body.String(), created.Endpoint)
}

func TestCreateValidation(t *testing.T) {
	r, _ := setupRouter(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "missing address", body: map[string]any{"port": 0}},
		{name: "not an ip", body: map[string]any{"address": "localhost", "port": 0}},
		{name: "port out of range", body: map[string]any{"address": "127.0.0.1", "port": 70000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/listeners", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
		})
	}
}

func TestDelete(t *testing.T) {
	r, registry := setupRouter(t)
	created := createListener(t, r)

	w := doJSON(t, r, http.MethodDelete, fmt.Sprintf("/listeners/127.0.0.1/%d", created.Port), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, registry.Len())

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/listeners/127.0.0.1/%d", created.Port), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/listeners/nope/80", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBroadcast(t *testing.T) {
	r, registry := setupRouter(t)
	created := createListener(t, r)
	path := fmt.Sprintf("/listeners/127.0.0.1/%d/broadcast", created.Port)

	w := doJSON(t, r, http.MethodPost, path, BroadcastRequest{Message: "nobody"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"delivered":0}`, w.Body.String())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+created.Endpoint+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	l, ok := registry.Lookup(snapserver.EndpointKey{Address: "127.0.0.1", Port: created.Port})
	require.True(t, ok)
	require.Eventually(t, func() bool {
		sessions := l.Sessions()
		return len(sessions) == 1 && sessions[0].IsHandshaken()
	}, 2*time.Second, 10*time.Millisecond)

	w = doJSON(t, r, http.MethodPost, path, BroadcastRequest{Message: "hello everyone"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"delivered":1}`, w.Body.String())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, "hello everyone", string(data))
}

func TestBroadcastUnknownListener(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/listeners/127.0.0.1/1/broadcast", BroadcastRequest{Message: "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
