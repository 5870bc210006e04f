// Package admin provides the HTTP control API for the listeners of a registry.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Atheer-Ganayem/snapserver"
)

// stopTimeout bounds how long DELETE waits for a listener to finish.
const stopTimeout = 5 * time.Second

// Handler handles HTTP requests for listener management.
type Handler struct {
	ctx      context.Context
	registry *snapserver.Registry
	// options returns the options of a listener created through the API.
	options func() *snapserver.Options
	logger  *slog.Logger
}

// NewHandler creates a new Handler. Listeners it starts live until they are
// deleted or ctx is done.
func NewHandler(ctx context.Context, registry *snapserver.Registry, options func() *snapserver.Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if options == nil {
		options = func() *snapserver.Options { return &snapserver.Options{} }
	}
	return &Handler{
		ctx:      ctx,
		registry: registry,
		options:  options,
		logger:   logger,
	}
}

// CreateListenerRequest represents the request body for starting a listener.
type CreateListenerRequest struct {
	Address string `json:"address" binding:"required"`
	Port    *int   `json:"port"`
}

// BroadcastRequest represents the request body for a broadcast.
type BroadcastRequest struct {
	Message string `json:"message"`
}

// ListenerResponse represents a listener in API responses.
type ListenerResponse struct {
	Endpoint string `json:"endpoint"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Running  bool   `json:"running"`
	Sessions int    `json:"sessions"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterRoutes registers the admin routes on the router group.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)

	listeners := r.Group("/listeners")
	{
		listeners.GET("", h.List)
		listeners.POST("", h.Create)
		listeners.DELETE("/:host/:port", h.Delete)
		listeners.POST("/:host/:port/broadcast", h.Broadcast)
	}
}

func toListenerResponse(l *snapserver.Listener) ListenerResponse {
	key := l.Key()
	return ListenerResponse{
		Endpoint: key.String(),
		Address:  key.Address,
		Port:     key.Port,
		Running:  l.IsRunning(),
		Sessions: len(l.Sessions()),
	}
}

func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// keyFromPath parses the :host and :port path parameters.
func keyFromPath(c *gin.Context) (snapserver.EndpointKey, bool) {
	ip := net.ParseIP(c.Param("host"))
	port, err := strconv.Atoi(c.Param("port"))
	if ip == nil || err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid endpoint")
		return snapserver.EndpointKey{}, false
	}
	return snapserver.EndpointKey{Address: ip.String(), Port: port}, true
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"listeners": h.registry.Len(),
	})
}

// List handles GET /listeners.
func (h *Handler) List(c *gin.Context) {
	out := make([]ListenerResponse, 0)
	for _, key := range h.registry.Keys() {
		if l, ok := h.registry.Lookup(key); ok {
			out = append(out, toListenerResponse(l))
		}
	}
	c.JSON(http.StatusOK, gin.H{"listeners": out})
}

// Create handles POST /listeners - binds a new endpoint and starts accepting.
func (h *Handler) Create(c *gin.Context) {
	var req CreateListenerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	port := snapserver.DefaultPort
	if req.Port != nil {
		port = *req.Port
	}

	opts := h.options()
	opts.Registry = h.registry

	l, err := snapserver.NewListener(req.Address, port, opts)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	if err := l.Listen(); err != nil {
		if errors.Is(err, snapserver.ErrEndpointBusy) {
			sendError(c, http.StatusConflict, "ENDPOINT_BUSY", err.Error())
			return
		}
		h.logger.Error("failed to bind listener", "error", err)
		sendError(c, http.StatusInternalServerError, "BIND_FAILED", err.Error())
		return
	}

	go func() {
		if err := l.Serve(h.ctx); err != nil {
			h.logger.Error("listener failed", "endpoint", l.Key().String(), "error", err)
		}
	}()

	c.JSON(http.StatusCreated, toListenerResponse(l))
}

// Delete handles DELETE /listeners/:host/:port - stops a listener and waits for it.
func (h *Handler) Delete(c *gin.Context) {
	key, ok := keyFromPath(c)
	if !ok {
		return
	}

	l, ok := h.registry.Lookup(key)
	if !ok {
		sendError(c, http.StatusNotFound, "NOT_FOUND", snapserver.ErrListenerNotFound.Error())
		return
	}

	l.Stop()
	select {
	case <-l.Done():
		c.Status(http.StatusNoContent)
	case <-time.After(stopTimeout):
		sendError(c, http.StatusGatewayTimeout, "STOP_TIMEOUT", "listener did not stop in time")
	}
}

// Broadcast handles POST /listeners/:host/:port/broadcast.
func (h *Handler) Broadcast(c *gin.Context) {
	key, ok := keyFromPath(c)
	if !ok {
		return
	}

	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	l, ok := h.registry.Lookup(key)
	if !ok {
		sendError(c, http.StatusNotFound, "NOT_FOUND", snapserver.ErrListenerNotFound.Error())
		return
	}

	n, err := l.BroadcastString(c.Request.Context(), req.Message)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "BROADCAST_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"delivered": n})
}
