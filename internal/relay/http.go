package relay

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Mount registers the relay's routes on r.
func (h *Hub) Mount(r gin.IRoutes) {
	r.GET("/ws", h.ServeWS)
	r.GET("/canvas.png", h.ServeCanvas)
	r.GET("/healthz", h.ServeHealth)
}

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and runs the session until it disconnects.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", slog.Any("err", err))
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(c.Request.Context())
	s := &Session{
		ID:         id,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		logger:     h.logger.With(slog.String("session", id)),
		ctx:        ctx,
		cancel:     cancel,
		registered: make(chan struct{}),
	}

	if !h.post(connectEvent{session: s}) {
		cancel()
		conn.Close()
		return
	}
	select {
	case <-s.registered:
	case <-h.done:
		cancel()
		conn.Close()
		return
	}

	go s.writePump()
	s.readPump(h)
}

// ServeCanvas serves the current raster as a PNG with conditional-request
// support.
func (h *Hub) ServeCanvas(c *gin.Context) {
	snap := h.canvas.Capture()

	etag, err := snap.ETag()
	if err != nil {
		h.logger.Error("encode canvas", slog.Any("err", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.Header("ETag", etag)
	c.Header("Last-Modified", snap.ModTime().UTC().Format(http.TimeFormat))
	c.Header("Cache-Control", "no-cache")

	if match := c.GetHeader("If-None-Match"); match != "" && etagMatches(match, etag) {
		c.Status(http.StatusNotModified)
		return
	}

	data, err := snap.Bytes()
	if err != nil {
		h.logger.Error("encode canvas", slog.Any("err", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// ServeHealth reports the hub counters, or 503 once the hub has stopped.
func (h *Hub) ServeHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	st, err := h.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": st.Sessions,
		"users":    st.Users,
		"revision": st.Revision,
	})
}
