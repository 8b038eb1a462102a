package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"collabdir/internal/auth"
	"collabdir/internal/core"
)

const (
	requestIDKey    = "collabdir.request_id"
	principalKey    = "collabdir.principal"
	requestIDHeader = "X-Request-ID"
)

func (h *Handler) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		h.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(started),
			"request_id", c.GetString(requestIDKey),
		)
	}
}

// cors answers preflight requests and tags responses for allowed origins.
func (h *Handler) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(h.corsOrigins) == 0:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && h.corsOrigins[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "10000")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Token is missing"})
			return
		}
		p, err := h.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				h.logger.Info("token rejected", "request_id", c.GetString(requestIDKey), "error", err)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
				return
			}
			h.fail(c, err)
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func principal(c *gin.Context) core.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(core.Principal); ok {
			return p
		}
	}
	return core.Principal{}
}
