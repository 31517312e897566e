package server

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"primate-rag/internal/logger"
	"primate-rag/internal/ratelimit"
)

// originCheck admits requests whose Origin, or failing that Referer, starts
// with an allowed prefix. Requests carrying neither are admitted only from
// loopback addresses.
func (h *Handler) originCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(h.cfg.AllowedOrigins) == 0 {
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		source := origin
		if source == "" {
			source = c.GetHeader("Referer")
		}
		switch {
		case source == "":
			ip := net.ParseIP(c.RemoteIP())
			if ip == nil || !ip.IsLoopback() {
				logger.Warn("rejected request without origin from %s", c.RemoteIP())
				fail(c, http.StatusForbidden, "FORBIDDEN", "Access denied", nil)
				return
			}
		case !h.allowed(source):
			logger.Warn("rejected request from origin %s", source)
			fail(c, http.StatusForbidden, "FORBIDDEN", "Access denied", nil)
			return
		}
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) allowed(source string) bool {
	for _, prefix := range h.cfg.AllowedOrigins {
		if strings.HasPrefix(source, prefix) {
			return true
		}
	}
	return false
}

// rateLimit spends one request of the client's quota and records how many
// remain under "remaining".
func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		remaining, err := h.quota.Take(clientID(c))
		switch {
		case errors.Is(err, ratelimit.ErrGlobalLimit):
			fail(c, http.StatusServiceUnavailable, "DAILY_LIMIT", "Daily limit reached. Please try again tomorrow.", nil)
			return
		case errors.Is(err, ratelimit.ErrClientLimit):
			fail(c, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded. Please try again later.", nil)
			return
		}
		c.Set("remaining", remaining)
		c.Next()
	}
}

// clientID is the first X-Forwarded-For address, or the peer address.
func clientID(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return c.RemoteIP()
}
