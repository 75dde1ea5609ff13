package middleware

import (
	"net"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// ClientIP extracts the client IP from the request, considering proxies.
// X-Forwarded-For wins over X-Real-IP, which wins over the connection's remote address.
func ClientIP(ctx huma.Context) string {
	if xff := ctx.Header("X-Forwarded-For"); xff != "" {
		// Take the first IP (original client)
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}

		return strings.TrimSpace(xff)
	}

	if xri := ctx.Header("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	addr := ctx.RemoteAddr()

	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return ip
}
