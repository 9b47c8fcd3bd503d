package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"PPRelay/global"
	"PPRelay/tools/errs"

	"github.com/gin-gonic/gin"
)

// Origin rejects websocket handshakes whose Origin is not in allowed.
// An empty list allows every origin.
func Origin(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isUpgrade(c.Request) {
			return
		}
		if !OriginAllowed(allowed, c.GetHeader("Origin")) {
			global.Abort(c, errs.ErrUnauthorized.WithDetail("origin not allowed"))
		}
	}
}

// OriginAllowed matches the origin host against allowed entries; an entry
// may be a bare host, a full origin or "*".
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
			return true
		}
	}
	return false
}

func isUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
