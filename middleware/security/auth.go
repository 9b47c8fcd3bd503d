package security

import (
	"strings"

	"PPRelay/global"
	"PPRelay/tools/errs"
	sec "PPRelay/tools/security"

	"github.com/gin-gonic/gin"
)

// CtxUserID is the gin context key holding the verified token subject.
const CtxUserID = "pprelay.user"

type Options struct {
	Token sec.Options
	// HeaderToken is read before Authorization: Bearer.
	HeaderToken string
	// QueryToken is read last; browsers cannot set headers on a websocket
	// handshake.
	QueryToken string
}

func DefaultOptions(cfg global.AuthConfig) Options {
	return Options{
		Token:       sec.Options{Secret: []byte(cfg.Secret), Alg: cfg.Alg},
		HeaderToken: "authorization",
		QueryToken:  "token",
	}
}

// Middleware rejects requests without a valid token and stores the subject
// under CtxUserID.
func Middleware(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c, opts)
		if token == "" {
			global.Abort(c, errs.ErrUnauthorized.WithDetail("missing token"))
			return
		}
		claims, err := sec.Verify(opts.Token, token)
		if err != nil {
			global.Abort(c, err)
			return
		}
		c.Set(CtxUserID, claims.Subject)
		c.Next()
	}
}

func extractToken(c *gin.Context, opts Options) string {
	if opts.HeaderToken != "" {
		if v := strings.TrimSpace(c.GetHeader(opts.HeaderToken)); v != "" && !hasBearer(v) {
			return v
		}
	}
	if authz := strings.TrimSpace(c.GetHeader("Authorization")); hasBearer(authz) {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	if opts.QueryToken != "" {
		return strings.TrimSpace(c.Query(opts.QueryToken))
	}
	return ""
}

func hasBearer(v string) bool {
	return len(v) > len("bearer ") && strings.EqualFold(v[:len("bearer ")], "bearer ")
}

// UserID returns the verified subject, or "" when the route is not
// authenticated.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserID)
}
