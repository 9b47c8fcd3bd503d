package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"PPRelay/global"
	sec "PPRelay/tools/security"

	"github.com/gin-gonic/gin"
)

func newEngine(opts Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(opts), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func TestMiddleware(t *testing.T) {
	opts := DefaultOptions(global.AuthConfig{Enabled: true, Secret: "s3cret", Alg: "HS256"})
	tok, _, err := sec.Generate(opts.Token, "alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	r := newEngine(opts)

	cases := map[string]struct {
		setup  func(*http.Request)
		status int
		body   string
	}{
		"bearer":  {func(q *http.Request) { q.Header.Set("Authorization", "Bearer "+tok) }, http.StatusOK, "alice"},
		"header":  {func(q *http.Request) { q.Header.Set("authorization", tok) }, http.StatusOK, "alice"},
		"query":   {func(q *http.Request) { q.URL.RawQuery = "token=" + tok }, http.StatusOK, "alice"},
		"missing": {func(*http.Request) {}, http.StatusUnauthorized, ""},
		"invalid": {func(q *http.Request) { q.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if tc.body != "" && w.Body.String() != tc.body {
				t.Fatalf("body = %q, want %q", w.Body.String(), tc.body)
			}
		})
	}
}
