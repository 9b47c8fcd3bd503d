package user

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"PPRelay/middleware"
	"PPRelay/service/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newServer(t *testing.T) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	r := gin.New()
	NewHandler(storage.NewPresenceStore(rdb, "presence:", time.Minute), zap.NewNop()).
		Routes(r, middleware.RouteOpt{})
	return r, mr
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return body
}

func TestIsOnline(t *testing.T) {
	r, mr := newServer(t)

	w := get(r, "/is-online/alice")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decode(t, w); body["isOnline"] != false {
		t.Fatalf("body = %v, want offline", body)
	}

	if err := mr.Set("presence:alice", "748508987506704384"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if body := decode(t, get(r, "/is-online/alice")); body["isOnline"] != true {
		t.Fatalf("body = %v, want online", body)
	}
}

func TestIsOnlineStoreDown(t *testing.T) {
	r, mr := newServer(t)
	mr.Close()

	w := get(r, "/is-online/alice")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if _, ok := decode(t, w)["isOnline"]; ok {
		t.Fatal("store failure answered with a presence value")
	}
}

func TestIsOnlineBadUsername(t *testing.T) {
	r, _ := newServer(t)
	if w := get(r, "/is-online/%20"); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
