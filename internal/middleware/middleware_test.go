package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"chalkboard/internal/service"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeAuth struct{ err error }

func (f fakeAuth) Authenticate(_ context.Context, tok string) (*service.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if tok != "good" {
		return nil, service.ErrUnauthenticated
	}
	return &service.Identity{UID: "u1", Email: "u1@example.com"}, nil
}

type fakeMod struct {
	banned, admin map[string]bool
	err           error
}

func (f fakeMod) IsBanned(_ context.Context, uid string) (bool, error) { return f.banned[uid], f.err }
func (f fakeMod) IsAdmin(_ context.Context, uid string) (bool, error)  { return f.admin[uid], f.err }

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": c.GetString(ContextUserIDKey)})
	})
	r.GET("/x", handlers...)
	return r
}

func get(r http.Handler, target, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newEngine(AuthMiddleware(fakeAuth{}))
	tests := []struct {
		name   string
		target string
		authz  string
		want   int
	}{
		{"no header", "/x", "", http.StatusUnauthorized},
		{"wrong scheme", "/x", "Basic good", http.StatusUnauthorized},
		{"empty bearer", "/x", "Bearer ", http.StatusUnauthorized},
		{"bad token", "/x", "Bearer nope", http.StatusUnauthorized},
		{"good header", "/x", "Bearer good", http.StatusOK},
		{"query fallback", "/x?access_token=good", "", http.StatusOK},
		{"header wins over query", "/x?access_token=good", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := get(r, tt.target, tt.authz); w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuthMiddlewareBackendDown(t *testing.T) {
	r := newEngine(AuthMiddleware(fakeAuth{err: errors.New("redis down")}))
	if w := get(r, "/x", "Bearer good"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestActiveAndAdminMiddleware(t *testing.T) {
	auth := AuthMiddleware(fakeAuth{})

	banned := fakeMod{banned: map[string]bool{"u1": true}}
	if w := get(newEngine(auth, ActiveMiddleware(banned)), "/x", "Bearer good"); w.Code != http.StatusForbidden {
		t.Fatalf("banned: status = %d, want 403", w.Code)
	}
	if w := get(newEngine(auth, ActiveMiddleware(fakeMod{})), "/x", "Bearer good"); w.Code != http.StatusOK {
		t.Fatalf("active: status = %d, want 200", w.Code)
	}
	if w := get(newEngine(ActiveMiddleware(fakeMod{})), "/x", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no identity: status = %d, want 401", w.Code)
	}

	if w := get(newEngine(auth, AdminMiddleware(fakeMod{})), "/x", "Bearer good"); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin: status = %d, want 403", w.Code)
	}
	admin := fakeMod{admin: map[string]bool{"u1": true}}
	if w := get(newEngine(auth, AdminMiddleware(admin)), "/x", "Bearer good"); w.Code != http.StatusOK {
		t.Fatalf("admin: status = %d, want 200", w.Code)
	}
	down := fakeMod{err: errors.New("down")}
	if w := get(newEngine(auth, AdminMiddleware(down)), "/x", "Bearer good"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("store down: status = %d, want 503", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	r := newEngine(RateLimitMiddleware(rl))
	for i := 0; i < 2; i++ {
		if w := get(r, "/x", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	if w := get(r, "/x", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	// 已登录用户按 uid 单独计数
	r = newEngine(AuthMiddleware(fakeAuth{}), RateLimitMiddleware(rl))
	if w := get(r, "/x", "Bearer good"); w.Code != http.StatusOK {
		t.Fatalf("uid bucket: status = %d", w.Code)
	}
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(5 * time.Minute)
	rl.Allow("b")
	now = now.Add(6 * time.Minute)

	if n := rl.sweep(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := rl.visitors["b"]; !ok {
		t.Fatal("recent visitor was swept")
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := get(newEngine(SecurityHeaders()), "/x", "")
	if w.Header().Get("X-Frame-Options") != "DENY" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("headers = %v", w.Header())
	}
}
