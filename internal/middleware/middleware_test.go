package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/locomotiv/locomotiv_core/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeys struct {
	mu      sync.Mutex
	keys    map[string]models.OperatorKey
	touched chan string
}

func (f *fakeKeys) FindOperatorKey(ctx context.Context, keyHash string) (*models.OperatorKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[keyHash]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &key, nil
}

func (f *fakeKeys) TouchOperatorKey(ctx context.Context, id string) error {
	f.touched <- id
	return nil
}

const validKey = "ok_test_0123456789abcdef"

func newKeys() *fakeKeys {
	return &fakeKeys{
		keys: map[string]models.OperatorKey{
			HashKey(validKey): {ID: "3f0c9c6e-1111-4c1e-9d2b-8f7b2a0e4c11", Name: "Yard West", RateLimitPerSecond: 5},
		},
		touched: make(chan string, 1),
	}
}

func newApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	for _, h := range handlers {
		app.Use(h)
	}
	app.Get("/whoami", func(c *fiber.Ctx) error {
		op, ok := Operator(c)
		if !ok {
			return c.JSON(fiber.Map{"name": "anonymous"})
		}
		return c.JSON(fiber.Map{"name": op.Name})
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "bad format", header: "Token " + validKey, status: http.StatusUnauthorized},
		{name: "wrong prefix", header: "Bearer pk_live_abc", status: http.StatusUnauthorized},
		{name: "unknown key", header: "Bearer ok_test_unknown", status: http.StatusUnauthorized},
		{name: "valid key", header: "Bearer " + validKey, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := newKeys()
			app := newApp(AuthMiddleware(keys))

			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			if tt.status == http.StatusOK {
				assert.Equal(t, "3f0c9c6e-1111-4c1e-9d2b-8f7b2a0e4c11", <-keys.touched)
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	app := newApp(OptionalAuth(newKeys()))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/whoami", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer ok_test_unknown")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHashKey(t *testing.T) {
	hash := HashKey(validKey)
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, HashKey(validKey))
	assert.NotEqual(t, hash, HashKey(validKey+"x"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()

	app := newApp(AuthMiddleware(newKeys()), RateLimitMiddleware(rdb, DefaultRateLimits))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+validKey)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("X-RateLimit-Limit-Second"))
}

func TestRateLimitSkipsAnonymous(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()

	app := newApp(RateLimitMiddleware(rdb, DefaultRateLimits))
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/whoami", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-RateLimit-Limit-Second"))
}
