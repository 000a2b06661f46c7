package middleware

import (
    "context"
    "fmt"
    "net/http"
    "net/http/httptest"
    "os"
    "testing"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/parkqr/internal/config"
    "github.com/iliyamo/parkqr/internal/utils"
)

const testSecret = "test-secret"

func protectedEcho() *echo.Echo {
    e := echo.New()
    g := e.Group("/ops", JWTAuth(testSecret), RequireRole(utils.OperatorRole))
    g.GET("/whoami", func(c echo.Context) error {
        return c.String(http.StatusOK, c.Get(CtxOperatorID).(string))
    })
    return e
}

func doGet(e *echo.Echo, path, bearer string) *httptest.ResponseRecorder {
    req := httptest.NewRequest(http.MethodGet, path, nil)
    if bearer != "" {
        req.Header.Set("Authorization", "Bearer "+bearer)
    }
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    return rec
}

func signed(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims, key any) string {
    t.Helper()
    s, err := jwt.NewWithClaims(method, claims).SignedString(key)
    if err != nil {
        t.Fatalf("sign: %v", err)
    }
    return s
}

func TestOperatorTokenAccepted(t *testing.T) {
    tok, err := utils.NewOperatorToken(testSecret, "gate-1", 5)
    if err != nil {
        t.Fatalf("mint: %v", err)
    }
    rec := doGet(protectedEcho(), "/ops/whoami", tok.Token)
    if rec.Code != http.StatusOK || rec.Body.String() != "gate-1" {
        t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
    }
}

func TestJWTAuthRejects(t *testing.T) {
    exp := time.Now().Add(time.Hour).Unix()
    cases := map[string]struct {
        bearer string
        want   int
    }{
        "missing":      {"", http.StatusUnauthorized},
        "garbage":      {"not-a-jwt", http.StatusUnauthorized},
        "wrong secret": {signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "role": "OPERATOR", "exp": exp}, []byte("other")), http.StatusUnauthorized},
        "expired":      {signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "role": "OPERATOR", "exp": time.Now().Add(-time.Hour).Unix()}, []byte(testSecret)), http.StatusUnauthorized},
        "no expiry":    {signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "role": "OPERATOR"}, []byte(testSecret)), http.StatusUnauthorized},
        "hs512":        {signed(t, jwt.SigningMethodHS512, jwt.MapClaims{"sub": "x", "role": "OPERATOR", "exp": exp}, []byte(testSecret)), http.StatusUnauthorized},
        "wrong role":   {signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "role": "DRIVER", "exp": exp}, []byte(testSecret)), http.StatusForbidden},
    }
    e := protectedEcho()
    for name, tc := range cases {
        if rec := doGet(e, "/ops/whoami", tc.bearer); rec.Code != tc.want {
            t.Fatalf("%s: status = %d, want %d", name, rec.Code, tc.want)
        }
    }
}

func TestTokenBucketWithoutRedisPassesThrough(t *testing.T) {
    e := echo.New()
    e.Use(NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil))
    e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
    for i := 0; i < 3; i++ {
        if rec := doGet(e, "/x", ""); rec.Code != http.StatusNoContent {
            t.Fatalf("request %d status = %d", i, rec.Code)
        }
    }
}

func TestRateKey(t *testing.T) {
    e := echo.New()
    req := httptest.NewRequest(http.MethodPost, "/api/parking/exit", nil)
    req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
    c := e.NewContext(req, httptest.NewRecorder())
    c.SetPath("/api/parking/exit")

    cfg := config.RateLimitConfig{Prefix: "parkqr:rl", KeyStrategy: "ip_route"}
    if got, want := rateKey(cfg, c), "parkqr:rl:ip:10.0.0.7:route:POST /api/parking/exit"; got != want {
        t.Fatalf("ip_route key = %q, want %q", got, want)
    }

    c.Set(CtxOperatorID, "gate-1")
    cfg.KeyStrategy = "operator"
    if got, want := rateKey(cfg, c), "parkqr:rl:op:gate-1"; got != want {
        t.Fatalf("operator key = %q, want %q", got, want)
    }
}

// testRedis connects to REDIS_TEST_ADDR and skips when it is unset or
// unreachable.
func testRedis(t *testing.T) *redis.Client {
    t.Helper()
    addr := os.Getenv("REDIS_TEST_ADDR")
    if addr == "" {
        t.Skip("REDIS_TEST_ADDR not set")
    }
    rdb := redis.NewClient(&redis.Options{Addr: addr})
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        t.Skipf("redis at %s unreachable: %v", addr, err)
    }
    t.Cleanup(func() { _ = rdb.Close() })
    return rdb
}

func TestTokenBucketScriptRefillAndDeny(t *testing.T) {
    rdb := testRedis(t)
    ctx := context.Background()
    key := fmt.Sprintf("parkqr:test:bucket:%d", time.Now().UnixNano())
    t.Cleanup(func() { rdb.Del(context.Background(), key) })

    take := func(nowMs int64) []int64 {
        t.Helper()
        // capacity 2, one token per 1000ms, 60s ttl
        vals, err := tokenBucketScript.Run(ctx, rdb, []string{key}, nowMs, 2, 1, 1000, 60).Int64Slice()
        if err != nil {
            t.Fatalf("run script: %v", err)
        }
        return vals
    }

    const start = int64(1_000_000)
    if v := take(start); v[0] != 1 || v[1] != 1 {
        t.Fatalf("first take = %v, want allowed with 1 left", v)
    }
    if v := take(start + 10); v[0] != 1 || v[1] != 0 {
        t.Fatalf("second take = %v, want allowed with 0 left", v)
    }
    v := take(start + 400)
    if v[0] != 0 || v[1] != 0 {
        t.Fatalf("third take = %v, want denied", v)
    }
    if v[2] != 600 {
        t.Fatalf("retry after = %dms, want 600", v[2])
    }
    if v := take(start + 1000); v[0] != 1 || v[1] != 0 {
        t.Fatalf("take after one interval = %v, want allowed with 0 left", v)
    }
    // A long pause refills up to capacity and no further.
    if v := take(start + 60_000); v[0] != 1 || v[1] != 1 {
        t.Fatalf("take after long pause = %v, want allowed with 1 left", v)
    }
    ttl, err := rdb.TTL(ctx, key).Result()
    if err != nil || ttl <= 0 || ttl > time.Minute {
        t.Fatalf("bucket ttl = %s, %v", ttl, err)
    }
}

func TestTokenBucketBlocksWithRetryAfter(t *testing.T) {
    rdb := testRedis(t)
    prefix := fmt.Sprintf("parkqr:test:%d", time.Now().UnixNano())
    cfg := config.RateLimitConfig{
        Enabled:        true,
        Capacity:       2,
        RefillTokens:   1,
        RefillInterval: time.Minute,
        TTL:            10 * time.Minute,
        KeyStrategy:    "ip",
        Prefix:         prefix,
    }
    t.Cleanup(func() { rdb.Del(context.Background(), prefix+":ip:192.0.2.1") })

    e := echo.New()
    e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewTokenBucket(cfg, rdb))
    get := func() *httptest.ResponseRecorder {
        req := httptest.NewRequest(http.MethodGet, "/x", nil)
        req.RemoteAddr = "192.0.2.1:4000"
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, req)
        return rec
    }

    for i := 0; i < 2; i++ {
        if rec := get(); rec.Code != http.StatusNoContent {
            t.Fatalf("request %d status = %d", i, rec.Code)
        }
    }
    rec := get()
    if rec.Code != http.StatusTooManyRequests {
        t.Fatalf("third request status = %d, want 429", rec.Code)
    }
    if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
        t.Fatalf("headers = %v", rec.Header())
    }
}
