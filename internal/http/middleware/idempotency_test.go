package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func idemRouter(lookup IdempotencyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 32}, lookup))
	r.POST("/things/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func postWithKey(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/things/t1", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_MissingHeaderPassesThrough(t *testing.T) {
	r := idemRouter(nil)
	if w := postWithKey(r, ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	r := idemRouter(nil)

	for _, key := range []string{
		"has spaces",
		"emojié",
		"0123456789012345678901234567890123456789", // over MaxLen 32
	} {
		if w := postWithKey(r, key); w.Code != http.StatusBadRequest {
			t.Errorf("key %q status = %d; want 400", key, w.Code)
		}
	}
}

func TestIdempotencyValidator_MarksReplays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var gotScope, gotKey string
	lookup := func(ctx context.Context, userID, scopeID, key string, now time.Time) (bool, error) {
		gotScope, gotKey = scopeID, key
		return true, nil
	}

	var replay, bypass bool
	var storedKey string
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/things/:id", func(c *gin.Context) {
		replay = IsReplay(c)
		bypass = IsRateBypass(c)
		storedKey, _ = GetIdempotencyKey(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/things/t1", nil)
	req.Header.Set(HeaderIdempotencyKey, "retry-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gotScope != "t1" || gotKey != "retry-1" {
		t.Fatalf("lookup saw scope=%q key=%q", gotScope, gotKey)
	}
	if !replay || !bypass || storedKey != "retry-1" {
		t.Fatalf("replay=%v bypass=%v key=%q", replay, bypass, storedKey)
	}
}

func TestIdempotencyValidator_FreshKeyIsNotAReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	lookup := func(ctx context.Context, userID, scopeID, key string, now time.Time) (bool, error) {
		return false, nil
	}

	var replay bool
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/things/:id", func(c *gin.Context) {
		replay = IsReplay(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/things/t1", nil)
	req.Header.Set(HeaderIdempotencyKey, "fresh-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || replay {
		t.Fatalf("status=%d replay=%v", w.Code, replay)
	}
}
