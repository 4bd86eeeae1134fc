package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/middleware"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	clock   func() time.Time
	err     error
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string][]time.Time)}
}

func (m *memStore) RecordAndCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return 0, m.err
	}

	if m.clock != nil {
		now = m.clock()
	}

	cutoff := now.Add(-window)
	kept := m.entries[key][:0]
	for _, ts := range m.entries[key] {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	m.entries[key] = kept

	return int64(len(kept)), nil
}

func (m *memStore) hasKeyWithPrefix(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func newTestRouter(t *testing.T, store ratelimit.Store, admission config.AdmissionConfig, handlerStatus int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if admission.WindowSeconds == 0 {
		admission.WindowSeconds = 60
	}

	policy, err := ratelimit.NewDualTierAdmissionPolicy(store, admission)
	require.NoError(t, err)

	detector, err := security.NewDetector(store, config.SuspiciousConfig{
		WindowSeconds:               300,
		CredentialStuffingThreshold: 5,
		EndpointScanningThreshold:   10,
		AbuseThreshold:              20,
	})
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware.Admission(policy, detector, nil))
	router.GET("/api/products", func(c *gin.Context) {
		c.Status(handlerStatus)
	})

	return router
}

func doRequest(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.RemoteAddr = "203.0.113.7:52311"
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAdmission_EndToEnd(t *testing.T) {
	store := newMemStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return now }

	router := newTestRouter(t, store, config.AdmissionConfig{
		IPLimit:       3,
		UserLimit:     60,
		WindowSeconds: 60,
		FailOpen:      true,
	}, http.StatusOK)

	for i := 1; i <= 3; i++ {
		w := doRequest(router, "")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass through", i)
	}

	w := doRequest(router, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.JSONEq(t,
		`{"detail": "Rate limit exceeded for IP. Maximum 3 requests per minute."}`,
		w.Body.String())

	// After the window has fully rolled, the subject is fresh again
	now = now.Add(61 * time.Second)

	w = doRequest(router, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmission_UserTierAppliesToBearerToken(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(t, store, config.AdmissionConfig{
		IPLimit:       100,
		UserLimit:     2,
		WindowSeconds: 60,
		FailOpen:      true,
	}, http.StatusOK)

	auth := "Bearer abcdefghijklmnop"

	for i := 1; i <= 2; i++ {
		w := doRequest(router, auth)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(router, auth)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t,
		`{"detail": "Rate limit exceeded for user. Maximum 2 requests per minute."}`,
		w.Body.String())

	// Opaque tokens map to a stable prefix bucket
	assert.True(t, store.hasKeyWithPrefix("rate:user:user_abcdefghij"))
}

func TestAdmission_MalformedAuthHeaderIsAnonymous(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(t, store, config.AdmissionConfig{
		IPLimit:       100,
		UserLimit:     1,
		WindowSeconds: 60,
		FailOpen:      true,
	}, http.StatusOK)

	for i := 0; i < 3; i++ {
		w := doRequest(router, "Token not-a-bearer")
		assert.Equal(t, http.StatusOK, w.Code)
	}

	// Malformed credentials never reach the user tier
	assert.False(t, store.hasKeyWithPrefix("rate:user:"))
}

func TestAdmission_RejectionSkipsHandlerAndDetector(t *testing.T) {
	store := newMemStore()
	handlerCalls := 0

	gin.SetMode(gin.TestMode)
	policy, err := ratelimit.NewDualTierAdmissionPolicy(store, config.AdmissionConfig{
		IPLimit:       1,
		UserLimit:     1,
		WindowSeconds: 60,
		FailOpen:      true,
	})
	require.NoError(t, err)

	detector, err := security.NewDetector(store, config.SuspiciousConfig{
		WindowSeconds:               300,
		CredentialStuffingThreshold: 5,
		EndpointScanningThreshold:   10,
		AbuseThreshold:              20,
	})
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware.Admission(policy, detector, nil))
	router.GET("/api/products", func(c *gin.Context) {
		handlerCalls++
		c.Status(http.StatusOK)
	})

	doRequest(router, "")
	w := doRequest(router, "")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1, handlerCalls)

	// The 429 is the limiter's own doing; it is not fed back into the
	// suspicious activity counters
	assert.False(t, store.hasKeyWithPrefix("suspicious:"))
}

func TestAdmission_DetectorObservesHandlerStatus(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(t, store, config.AdmissionConfig{
		IPLimit:       100,
		UserLimit:     60,
		WindowSeconds: 60,
		FailOpen:      true,
	}, http.StatusNotFound)

	w := doRequest(router, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.True(t, store.hasKeyWithPrefix("suspicious:404:"))
	assert.True(t, store.hasKeyWithPrefix("suspicious:4xx:"))
	assert.False(t, store.hasKeyWithPrefix("suspicious:401:"))
}

func TestAdmission_FailOpenAdmitsEverything(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")

	router := newTestRouter(t, store, config.AdmissionConfig{
		IPLimit:       1,
		UserLimit:     1,
		WindowSeconds: 60,
		FailOpen:      true,
	}, http.StatusOK)

	for i := 1; i <= 100; i++ {
		w := doRequest(router, "")
		assert.Equal(t, http.StatusOK, w.Code, "fail-open must admit request %d", i)
	}
}

func TestAdmission_FailClosedReturns503(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")

	router := newTestRouter(t, store, config.AdmissionConfig{
		IPLimit:       1,
		UserLimit:     1,
		WindowSeconds: 60,
		FailOpen:      false,
	}, http.StatusOK)

	w := doRequest(router, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
