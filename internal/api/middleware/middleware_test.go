package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/avatar-studio/internal/auth"
	"github.com/andrew/avatar-studio/internal/database/models"
	"github.com/andrew/avatar-studio/internal/fingerprint"
	"github.com/andrew/avatar-studio/internal/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestGuestAuth(t *testing.T) {
	secret := []byte("secret")
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	token, _, err := auth.IssueGuestToken(secret, "user-1", "session_abc_1", time.Hour, now)
	require.NoError(t, err)

	m := NewGuestAuth(secret)
	m.now = func() time.Time { return now }

	var seen *auth.GuestClaims
	h := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetGuest(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"tampered", "Bearer " + token + "x", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, "user-1", seen.UserID())
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

type fakeKeys struct {
	keys    map[string]*models.AdminKey
	touched []int64
	err     error
}

func (f *fakeKeys) GetAdminKeyByHash(ctx context.Context, hash string) (*models.AdminKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.keys[hash], nil
}

func (f *fakeKeys) TouchAdminKey(ctx context.Context, id int64) error {
	f.touched = append(f.touched, id)
	return nil
}

func TestAdminAuth(t *testing.T) {
	key, err := auth.GenerateAdminKey()
	require.NoError(t, err)
	inactive, err := auth.GenerateAdminKey()
	require.NoError(t, err)

	store := &fakeKeys{keys: map[string]*models.AdminKey{
		auth.HashAdminKey(key):      {ID: 7, Name: "ops", IsActive: true},
		auth.HashAdminKey(inactive): {ID: 8, Name: "old", IsActive: false},
	}}
	m := NewAdminAuth(store, logger.Discard())
	h := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ops", GetAdmin(r.Context()).Name)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"bearer", "Authorization", "Bearer " + key, http.StatusNoContent},
		{"apikey header", "apikey", key, http.StatusNoContent},
		{"inactive", "Authorization", "Bearer " + inactive, http.StatusUnauthorized},
		{"unknown", "Authorization", "Bearer avs_unknown", http.StatusUnauthorized},
		{"wrong prefix", "Authorization", "Bearer aics_x", http.StatusUnauthorized},
		{"none", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Equal(t, []int64{7, 7}, store.touched)

	t.Run("store failure", func(t *testing.T) {
		failing := NewAdminAuth(&fakeKeys{err: errors.New("db down")}, logger.Discard())
		req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		rec := httptest.NewRecorder()
		failing.Authenticate(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestCORS(t *testing.T) {
	h := NewCORS(nil).Handle(ok)

	req := httptest.NewRequest(http.MethodOptions, "/rpc/create_anonymous_session", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "authorization, x-client-info, apikey, content-type", rec.Header().Get("Access-Control-Allow-Headers"))

	t.Run("restricted origins", func(t *testing.T) {
		h := NewCORS([]string{"https://studio.example.com"}).Handle(ok)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://studio.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "https://studio.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

		req.Header.Set("Origin", "https://evil.example.com")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "info", "json")

	var seen string
	h := RequestID(NewLogger(log).Log(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/voices", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	assert.Contains(t, buf.String(), `"path":"/v1/voices"`)
	assert.Contains(t, buf.String(), `"status_code":418`)
	assert.Contains(t, buf.String(), seen)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "client-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "client-id", seen)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	m := NewRateLimiter(2)
	m.now = func() time.Time { return now }
	h := m.RateLimit(ok)

	device := func(ua string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/v1/avatars", nil)
		fingerprint.Attributes{UserAgent: ua, ScreenResolution: "1x1"}.Apply(req)
		return req
	}

	codes := func(req *http.Request) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, codes(device("a")))
	assert.Equal(t, http.StatusNoContent, codes(device("a")))
	assert.Equal(t, http.StatusTooManyRequests, codes(device("a")))
	assert.Equal(t, http.StatusNoContent, codes(device("b")), "devices are limited independently")

	assert.Zero(t, m.Cleanup())
	now = now.Add(11 * time.Minute)
	assert.Equal(t, 2, m.Cleanup())
}
