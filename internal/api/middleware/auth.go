package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andrew/avatar-studio/internal/auth"
	"github.com/andrew/avatar-studio/internal/database/models"
	"github.com/andrew/avatar-studio/internal/logger"
)

type contextKey string

const (
	guestContextKey contextKey = "guest"
	adminContextKey contextKey = "admin"
)

// bearerToken extracts the token of an "Authorization: Bearer" header
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GuestAuth validates guest bearer tokens
type GuestAuth struct {
	secret []byte
	now    func() time.Time
}

// NewGuestAuth creates the guest token middleware
func NewGuestAuth(secret []byte) *GuestAuth {
	return &GuestAuth{secret: secret, now: time.Now}
}

// Authenticate rejects requests without a valid guest token and stores its
// claims in the request context
func (m *GuestAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "missing guest token")
			return
		}

		claims, err := auth.ParseGuestToken(m.secret, token, m.now())
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid guest token")
			return
		}

		ctx := context.WithValue(r.Context(), guestContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetGuest returns the guest claims of an authenticated request
func GetGuest(ctx context.Context) *auth.GuestClaims {
	claims, _ := ctx.Value(guestContextKey).(*auth.GuestClaims)
	return claims
}

// WithGuest stores guest claims in ctx
func WithGuest(ctx context.Context, claims *auth.GuestClaims) context.Context {
	return context.WithValue(ctx, guestContextKey, claims)
}

// AdminKeyStore looks up operator keys
type AdminKeyStore interface {
	GetAdminKeyByHash(ctx context.Context, keyHash string) (*models.AdminKey, error)
	TouchAdminKey(ctx context.Context, id int64) error
}

// AdminAuth validates operator API keys
type AdminAuth struct {
	store AdminKeyStore
	log   *slog.Logger
}

// NewAdminAuth creates the admin key middleware
func NewAdminAuth(store AdminKeyStore, log *slog.Logger) *AdminAuth {
	return &AdminAuth{store: store, log: log}
}

// Lookup resolves the admin key presented by r, or nil
func (m *AdminAuth) Lookup(r *http.Request) (*models.AdminKey, error) {
	key, ok := bearerToken(r)
	if !ok {
		key = r.Header.Get("apikey")
	}
	if !auth.ValidAdminKeyFormat(key) {
		return nil, nil
	}

	admin, err := m.store.GetAdminKeyByHash(r.Context(), auth.HashAdminKey(key))
	if err != nil {
		return nil, err
	}
	if admin == nil || !admin.IsActive {
		return nil, nil
	}
	return admin, nil
}

// Authenticate rejects requests without an active admin key
func (m *AdminAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin, err := m.Lookup(r)
		if err != nil {
			m.log.ErrorContext(r.Context(), "failed to validate admin key", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to validate API key")
			return
		}
		if admin == nil {
			respondError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		if err := m.store.TouchAdminKey(r.Context(), admin.ID); err != nil {
			m.log.WarnContext(r.Context(), "failed to update admin key usage", logger.Error(err))
		}

		ctx := context.WithValue(r.Context(), adminContextKey, admin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAdmin returns the admin key of an authenticated request
func GetAdmin(ctx context.Context) *models.AdminKey {
	admin, _ := ctx.Value(adminContextKey).(*models.AdminKey)
	return admin
}
