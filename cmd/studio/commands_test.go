package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/avatar-studio/internal/api"
	"github.com/andrew/avatar-studio/internal/cache"
	"github.com/andrew/avatar-studio/internal/client"
	"github.com/andrew/avatar-studio/internal/config"
	"github.com/andrew/avatar-studio/internal/database"
	"github.com/andrew/avatar-studio/internal/fingerprint"
	"github.com/andrew/avatar-studio/internal/guest"
	"github.com/andrew/avatar-studio/internal/ledger"
	"github.com/andrew/avatar-studio/internal/localstore"
	"github.com/andrew/avatar-studio/internal/logger"
	"github.com/andrew/avatar-studio/internal/providers/did"
	"github.com/andrew/avatar-studio/internal/providers/unsplash"
)

type studioServer struct {
	url   string
	db    *database.DB
	talks atomic.Int32
}

func newStudioServer(t *testing.T) *studioServer {
	t.Helper()
	ctx := context.Background()
	ss := &studioServer{}

	db, err := database.New(filepath.Join(t.TempDir(), "studio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ss.db = db

	l, err := ledger.New(ctx, db.UsageStore())
	require.NoError(t, err)

	didSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/talks" {
			ss.talks.Add(1)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"tlk_1","status":"created"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(didSrv.Close)

	cfg := config.Default()
	cfg.Secrets.GuestJWTSecret = "studio-test"

	srv := httptest.NewServer(api.SetupRoutes(cfg, api.Deps{
		DB:       db,
		Ledger:   l,
		DID:      did.New(didSrv.URL, "key", time.Second),
		Unsplash: unsplash.New("", "", time.Second),
		Cache:    cache.NewMemory(),
		Logger:   logger.Discard(),
	}))
	t.Cleanup(srv.Close)
	ss.url = srv.URL
	return ss
}

func newTestApp(t *testing.T, ss *studioServer, platform string) (*app, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()

	kv, err := localstore.OpenKV(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, err)
	l, err := ledger.New(ctx, ledger.NewMemoryStore())
	require.NoError(t, err)

	attrs := fingerprint.Attributes{
		UserAgent:        "avatar-studio/test",
		ScreenResolution: "80x24",
		Timezone:         "UTC",
		Language:         "en-US",
		Platform:         platform,
	}
	c := client.New(ss.url, attrs)
	m := guest.NewManager(kv, c,
		guest.WithLedger(l),
		guest.WithLogger(logger.Discard()),
		guest.WithAttributes(func() fingerprint.Attributes { return attrs }),
	)

	var out bytes.Buffer
	return &app{client: c, guest: m, ledger: l, log: logger.Discard(), out: &out}, &out
}

func videoArgs() []string {
	return []string{"create", "-avatar-url", "https://i/amy.png", "-script", "Hello there"}
}

func TestVideoCreateDebitsBeforeProvider(t *testing.T) {
	ctx := context.Background()
	ss := newStudioServer(t)

	t.Run("enough tokens", func(t *testing.T) {
		a, out := newTestApp(t, ss, "linux")
		s, err := a.session(ctx)
		require.NoError(t, err)
		_, err = ss.db.GrantTokens(ctx, s.ID, 500)
		require.NoError(t, err)

		require.NoError(t, runVideo(ctx, a, videoArgs()))
		assert.EqualValues(t, 1, ss.talks.Load())

		var talk did.Talk
		require.NoError(t, json.Unmarshal(out.Bytes(), &talk))
		assert.Equal(t, "tlk_1", talk.ID)

		assert.Equal(t, 200, a.guest.Session().RemainingTokens)
		assert.Equal(t, 800, a.ledger.TotalTokensUsed(s.ID))

		history, err := ss.db.ListTokenUsage(ctx, s.ID, 10, 0, nil, nil)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, 800, history[0].TokensUsed)
		assert.Equal(t, ledger.ActivityVideoGeneration, history[0].ActivityType)
	})

	t.Run("not enough tokens", func(t *testing.T) {
		before := ss.talks.Load()
		a, out := newTestApp(t, ss, "darwin")

		err := runVideo(ctx, a, videoArgs())
		require.ErrorIs(t, err, errNoTokens)
		assert.Contains(t, err.Error(), "video_generation costs 800, 500 left")
		assert.Equal(t, before, ss.talks.Load())
		assert.Empty(t, out.String())

		assert.Equal(t, 500, a.guest.Session().RemainingTokens)
		assert.Zero(t, a.ledger.TotalTokensUsed(a.guest.Session().ID))
	})

	t.Run("missing flags never debit", func(t *testing.T) {
		before := ss.talks.Load()
		a, _ := newTestApp(t, ss, "windows")

		err := runVideo(ctx, a, []string{"create", "-script", "Hello"})
		require.EqualError(t, err, "missing required flags: -avatar-url")
		assert.Equal(t, before, ss.talks.Load())
		assert.Nil(t, a.guest.Session())
	})
}

func TestRequired(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
		err    string
	}{
		{"all set", map[string]string{"a": "x", "b": "y"}, ""},
		{"blank counts as missing", map[string]string{"a": " ", "b": "y"}, "missing required flags: -a"},
		{"sorted names", map[string]string{"title": "", "description": ""}, "missing required flags: -description, -title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := required(tt.values)
			if tt.err == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.err)
		})
	}
}
