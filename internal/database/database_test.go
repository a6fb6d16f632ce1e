package database_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/avatar-studio/internal/database"
	"github.com/andrew/avatar-studio/internal/database/models"
	"github.com/andrew/avatar-studio/internal/ledger"
)

func newDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "data", "studio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newSession(hash, sessionID string) models.NewSession {
	return models.NewSession{
		FingerprintHash:  hash,
		SessionID:        sessionID,
		UserAgent:        "ua",
		ScreenResolution: "1920x1080",
		Timezone:         "UTC",
		Language:         "en-US",
		Platform:         "linux",
	}
}

func TestCreateAndGetAnonymousSession(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	id, err := db.CreateAnonymousSession(ctx, newSession("fp1", "session_abc_1"), 500, 1)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s, err := db.GetAnonymousSession(ctx, "session_abc_1", id)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, id, s.ID)
	assert.Equal(t, "fp1", s.FingerprintHash)
	assert.Equal(t, "1920x1080", s.ScreenResolution)

	row := s.Row()
	assert.Equal(t, 500, row.TotalTokens)
	assert.Equal(t, 0, row.UsedTokens)
	assert.Equal(t, 500, row.RemainingTokens)

	byID, err := db.GetAnonymousSessionByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, s.SessionID, byID.SessionID)

	missing, err := db.GetAnonymousSession(ctx, "session_abc_1", "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDevicePolicy(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	_, err := db.CreateAnonymousSession(ctx, newSession("fp1", "s1"), 500, 1)
	require.NoError(t, err)

	t.Run("second session from the same device is blocked", func(t *testing.T) {
		_, err := db.CreateAnonymousSession(ctx, newSession("fp1", "s2"), 500, 1)
		assert.ErrorIs(t, err, database.ErrDeviceBlocked)
	})

	t.Run("other devices are unaffected", func(t *testing.T) {
		_, err := db.CreateAnonymousSession(ctx, newSession("fp2", "s3"), 500, 1)
		assert.NoError(t, err)
	})

	t.Run("duplicate session id", func(t *testing.T) {
		_, err := db.CreateAnonymousSession(ctx, newSession("fp9", "s3"), 500, 0)
		assert.ErrorIs(t, err, database.ErrDuplicateSession)
	})

	t.Run("unblock allows one more session", func(t *testing.T) {
		require.NoError(t, db.UnblockDevice(ctx, "fp1"))
		_, err := db.CreateAnonymousSession(ctx, newSession("fp1", "s4"), 500, 1)
		require.NoError(t, err)
		_, err = db.CreateAnonymousSession(ctx, newSession("fp1", "s5"), 500, 1)
		assert.ErrorIs(t, err, database.ErrDeviceBlocked)

		policy, err := db.GetDevicePolicy(ctx, "fp1")
		require.NoError(t, err)
		assert.Equal(t, 2, policy.SessionCount)
		require.NotNil(t, policy.SessionAllowance)
		assert.Equal(t, 2, *policy.SessionAllowance)
	})

	t.Run("explicit block overrides the limit", func(t *testing.T) {
		require.NoError(t, db.BlockDevice(ctx, "fp3", "abuse"))
		_, err := db.CreateAnonymousSession(ctx, newSession("fp3", "s6"), 500, 0)
		assert.ErrorIs(t, err, database.ErrDeviceBlocked)

		policy, err := db.GetDevicePolicy(ctx, "fp3")
		require.NoError(t, err)
		assert.True(t, policy.Blocked)
		assert.Equal(t, "abuse", policy.Reason)
	})

	t.Run("unknown device has an empty policy", func(t *testing.T) {
		policy, err := db.GetDevicePolicy(ctx, "never-seen")
		require.NoError(t, err)
		assert.False(t, policy.Blocked)
		assert.Zero(t, policy.SessionCount)
		assert.Nil(t, policy.SessionAllowance)
	})
}

func TestConsumeAnonymousTokens(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	id, err := db.CreateAnonymousSession(ctx, newSession("fp1", "s1"), 500, 1)
	require.NoError(t, err)

	balance, err := db.ConsumeAnonymousTokens(ctx, id, 100, ledger.ActivityAvatarImageUpload)
	require.NoError(t, err)
	assert.Equal(t, models.Balance{TotalTokens: 500, UsedTokens: 100, RemainingTokens: 400}, *balance)

	_, err = db.ConsumeAnonymousTokens(ctx, id, 401, ledger.ActivityVideoGeneration)
	assert.ErrorIs(t, err, database.ErrInsufficientTokens)

	_, err = db.ConsumeAnonymousTokens(ctx, "nope", 1, "x")
	assert.ErrorIs(t, err, database.ErrSessionNotFound)

	_, err = db.ConsumeAnonymousTokens(ctx, id, 0, "x")
	assert.Error(t, err)

	s, err := db.GetAnonymousSessionByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100, s.UsedTokens)
	assert.Equal(t, s.TotalTokens-s.UsedTokens, s.Row().RemainingTokens)

	history, err := db.ListTokenUsage(ctx, id, 10, 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.ActivityAvatarImageUpload, history[0].ActivityType)
	assert.Equal(t, 100, history[0].TokensUsed)
	assert.InDelta(t, 0.1, history[0].CostEUR, 1e-9)
}

func TestConsumeAnonymousTokensConcurrent(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	id, err := db.CreateAnonymousSession(ctx, newSession("fp1", "s1"), 500, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.ConsumeAnonymousTokens(ctx, id, 100, "x"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s, err := db.GetAnonymousSessionByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, succeeded*100, s.UsedTokens)
	assert.LessOrEqual(t, s.UsedTokens, s.TotalTokens)
}

func TestGrantTokens(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	id, err := db.CreateAnonymousSession(ctx, newSession("fp1", "s1"), 500, 1)
	require.NoError(t, err)

	balance, err := db.GrantTokens(ctx, id, 250)
	require.NoError(t, err)
	assert.Equal(t, 750, balance.TotalTokens)
	assert.Equal(t, 750, balance.RemainingTokens)

	_, err = db.GrantTokens(ctx, "missing", 10)
	assert.ErrorIs(t, err, database.ErrSessionNotFound)

	sessions, err := db.ListAnonymousSessions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 750, sessions[0].TotalTokens)
}

func TestListTokenUsageTimeBounds(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	base := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)

	store := db.UsageStore()
	for i, tokens := range []int{100, 200, 300} {
		require.NoError(t, store.Append(ctx, ledger.Record{
			ID:         string(rune('a' + i)),
			UserID:     "u1",
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			TokensUsed: tokens,
			EurosCost:  float64(tokens) / 1000,
			Activity:   "x",
		}))
	}

	start := base.Add(30 * time.Minute)
	history, err := db.ListTokenUsage(ctx, "u1", 10, 0, &start, nil)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 300, history[0].TokensUsed)

	end := base.Add(90 * time.Minute)
	history, err = db.ListTokenUsage(ctx, "u1", 10, 0, &start, &end)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 200, history[0].TokensUsed)

	history, err = db.ListTokenUsage(ctx, "u1", 1, 1, nil, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 200, history[0].TokensUsed)
}

func TestUsageStoreBacksLedger(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	id, err := db.CreateAnonymousSession(ctx, newSession("fp1", "s1"), 2000, 1)
	require.NoError(t, err)

	l, err := ledger.New(ctx, db.UsageStore())
	require.NoError(t, err)

	_, err = l.RecordUsage(ctx, id, 200, "agent_interaction")
	require.NoError(t, err)

	// a debit written by the procedure shows up after a reload
	_, err = db.ConsumeAnonymousTokens(ctx, id, 800, ledger.ActivityVideoGeneration)
	require.NoError(t, err)
	assert.Equal(t, 200, l.TotalTokensUsed(id))
	require.NoError(t, l.Reload(ctx))
	require.NoError(t, l.Reload(ctx))
	assert.Equal(t, 1000, l.TotalTokensUsed(id))
	assert.InDelta(t, 1.0, l.TotalCost(id), 1e-9)
}

func TestAdminKeys(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	key := &models.AdminKey{Name: "ops", KeyHash: "hash-1"}
	require.NoError(t, db.CreateAdminKey(ctx, key))
	assert.NotZero(t, key.ID)

	got, err := db.GetAdminKeyByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ops", got.Name)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastUsedAt)

	require.NoError(t, db.TouchAdminKey(ctx, key.ID))
	got, err = db.GetAdminKeyByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)

	missing, err := db.GetAdminKeyByHash(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	keys, err := db.ListAdminKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, db.DeleteAdminKey(ctx, key.ID))
	assert.Error(t, db.DeleteAdminKey(ctx, key.ID))
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	t.Run("seeded templates newest first", func(t *testing.T) {
		templates, err := db.ListTemplates(ctx, database.CatalogFilter{})
		require.NoError(t, err)
		require.Len(t, templates, 3)
		assert.Equal(t, "tpl-support-faq", templates[0].ID)
		assert.Equal(t, []string{"support", "faq"}, templates[0].Tags)
	})

	t.Run("search and category", func(t *testing.T) {
		templates, err := db.ListTemplates(ctx, database.CatalogFilter{Search: "WELCOME"})
		require.NoError(t, err)
		require.Len(t, templates, 1)
		assert.Equal(t, "tpl-course-welcome", templates[0].ID)

		templates, err = db.ListTemplates(ctx, database.CatalogFilter{Category: "marketing"})
		require.NoError(t, err)
		require.Len(t, templates, 1)

		templates, err = db.ListTemplates(ctx, database.CatalogFilter{Category: "all", Search: "faq"})
		require.NoError(t, err)
		require.Len(t, templates, 1)
	})

	t.Run("inactive templates are hidden", func(t *testing.T) {
		require.NoError(t, db.CreateTemplate(ctx, &models.VideoTemplate{
			Name:           "Hidden",
			ScriptTemplate: "x",
			IsActive:       false,
		}))
		templates, err := db.ListTemplates(ctx, database.CatalogFilter{Search: "hidden"})
		require.NoError(t, err)
		assert.Empty(t, templates)
	})

	t.Run("public videos by views", func(t *testing.T) {
		tpl := "tpl-product-intro"
		a := &models.PublicVideo{Title: "Launch", VideoURL: "https://cdn/a.mp4", Tags: []string{"launch"}, ViewCount: 5, IsActive: true, TemplateID: &tpl}
		b := &models.PublicVideo{Title: "Tutorial", VideoURL: "https://cdn/b.mp4", Category: "education", ViewCount: 10, IsActive: true}
		require.NoError(t, db.CreatePublicVideo(ctx, a))
		require.NoError(t, db.CreatePublicVideo(ctx, b))

		videos, err := db.ListPublicVideos(ctx, database.CatalogFilter{})
		require.NoError(t, err)
		require.Len(t, videos, 2)
		assert.Equal(t, b.ID, videos[0].ID)
		require.NotNil(t, videos[1].TemplateID)
		assert.Equal(t, tpl, *videos[1].TemplateID)

		for i := 0; i < 6; i++ {
			_, err := db.IncrementViewCount(ctx, a.ID)
			require.NoError(t, err)
		}
		videos, err = db.ListPublicVideos(ctx, database.CatalogFilter{})
		require.NoError(t, err)
		assert.Equal(t, a.ID, videos[0].ID)
		assert.Equal(t, 11, videos[0].ViewCount)

		videos, err = db.ListPublicVideos(ctx, database.CatalogFilter{Search: "launch"})
		require.NoError(t, err)
		assert.Len(t, videos, 1)

		_, err = db.IncrementViewCount(ctx, "missing")
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestStreamsAndAgents(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	s := &models.Stream{
		UserID:      "u1",
		Title:       "Launch",
		Description: "Product launch",
		AvatarURL:   "https://img/a.png",
		Type:        "live",
		IsPublic:    true,
		AutoRecord:  true,
		Quality:     "1080p",
	}
	require.NoError(t, db.CreateStream(ctx, s))
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "ready", s.Status)

	bad := &models.Stream{UserID: "u1", Title: "x", Description: "x", AvatarURL: "x", Type: "recorded"}
	assert.Error(t, db.CreateStream(ctx, bad))

	streams, err := db.ListStreams(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.True(t, streams[0].AutoRecord)

	streams, err = db.ListStreams(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, streams)

	a := &models.Agent{UserID: "u1", ProviderID: "agt_1", Name: "Helper", SourceURL: "https://img/a.png", Gender: "female"}
	require.NoError(t, db.CreateAgent(ctx, a))
	agents, err := db.ListAgents(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "agt_1", agents[0].ProviderID)
	assert.Equal(t, "created", agents[0].Status)
}

func TestNewIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studio.db")
	db, err := database.New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = database.New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestUsageStoreLoadSince(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	base := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)

	store := db.UsageStore()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Append(ctx, ledger.Record{
			ID:         id,
			UserID:     "u" + id,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			TokensUsed: 100,
			EurosCost:  0.1,
			Activity:   "x",
		}))
	}

	tests := []struct {
		name  string
		since time.Time
		want  []string
	}{
		{"before everything", base.Add(-time.Hour), []string{"a", "b", "c"}},
		{"inclusive bound", base.Add(time.Hour), []string{"b", "c"}},
		{"after everything", base.Add(3 * time.Hour), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := store.LoadSince(ctx, tt.since)
			require.NoError(t, err)
			var ids []string
			for _, r := range records {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
