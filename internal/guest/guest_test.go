package guest_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/andrew/avatar-studio/internal/fingerprint"
	"github.com/andrew/avatar-studio/internal/guest"
	"github.com/andrew/avatar-studio/internal/ledger"
)

type memKV map[string]string

func (kv memKV) Get(key string) (string, bool, error) {
	v, ok := kv[key]
	return v, ok, nil
}

func (kv memKV) Set(key, value string) error {
	kv[key] = value
	return nil
}

func (kv memKV) Remove(keys ...string) error {
	for _, k := range keys {
		delete(kv, k)
	}
	return nil
}

type mockBackend struct {
	mock.Mock
}

func (b *mockBackend) CreateAnonymousSession(ctx context.Context, p guest.CreateParams) (string, error) {
	args := b.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (b *mockBackend) GetAnonymousSession(ctx context.Context, sessionID, userID string) (*guest.SessionRow, error) {
	args := b.Called(ctx, sessionID, userID)
	row, _ := args.Get(0).(*guest.SessionRow)
	return row, args.Error(1)
}

func (b *mockBackend) GetAnonymousSessionByID(ctx context.Context, userID string) (*guest.SessionRow, error) {
	args := b.Called(ctx, userID)
	row, _ := args.Get(0).(*guest.SessionRow)
	return row, args.Error(1)
}

func (b *mockBackend) ConsumeAnonymousTokens(ctx context.Context, userID string, tokens int, activity string) (*guest.Balance, error) {
	args := b.Called(ctx, userID, tokens, activity)
	bal, _ := args.Get(0).(*guest.Balance)
	return bal, args.Error(1)
}

var attrs = fingerprint.Attributes{
	UserAgent:        "Mozilla/5.0 (X11; Linux x86_64)",
	ScreenResolution: "1920x1080",
	Timezone:         "Europe/Berlin",
	Language:         "de-DE",
	Platform:         "Linux x86_64",
}

func newManager(kv guest.KV, b guest.Backend, opts ...guest.Option) *guest.Manager {
	opts = append([]guest.Option{
		guest.WithAttributes(func() fingerprint.Attributes { return attrs }),
		guest.WithClock(func() time.Time { return time.UnixMilli(1715342400000) }),
	}, opts...)
	return guest.NewManager(kv, b, opts...)
}

func row(total, used int) *guest.SessionRow {
	return &guest.SessionRow{ID: "user-1", SessionID: "session_abc_1", TotalTokens: total, UsedTokens: used, RemainingTokens: total - used}
}

func TestCreateAnonymousSession(t *testing.T) {
	ctx := context.Background()
	kv := memKV{}
	b := &mockBackend{}

	b.On("CreateAnonymousSession", ctx, mock.MatchedBy(func(p guest.CreateParams) bool {
		return p.Fingerprint.Hash == "hnxhj9" &&
			p.Fingerprint.Timezone == "Europe/Berlin" &&
			len(p.SessionID) > len("session_")
	})).Return("user-1", nil).Once()
	b.On("GetAnonymousSessionByID", ctx, "user-1").Return(row(500, 0), nil).Once()

	m := newManager(kv, b)
	assert.Equal(t, guest.Unresolved, m.State())

	out := m.StartGuestSession(ctx)
	require.True(t, out.OK)
	assert.True(t, out.Created)
	require.NotNil(t, out.Notice)
	assert.Equal(t, "Welcome!", out.Notice.Title)
	assert.Equal(t, "You have 500 free tokens to get started.", out.Notice.Description)
	assert.False(t, out.Notice.Destructive)

	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, 500, m.Session().RemainingTokens)

	assert.Equal(t, "user-1", kv[guest.KeyUserID])
	assert.Regexp(t, `^session_[0-9a-z]{9}_1715342400000$`, kv[guest.KeySession])

	var stored fingerprint.DeviceFingerprint
	require.NoError(t, json.Unmarshal([]byte(kv[guest.KeyFingerprint]), &stored))
	assert.Equal(t, "hnxhj9", stored.Hash)
	assert.Equal(t, attrs, stored.Attributes)

	// idempotent: an active session is reused without backend calls
	again := m.StartGuestSession(ctx)
	assert.True(t, again.OK)
	assert.False(t, again.Created)
	assert.Nil(t, again.Notice)

	b.AssertExpectations(t)
}

func TestCreateAnonymousSessionFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setup     func(b *mockBackend)
		wantTitle string
	}{
		{
			name: "device blocked",
			setup: func(b *mockBackend) {
				b.On("CreateAnonymousSession", ctx, mock.Anything).
					Return("", errors.New("Device blocked: maximum free sessions reached")).Once()
			},
			wantTitle: "Access Restricted",
		},
		{
			name: "network error",
			setup: func(b *mockBackend) {
				b.On("CreateAnonymousSession", ctx, mock.Anything).Return("", errors.New("connection refused")).Once()
			},
			wantTitle: "Session Error",
		},
		{
			name: "created session cannot be fetched",
			setup: func(b *mockBackend) {
				b.On("CreateAnonymousSession", ctx, mock.Anything).Return("user-1", nil).Once()
				b.On("GetAnonymousSessionByID", ctx, "user-1").Return(nil, nil).Once()
			},
			wantTitle: "Session Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := memKV{}
			b := &mockBackend{}
			tt.setup(b)

			m := newManager(kv, b)
			out := m.CreateAnonymousSession(ctx)

			assert.False(t, out.OK)
			require.NotNil(t, out.Notice)
			assert.Equal(t, tt.wantTitle, out.Notice.Title)
			assert.True(t, out.Notice.Destructive)
			assert.False(t, m.IsAuthenticated())
			assert.Nil(t, m.Session())
			assert.Empty(t, kv, "nothing is persisted on failure")
			b.AssertExpectations(t)
		})
	}

	t.Run("blocked notice text", func(t *testing.T) {
		b := &mockBackend{}
		b.On("CreateAnonymousSession", ctx, mock.Anything).Return("", errors.New("Device blocked")).Once()
		out := newManager(memKV{}, b).CreateAnonymousSession(ctx)
		assert.Equal(t, "This device has reached the maximum number of free accounts. Please sign up for a full account.", out.Notice.Description)
	})
}

func TestCheckExistingSession(t *testing.T) {
	ctx := context.Background()

	t.Run("no stored ids", func(t *testing.T) {
		b := &mockBackend{}
		m := newManager(memKV{guest.KeySession: "session_abc_1"}, b)
		assert.False(t, m.CheckExistingSession(ctx))
		b.AssertNotCalled(t, "GetAnonymousSession", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("resolves stored session", func(t *testing.T) {
		b := &mockBackend{}
		b.On("GetAnonymousSession", ctx, "session_abc_1", "user-1").Return(row(500, 200), nil).Once()

		m := newManager(memKV{guest.KeySession: "session_abc_1", guest.KeyUserID: "user-1"}, b)
		assert.True(t, m.CheckExistingSession(ctx))
		assert.Equal(t, guest.Active, m.State())
		assert.Equal(t, 300, m.Session().RemainingTokens)

		out := m.StartGuestSession(ctx)
		assert.True(t, out.OK)
		assert.False(t, out.Created)
		b.AssertExpectations(t)
	})

	t.Run("stale ids fall back to creation", func(t *testing.T) {
		b := &mockBackend{}
		b.On("GetAnonymousSession", ctx, "old", "gone").Return(nil, nil).Once()
		b.On("CreateAnonymousSession", ctx, mock.Anything).Return("user-1", nil).Once()
		b.On("GetAnonymousSessionByID", ctx, "user-1").Return(row(500, 0), nil).Once()

		kv := memKV{guest.KeySession: "old", guest.KeyUserID: "gone"}
		out := newManager(kv, b).StartGuestSession(ctx)
		assert.True(t, out.Created)
		assert.Equal(t, "user-1", kv[guest.KeyUserID])
		b.AssertExpectations(t)
	})

	t.Run("backend error leaves state unresolved", func(t *testing.T) {
		b := &mockBackend{}
		b.On("GetAnonymousSession", ctx, "s", "u").Return(nil, errors.New("timeout")).Once()
		m := newManager(memKV{guest.KeySession: "s", guest.KeyUserID: "u"}, b)
		assert.False(t, m.CheckExistingSession(ctx))
		assert.Equal(t, guest.Unresolved, m.State())
	})
}

func activeManager(t *testing.T, b *mockBackend, opts ...guest.Option) *guest.Manager {
	t.Helper()
	ctx := context.Background()
	b.On("GetAnonymousSession", ctx, "session_abc_1", "user-1").Return(row(500, 0), nil).Once()
	m := newManager(memKV{guest.KeySession: "session_abc_1", guest.KeyUserID: "user-1"}, b, opts...)
	require.True(t, m.CheckExistingSession(ctx))
	return m
}

func TestConsumeTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an active session", func(t *testing.T) {
		b := &mockBackend{}
		m := newManager(memKV{}, b)
		assert.False(t, m.ConsumeTokens(ctx, 100, "x"))
		b.AssertNotCalled(t, "ConsumeAnonymousTokens", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("applies the authoritative balance and records usage", func(t *testing.T) {
		b := &mockBackend{}
		l, err := ledger.New(ctx, ledger.NewMemoryStore())
		require.NoError(t, err)
		m := activeManager(t, b, guest.WithLedger(l))

		b.On("ConsumeAnonymousTokens", ctx, "user-1", 100, ledger.ActivityAvatarImageUpload).
			Return(&guest.Balance{TotalTokens: 500, UsedTokens: 100, RemainingTokens: 400}, nil).Once()

		assert.True(t, m.ConsumeTokens(ctx, 100, ledger.ActivityAvatarImageUpload))
		s := m.Session()
		assert.Equal(t, 100, s.UsedTokens)
		assert.Equal(t, 400, s.RemainingTokens)
		assert.Equal(t, 100, l.TotalTokensUsed("user-1"))
		b.AssertExpectations(t)
	})

	t.Run("server balance wins over the optimistic delta", func(t *testing.T) {
		b := &mockBackend{}
		m := activeManager(t, b)

		// another client spent tokens concurrently
		b.On("ConsumeAnonymousTokens", ctx, "user-1", 100, "x").
			Return(&guest.Balance{TotalTokens: 500, UsedTokens: 300, RemainingTokens: 200}, nil).Once()

		assert.True(t, m.ConsumeTokens(ctx, 100, "x"))
		assert.Equal(t, 200, m.Session().RemainingTokens)
	})

	t.Run("reconciles when no balance is returned", func(t *testing.T) {
		b := &mockBackend{}
		m := activeManager(t, b)

		b.On("ConsumeAnonymousTokens", ctx, "user-1", 100, "x").Return(nil, nil).Once()
		b.On("GetAnonymousSessionByID", ctx, "user-1").Return(row(600, 100), nil).Once()

		assert.True(t, m.ConsumeTokens(ctx, 100, "x"))
		s := m.Session()
		assert.Equal(t, 600, s.TotalTokens)
		assert.Equal(t, 500, s.RemainingTokens)
		b.AssertExpectations(t)
	})

	t.Run("keeps the optimistic delta when reconciliation fails", func(t *testing.T) {
		b := &mockBackend{}
		m := activeManager(t, b)

		b.On("ConsumeAnonymousTokens", ctx, "user-1", 100, "x").Return(nil, nil).Once()
		b.On("GetAnonymousSessionByID", ctx, "user-1").Return(nil, errors.New("offline")).Once()

		assert.True(t, m.ConsumeTokens(ctx, 100, "x"))
		assert.Equal(t, 400, m.Session().RemainingTokens)
	})

	t.Run("failed debit changes nothing", func(t *testing.T) {
		b := &mockBackend{}
		l, err := ledger.New(ctx, ledger.NewMemoryStore())
		require.NoError(t, err)
		m := activeManager(t, b, guest.WithLedger(l))

		b.On("ConsumeAnonymousTokens", ctx, "user-1", 800, "video_generation").
			Return(nil, errors.New("Insufficient tokens")).Once()

		assert.False(t, m.ConsumeTokens(ctx, 800, "video_generation"))
		assert.Equal(t, 500, m.Session().RemainingTokens)
		assert.Zero(t, l.TotalTokensUsed("user-1"))
	})
}

func TestClearSession(t *testing.T) {
	b := &mockBackend{}
	m := activeManager(t, b)

	m.ClearSession()

	assert.Equal(t, guest.Cleared, m.State())
	assert.False(t, m.IsAuthenticated())
	assert.Nil(t, m.Session())
	assert.False(t, m.ConsumeTokens(context.Background(), 1, "x"))
	b.AssertExpectations(t)
}

func TestClearSessionRemovesKeys(t *testing.T) {
	kv := memKV{
		guest.KeySession:     "s",
		guest.KeyUserID:      "u",
		guest.KeyFingerprint: "{}",
		"unrelated":          "kept",
	}
	m := newManager(kv, &mockBackend{})
	m.ClearSession()
	assert.Equal(t, memKV{"unrelated": "kept"}, kv)
}
