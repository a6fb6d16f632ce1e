// Package guest manages the device-scoped anonymous session of the studio
// client: resolving a persisted session, creating one, and debiting tokens.
package guest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/andrew/avatar-studio/internal/fingerprint"
	"github.com/andrew/avatar-studio/internal/ledger"
	"github.com/andrew/avatar-studio/internal/logger"
)

// Local storage keys
const (
	KeySession     = "botsrhere_anonymous_session"
	KeyUserID      = "botsrhere_anonymous_user_id"
	KeyFingerprint = "botsrhere_device_fingerprint"
)

// KV is the local persistent key/value store
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(keys ...string) error
}

// SessionRow is a session as the backend procedures return it
type SessionRow struct {
	ID              string `json:"id"`
	SessionID       string `json:"session_id"`
	TotalTokens     int    `json:"total_tokens"`
	UsedTokens      int    `json:"used_tokens"`
	RemainingTokens int    `json:"remaining_tokens"`
}

// Balance is the post-debit state reported by consume_anonymous_tokens
type Balance struct {
	TotalTokens     int `json:"total_tokens"`
	UsedTokens      int `json:"used_tokens"`
	RemainingTokens int `json:"remaining_tokens"`
}

// CreateParams are the create_anonymous_session parameters
type CreateParams struct {
	Fingerprint fingerprint.DeviceFingerprint
	SessionID   string
}

// Backend exposes the session procedures. Lookups return nil, nil when no
// session matches. ConsumeAnonymousTokens may return a nil balance.
type Backend interface {
	CreateAnonymousSession(ctx context.Context, p CreateParams) (string, error)
	GetAnonymousSession(ctx context.Context, sessionID, userID string) (*SessionRow, error)
	GetAnonymousSessionByID(ctx context.Context, userID string) (*SessionRow, error)
	ConsumeAnonymousTokens(ctx context.Context, userID string, tokens int, activity string) (*Balance, error)
}

// Recorder receives successful debits
type Recorder interface {
	RecordUsage(ctx context.Context, userID string, tokens int, activity string) (ledger.Record, error)
}

// State of the manager
type State int

const (
	Unresolved State = iota
	Active
	Cleared
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Cleared:
		return "cleared"
	default:
		return "unresolved"
	}
}

// Session is the active guest session
type Session struct {
	ID              string `json:"id"`
	SessionID       string `json:"session_id"`
	TotalTokens     int    `json:"total_tokens"`
	UsedTokens      int    `json:"used_tokens"`
	RemainingTokens int    `json:"remaining_tokens"`
}

func sessionFromRow(r *SessionRow) *Session {
	return &Session{
		ID:              r.ID,
		SessionID:       r.SessionID,
		TotalTokens:     r.TotalTokens,
		UsedTokens:      r.UsedTokens,
		RemainingTokens: r.RemainingTokens,
	}
}

// Notice is a user-facing message about a session outcome
type Notice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Destructive bool   `json:"destructive,omitempty"`
}

var (
	noticeBlocked = Notice{
		Title:       "Access Restricted",
		Description: "This device has reached the maximum number of free accounts. Please sign up for a full account.",
		Destructive: true,
	}
	noticeFailed = Notice{
		Title:       "Session Error",
		Description: "Failed to create anonymous session. Please try again.",
		Destructive: true,
	}
)

func welcome(remaining int) Notice {
	return Notice{
		Title:       "Welcome!",
		Description: fmt.Sprintf("You have %d free tokens to get started.", remaining),
	}
}

// Outcome reports the result of starting or creating a session
type Outcome struct {
	OK      bool     `json:"ok"`
	Created bool     `json:"created"`
	Notice  *Notice  `json:"notice,omitempty"`
	Session *Session `json:"session,omitempty"`
}

// Manager runs the guest session state machine
type Manager struct {
	kv       KV
	backend  Backend
	recorder Recorder
	attrs    func() fingerprint.Attributes
	now      func() time.Time
	log      *slog.Logger

	mu      sync.Mutex
	state   State
	session *Session
}

// Option configures a Manager
type Option func(*Manager)

// WithLedger records every successful debit
func WithLedger(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock sets the time source for session ids
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithAttributes overrides how device attributes are collected
func WithAttributes(fn func() fingerprint.Attributes) Option {
	return func(m *Manager) { m.attrs = fn }
}

// NewManager creates a manager in the Unresolved state
func NewManager(kv KV, backend Backend, opts ...Option) *Manager {
	m := &Manager{
		kv:      kv,
		backend: backend,
		attrs:   fingerprint.Local,
		now:     time.Now,
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.Component("guest"))
	return m
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsAuthenticated reports whether a session is active
func (m *Manager) IsAuthenticated() bool {
	return m.State() == Active
}

// Session returns a copy of the active session, or nil
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// CheckExistingSession resolves the persisted session ids against the backend
func (m *Manager) CheckExistingSession(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkExistingLocked(ctx)
}

func (m *Manager) checkExistingLocked(ctx context.Context) bool {
	sessionID, userID, ok := m.storedIDs()
	if !ok {
		return false
	}

	row, err := m.backend.GetAnonymousSession(ctx, sessionID, userID)
	if err != nil {
		m.log.WarnContext(ctx, "failed to resolve stored session", logger.SessionID(sessionID), logger.Error(err))
		return false
	}
	if row == nil {
		return false
	}

	m.session = sessionFromRow(row)
	m.state = Active
	return true
}

func (m *Manager) storedIDs() (string, string, bool) {
	sessionID, ok, err := m.kv.Get(KeySession)
	if err != nil {
		m.log.Warn("failed to read local session", logger.Error(err))
		return "", "", false
	}
	if !ok || sessionID == "" {
		return "", "", false
	}

	userID, ok, err := m.kv.Get(KeyUserID)
	if err != nil {
		m.log.Warn("failed to read local user id", logger.Error(err))
		return "", "", false
	}
	if !ok || userID == "" {
		return "", "", false
	}
	return sessionID, userID, true
}

// StartGuestSession reuses a resolvable session or creates a new one
func (m *Manager) StartGuestSession(ctx context.Context) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Active && m.session != nil {
		s := *m.session
		return Outcome{OK: true, Session: &s}
	}
	if m.checkExistingLocked(ctx) {
		s := *m.session
		return Outcome{OK: true, Session: &s}
	}
	return m.createLocked(ctx)
}

// CreateAnonymousSession registers this device with the backend. Nothing is
// persisted locally unless the session is created and fetched.
func (m *Manager) CreateAnonymousSession(ctx context.Context) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(ctx)
}

func (m *Manager) createLocked(ctx context.Context) Outcome {
	fp := fingerprint.Generate(m.attrs())
	sessionID := fingerprint.NewSessionID(m.now())

	userID, err := m.backend.CreateAnonymousSession(ctx, CreateParams{Fingerprint: fp, SessionID: sessionID})
	if err != nil {
		m.log.ErrorContext(ctx, "failed to create anonymous session", logger.Fingerprint(fp.Hash), logger.Error(err))
		if strings.Contains(err.Error(), "Device blocked") {
			n := noticeBlocked
			return Outcome{Notice: &n}
		}
		n := noticeFailed
		return Outcome{Notice: &n}
	}

	row, err := m.backend.GetAnonymousSessionByID(ctx, userID)
	if err == nil && row == nil {
		err = fmt.Errorf("session %s not found after creation", userID)
	}
	if err != nil {
		m.log.ErrorContext(ctx, "failed to fetch created session", logger.UserID(userID), logger.Error(err))
		n := noticeFailed
		return Outcome{Notice: &n}
	}

	m.persist(fp, sessionID, userID)

	m.session = sessionFromRow(row)
	m.state = Active
	m.log.InfoContext(ctx, "guest session created", logger.UserID(userID), logger.SessionID(sessionID))

	n := welcome(m.session.RemainingTokens)
	s := *m.session
	return Outcome{OK: true, Created: true, Notice: &n, Session: &s}
}

// persist stores the session locally; failures only cost resumption later
func (m *Manager) persist(fp fingerprint.DeviceFingerprint, sessionID, userID string) {
	raw, err := json.Marshal(fp)
	if err == nil {
		err = m.kv.Set(KeyFingerprint, string(raw))
	}
	if err == nil {
		err = m.kv.Set(KeySession, sessionID)
	}
	if err == nil {
		err = m.kv.Set(KeyUserID, userID)
	}
	if err != nil {
		m.log.Warn("failed to persist guest session", logger.UserID(userID), logger.Error(err))
	}
}

// ConsumeTokens debits amount for activity. The balance reported by the
// backend replaces the local estimate; without one the session is re-fetched.
func (m *Manager) ConsumeTokens(ctx context.Context, amount int, activity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Active || m.session == nil {
		return false
	}
	userID := m.session.ID

	balance, err := m.backend.ConsumeAnonymousTokens(ctx, userID, amount, activity)
	if err != nil {
		m.log.WarnContext(ctx, "failed to consume tokens",
			logger.UserID(userID), logger.Activity(activity), logger.Tokens(amount), logger.Error(err))
		return false
	}

	m.session.UsedTokens += amount
	m.session.RemainingTokens -= amount

	switch {
	case balance != nil:
		m.applyBalance(*balance)
	default:
		row, err := m.backend.GetAnonymousSessionByID(ctx, userID)
		if err != nil {
			m.log.WarnContext(ctx, "failed to reconcile balance", logger.UserID(userID), logger.Error(err))
		} else if row != nil {
			m.applyBalance(Balance{TotalTokens: row.TotalTokens, UsedTokens: row.UsedTokens, RemainingTokens: row.RemainingTokens})
		}
	}

	if m.recorder != nil {
		if _, err := m.recorder.RecordUsage(ctx, userID, amount, activity); err != nil {
			m.log.WarnContext(ctx, "failed to record usage", logger.UserID(userID), logger.Error(err))
		}
	}
	return true
}

func (m *Manager) applyBalance(b Balance) {
	m.session.TotalTokens = b.TotalTokens
	m.session.UsedTokens = b.UsedTokens
	m.session.RemainingTokens = b.RemainingTokens
}

// ClearSession forgets the local session without contacting the backend
func (m *Manager) ClearSession() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.kv.Remove(KeySession, KeyUserID, KeyFingerprint); err != nil {
		m.log.Warn("failed to clear local session", logger.Error(err))
	}
	m.session = nil
	m.state = Cleared
}
