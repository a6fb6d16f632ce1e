package models

import "time"

// AnonymousSession is a device-scoped guest identity with a token balance.
type AnonymousSession struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	FingerprintHash  string    `json:"fingerprint_hash"`
	UserAgent        string    `json:"user_agent"`
	ScreenResolution string    `json:"screen_resolution"`
	Timezone         string    `json:"timezone"`
	Language         string    `json:"language"`
	Platform         string    `json:"platform"`
	TotalTokens      int       `json:"total_tokens"`
	UsedTokens       int       `json:"used_tokens"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
}

// RemainingTokens is always derived, never stored.
func (s *AnonymousSession) RemainingTokens() int {
	return s.TotalTokens - s.UsedTokens
}

// SessionRow is the shape the session procedures return.
type SessionRow struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	TotalTokens     int       `json:"total_tokens"`
	UsedTokens      int       `json:"used_tokens"`
	RemainingTokens int       `json:"remaining_tokens"`
	CreatedAt       time.Time `json:"created_at"`
}

// Row converts a session into its procedure result.
func (s *AnonymousSession) Row() SessionRow {
	return SessionRow{
		ID:              s.ID,
		SessionID:       s.SessionID,
		TotalTokens:     s.TotalTokens,
		UsedTokens:      s.UsedTokens,
		RemainingTokens: s.RemainingTokens(),
		CreatedAt:       s.CreatedAt,
	}
}

// NewSession carries the create_anonymous_session parameters.
type NewSession struct {
	FingerprintHash  string
	SessionID        string
	UserAgent        string
	ScreenResolution string
	Timezone         string
	Language         string
	Platform         string
}

// Balance is the state of a session after a debit.
type Balance struct {
	TotalTokens     int `json:"total_tokens"`
	UsedTokens      int `json:"used_tokens"`
	RemainingTokens int `json:"remaining_tokens"`
}

// DevicePolicy records an operator decision about a fingerprint.
type DevicePolicy struct {
	FingerprintHash  string    `json:"fingerprint_hash"`
	Blocked          bool      `json:"blocked"`
	Reason           string    `json:"reason,omitempty"`
	SessionAllowance *int      `json:"session_allowance,omitempty"`
	SessionCount     int       `json:"session_count"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TokenUsage is one row of token_usage_history.
type TokenUsage struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	ActivityType        string    `json:"activity_type"`
	ActivityDescription *string   `json:"activity_description,omitempty"`
	TokensUsed          int       `json:"tokens_used"`
	CostEUR             float64   `json:"cost_eur"`
	CreatedAt           time.Time `json:"created_at"`
}

// AdminKey grants access to the operator endpoints.
type AdminKey struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	IsActive   bool       `json:"is_active"`
}

// Agent is a provider agent created by a guest.
type Agent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ProviderID string    `json:"provider_id"`
	Name       string    `json:"name"`
	SourceURL  string    `json:"source_url"`
	Gender     string    `json:"gender"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stream is a live or scheduled avatar stream.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	AvatarURL   string    `json:"avatar_url"`
	Type        string    `json:"type"`
	IsPublic    bool      `json:"public"`
	AutoRecord  bool      `json:"auto_record"`
	Quality     string    `json:"quality"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// VideoTemplate is a reusable script and style preset.
type VideoTemplate struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	Category         string    `json:"category"`
	ScriptTemplate   string    `json:"script_template"`
	Tags             []string  `json:"tags"`
	ThumbnailURL     string    `json:"thumbnail_url,omitempty"`
	BackgroundType   string    `json:"background_type,omitempty"`
	BackgroundValue  string    `json:"background_value,omitempty"`
	StylePreset      string    `json:"style_preset,omitempty"`
	DurationEstimate int       `json:"duration_estimate,omitempty"`
	IsActive         bool      `json:"is_active"`
	IsPremium        bool      `json:"is_premium"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PublicVideo is a featured video in the public gallery.
type PublicVideo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Category     string    `json:"category"`
	VideoURL     string    `json:"video_url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	AvatarUsed   string    `json:"avatar_used,omitempty"`
	ScriptUsed   string    `json:"script_used,omitempty"`
	TemplateID   *string   `json:"template_id,omitempty"`
	Tags         []string  `json:"tags"`
	Duration     int       `json:"duration,omitempty"`
	ViewCount    int       `json:"view_count"`
	IsActive     bool      `json:"is_active"`
	IsFeatured   bool      `json:"is_featured"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
