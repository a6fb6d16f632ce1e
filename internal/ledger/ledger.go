// Package ledger records token-consuming actions and computes usage and cost
// rollups. A Ledger is an explicit value: build one per process (or per test)
// with New and pass it to whatever records or reports usage.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andrew/avatar-studio/internal/logger"
)

const (
	// TokensPerEuro converts tokens to currency at write time.
	TokensPerEuro = 1000
	// EurosPerHour is the fixed average hourly cost reported in stats.
	EurosPerHour = 20

	// SystemUser owns the synthetic hourly rollup records.
	SystemUser     = "system"
	RollupActivity = "Hourly usage tracking"

	// StorageKey names the list the usage log is kept under.
	StorageKey = "botsrhere-token-usage"

	// MaxHourlyWindow caps the hours HourlyUsage looks back over.
	MaxHourlyWindow = 24 * 365
)

// Record is one token-consuming action. EurosCost is frozen when the record is
// written and never recomputed.
type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
	TokensUsed int       `json:"tokens_used"`
	EurosCost  float64   `json:"euros_cost"`
	Activity   string    `json:"activity"`
}

// Store persists records as an append-only event log.
type Store interface {
	// Load returns every record appended so far, by any writer.
	Load(ctx context.Context) ([]Record, error)
	Append(ctx context.Context, rec Record) error
}

// SinceLoader is implemented by stores that can return just the records
// timestamped at or after since. Reload uses it after the first full load.
type SinceLoader interface {
	LoadSince(ctx context.Context, since time.Time) ([]Record, error)
}

// reloadOverlap re-reads a margin before the newest loaded record so writes
// that committed out of timestamp order are still picked up.
const reloadOverlap = time.Minute

// UsageStats summarises one user's records.
type UsageStats struct {
	TotalTokens            int     `json:"total_tokens"`
	TotalCost              float64 `json:"total_cost"`
	TodayTokens            int     `json:"today_tokens"`
	TodayCost              float64 `json:"today_cost"`
	AverageHourlyCost      float64 `json:"average_hourly_cost"`
	EstimatedMonthlyTokens int     `json:"estimated_monthly_tokens"`
	EstimatedMonthlyCost   float64 `json:"estimated_monthly_cost"`
}

// HourlyUsage is one "HH:00" bucket.
type HourlyUsage struct {
	Hour       string  `json:"hour"`
	TokensUsed int     `json:"tokens_used"`
	EurosCost  float64 `json:"euros_cost"`
}

// Ledger holds the merged record log in memory and appends through its Store.
type Ledger struct {
	store          Store
	now            func() time.Time
	logger         *slog.Logger
	rollupInterval time.Duration

	mu      sync.RWMutex
	records []Record
	ids     map[string]struct{}
	// newest timestamp returned by the store so far
	loadedUntil time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger used by the rollup loop.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.logger = log }
}

// WithRollupInterval changes how often Run records the rollup entry.
func WithRollupInterval(d time.Duration) Option {
	return func(l *Ledger) { l.rollupInterval = d }
}

// New creates a ledger and loads the existing log from store.
func New(ctx context.Context, store Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:          store,
		now:            time.Now,
		logger:         logger.Discard(),
		rollupInterval: time.Hour,
		ids:            make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.Reload(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload merges records other writers appended since the last load. Stores
// implementing SinceLoader are only asked for the tail of the log.
func (l *Ledger) Reload(ctx context.Context) error {
	l.mu.RLock()
	until := l.loadedUntil
	l.mu.RUnlock()

	var (
		loaded []Record
		err    error
	)
	if sl, ok := l.store.(SinceLoader); ok && !until.IsZero() {
		loaded, err = sl.LoadSince(ctx, until.Add(-reloadOverlap))
	} else {
		loaded, err = l.store.Load(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load usage log: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range loaded {
		l.insertLocked(rec)
		if rec.Timestamp.After(l.loadedUntil) {
			l.loadedUntil = rec.Timestamp
		}
	}
	return nil
}

// insertLocked adds rec unless its id is known, keeping records ordered by time.
func (l *Ledger) insertLocked(rec Record) {
	if _, ok := l.ids[rec.ID]; ok {
		return
	}
	l.ids[rec.ID] = struct{}{}

	i, _ := slices.BinarySearchFunc(l.records, rec.Timestamp, func(r Record, t time.Time) int {
		if r.Timestamp.After(t) {
			return 1
		}
		return -1
	})
	l.records = slices.Insert(l.records, i, rec)
}

// RecordUsage appends a record for userID with cost tokens/TokensPerEuro.
func (l *Ledger) RecordUsage(ctx context.Context, userID string, tokensUsed int, activity string) (Record, error) {
	rec := Record{
		ID:         uuid.NewString(),
		UserID:     userID,
		Timestamp:  l.now(),
		TokensUsed: tokensUsed,
		EurosCost:  float64(tokensUsed) / TokensPerEuro,
		Activity:   activity,
	}

	if err := l.store.Append(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("failed to append usage record: %w", err)
	}

	l.mu.Lock()
	l.insertLocked(rec)
	l.mu.Unlock()

	return rec, nil
}

// Records returns a copy of userID's records, oldest first.
func (l *Ledger) Records(userID string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Record
	for _, r := range l.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// TotalTokensUsed sums tokens over every record of userID.
func (l *Ledger) TotalTokensUsed(userID string) int {
	total := 0
	for _, r := range l.Records(userID) {
		total += r.TokensUsed
	}
	return total
}

// TotalCost sums the frozen costs of userID's records.
func (l *Ledger) TotalCost(userID string) float64 {
	total := 0.0
	for _, r := range l.Records(userID) {
		total += r.EurosCost
	}
	return total
}

// UsageStats returns totals, today's totals since local midnight, and a
// monthly projection of total*30.
func (l *Ledger) UsageStats(userID string) UsageStats {
	now := l.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var stats UsageStats
	for _, r := range l.Records(userID) {
		stats.TotalTokens += r.TokensUsed
		stats.TotalCost += r.EurosCost
		if !r.Timestamp.Before(midnight) {
			stats.TodayTokens += r.TokensUsed
			stats.TodayCost += r.EurosCost
		}
	}
	stats.AverageHourlyCost = EurosPerHour
	stats.EstimatedMonthlyTokens = stats.TotalTokens * 30
	stats.EstimatedMonthlyCost = stats.TotalCost * 30
	return stats
}

// HourlyUsage buckets the trailing hours of userID's records by "HH:00"
// label, oldest first. Buckets are keyed by hour of day only, so when hours
// exceeds 24 records from different days with the same label are summed into
// one bucket. Records whose label has no slot are dropped. hours is capped at
// MaxHourlyWindow.
func (l *Ledger) HourlyUsage(userID string, hours int) []HourlyUsage {
	if hours <= 0 {
		hours = 24
	}
	hours = min(hours, MaxHourlyWindow)
	now := l.now()
	start := now.Add(-time.Duration(hours) * time.Hour)

	// slots past the first day only repeat labels
	slots := min(hours, 24)
	var labels []string
	buckets := make(map[string]*HourlyUsage, slots)
	for i := 0; i < slots; i++ {
		key := hourLabel(now.Add(-time.Duration(i) * time.Hour))
		if _, ok := buckets[key]; ok {
			continue
		}
		labels = append(labels, key)
		buckets[key] = &HourlyUsage{Hour: key}
	}

	for _, r := range l.Records(userID) {
		if r.Timestamp.Before(start) {
			continue
		}
		if b, ok := buckets[hourLabel(r.Timestamp.In(now.Location()))]; ok {
			b.TokensUsed += r.TokensUsed
			b.EurosCost += r.EurosCost
		}
	}

	out := make([]HourlyUsage, 0, len(labels))
	for i := len(labels) - 1; i >= 0; i-- {
		out = append(out, *buckets[labels[i]])
	}
	return out
}

func hourLabel(t time.Time) string {
	return fmt.Sprintf("%02d:00", t.Hour())
}

// CanPerformActivity reports whether userID may perform activity. Every plan
// is currently unlimited.
func (l *Ledger) CanPerformActivity(userID, activity string) bool {
	return true
}

// LastHourTokens sums tokens recorded within the past hour, excluding
// earlier rollup entries.
func (l *Ledger) LastHourTokens() int {
	cutoff := l.now().Add(-time.Hour)

	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0
	for _, r := range l.records {
		if r.UserID == SystemUser || r.Timestamp.Before(cutoff) {
			continue
		}
		total += r.TokensUsed
	}
	return total
}

// Rollup records the last hour's consumption as a system entry when positive.
func (l *Ledger) Rollup(ctx context.Context) (int, error) {
	tokens := l.LastHourTokens()
	if tokens <= 0 {
		return 0, nil
	}
	if _, err := l.RecordUsage(ctx, SystemUser, tokens, RollupActivity); err != nil {
		return 0, err
	}
	return tokens, nil
}

// Run performs a rollup every interval until ctx is cancelled.
func (l *Ledger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.rollupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Reload(ctx); err != nil {
				l.logger.Warn("usage log reload failed", logger.Component("ledger"), logger.Error(err))
			}
			tokens, err := l.Rollup(ctx)
			if err != nil {
				l.logger.Error("hourly usage rollup failed", logger.Component("ledger"), logger.Error(err))
				continue
			}
			if tokens > 0 {
				l.logger.Info("hourly usage recorded", logger.Component("ledger"), logger.Tokens(tokens))
			}
		}
	}
}
