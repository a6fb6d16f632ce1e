package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/andrew/avatar-studio/internal/database/models"
)

// ErrNotFound means no active row has the given id.
var ErrNotFound = errors.New("not found")

// CatalogFilter narrows templates and public videos. An empty search or the
// category "all" matches everything.
type CatalogFilter struct {
	Search   string
	Category string
}

func (f CatalogFilter) matches(category string, texts []string, tags []string) bool {
	if f.Category != "" && f.Category != "all" && f.Category != category {
		return false
	}
	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}
	for _, t := range texts {
		if strings.Contains(strings.ToLower(t), term) {
			return true
		}
	}
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

// ListTemplates returns active templates, newest first
func (db *DB) ListTemplates(ctx context.Context, filter CatalogFilter) ([]models.VideoTemplate, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, description, category, script_template, tags, thumbnail_url,
			   background_type, background_value, style_preset, duration_estimate,
			   is_active, is_premium, created_at, updated_at
		FROM video_templates
		WHERE is_active = 1
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	templates := []models.VideoTemplate{}
	for rows.Next() {
		var t models.VideoTemplate
		var tags string
		if err := rows.Scan(
			&t.ID,
			&t.Name,
			&t.Description,
			&t.Category,
			&t.ScriptTemplate,
			&tags,
			&t.ThumbnailURL,
			&t.BackgroundType,
			&t.BackgroundValue,
			&t.StylePreset,
			&t.DurationEstimate,
			&t.IsActive,
			&t.IsPremium,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		if t.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		if filter.matches(t.Category, []string{t.Name, t.Description}, t.Tags) {
			templates = append(templates, t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, nil
}

// CreateTemplate inserts a template, assigning an id when empty
func (db *DB) CreateTemplate(ctx context.Context, t *models.VideoTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Category == "" {
		t.Category = "general"
	}
	t.CreatedAt = db.now()
	t.UpdatedAt = t.CreatedAt

	tags, err := encodeTags(t.Tags)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO video_templates (
			id, name, description, category, script_template, tags, thumbnail_url,
			background_type, background_value, style_preset, duration_estimate,
			is_active, is_premium, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Name, t.Description, t.Category, t.ScriptTemplate, tags, t.ThumbnailURL,
		t.BackgroundType, t.BackgroundValue, t.StylePreset, t.DurationEstimate,
		t.IsActive, t.IsPremium, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

// ListPublicVideos returns active public videos, most viewed first
func (db *DB) ListPublicVideos(ctx context.Context, filter CatalogFilter) ([]models.PublicVideo, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, description, category, video_url, thumbnail_url, avatar_used,
			   script_used, template_id, tags, duration, view_count, is_active, is_featured,
			   created_at, updated_at
		FROM public_videos
		WHERE is_active = 1
		ORDER BY view_count DESC, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query public videos: %w", err)
	}
	defer rows.Close()

	videos := []models.PublicVideo{}
	for rows.Next() {
		var v models.PublicVideo
		var tags string
		if err := rows.Scan(
			&v.ID,
			&v.Title,
			&v.Description,
			&v.Category,
			&v.VideoURL,
			&v.ThumbnailURL,
			&v.AvatarUsed,
			&v.ScriptUsed,
			&v.TemplateID,
			&tags,
			&v.Duration,
			&v.ViewCount,
			&v.IsActive,
			&v.IsFeatured,
			&v.CreatedAt,
			&v.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan public video: %w", err)
		}
		if v.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		if filter.matches(v.Category, []string{v.Title, v.Description}, v.Tags) {
			videos = append(videos, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating public videos: %w", err)
	}
	return videos, nil
}

// CreatePublicVideo inserts a gallery video, assigning an id when empty
func (db *DB) CreatePublicVideo(ctx context.Context, v *models.PublicVideo) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Category == "" {
		v.Category = "general"
	}
	v.CreatedAt = db.now()
	v.UpdatedAt = v.CreatedAt

	tags, err := encodeTags(v.Tags)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO public_videos (
			id, title, description, category, video_url, thumbnail_url, avatar_used,
			script_used, template_id, tags, duration, view_count, is_active, is_featured,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		v.ID, v.Title, v.Description, v.Category, v.VideoURL, v.ThumbnailURL, v.AvatarUsed,
		v.ScriptUsed, v.TemplateID, tags, v.Duration, v.ViewCount, v.IsActive, v.IsFeatured,
		v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert public video: %w", err)
	}
	return nil
}

// IncrementViewCount adds one view and returns the new count
func (db *DB) IncrementViewCount(ctx context.Context, id string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `
		UPDATE public_videos SET view_count = view_count + 1, updated_at = ?
		WHERE id = ? AND is_active = 1
		RETURNING view_count
	`, db.now(), id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment view count: %w", err)
	}
	return count, nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if raw == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return tags, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(data), nil
}
