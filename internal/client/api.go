package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/andrew/avatar-studio/internal/database/models"
	"github.com/andrew/avatar-studio/internal/ledger"
	"github.com/andrew/avatar-studio/internal/providers/did"
	"github.com/andrew/avatar-studio/internal/providers/unsplash"
	"github.com/andrew/avatar-studio/internal/storage"
)

// Avatars lists the provider presenters
func (c *Client) Avatars(ctx context.Context) ([]did.Avatar, error) {
	var resp struct {
		Avatars []did.Avatar `json:"avatars"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/avatars", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Avatars, nil
}

// Voices lists the curated voices
func (c *Client) Voices(ctx context.Context) ([]did.Voice, error) {
	var resp struct {
		Voices []did.Voice `json:"voices"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/voices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Voices, nil
}

// CreateTalk starts a talking-head video
func (c *Client) CreateTalk(ctx context.Context, req did.TalkRequest) (*did.Talk, error) {
	var talk did.Talk
	if err := c.do(ctx, http.MethodPost, "/v1/talks", req, &talk); err != nil {
		return nil, err
	}
	return &talk, nil
}

// Talk fetches a talk by id
func (c *Client) Talk(ctx context.Context, id string) (*did.Talk, error) {
	var talk did.Talk
	if err := c.do(ctx, http.MethodGet, "/v1/talks/"+url.PathEscape(id), nil, &talk); err != nil {
		return nil, err
	}
	return &talk, nil
}

// CreateClip starts a presenter clip
func (c *Client) CreateClip(ctx context.Context, req did.ClipRequest) (*did.Clip, error) {
	var clip did.Clip
	if err := c.do(ctx, http.MethodPost, "/v1/clips", req, &clip); err != nil {
		return nil, err
	}
	return &clip, nil
}

// Clips lists clips
func (c *Client) Clips(ctx context.Context) ([]did.Clip, error) {
	var resp struct {
		Clips []did.Clip `json:"clips"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/clips", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Clips, nil
}

// Clip fetches a clip by id
func (c *Client) Clip(ctx context.Context, id string) (*did.Clip, error) {
	var clip did.Clip
	if err := c.do(ctx, http.MethodGet, "/v1/clips/"+url.PathEscape(id), nil, &clip); err != nil {
		return nil, err
	}
	return &clip, nil
}

// multipartBody builds a form with one file part and optional fields
func multipartBody(field, filename string, r io.Reader, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) upload(ctx context.Context, path, field, filename string, r io.Reader, fields map[string]string, out any) error {
	body, contentType, err := multipartBody(field, filename, r, fields)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, contentType, body)
	if err != nil {
		return err
	}
	return c.sendAuthorized(ctx, req, out)
}

// UploadImage uploads a source image to the provider
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (*did.Image, error) {
	var img did.Image
	if err := c.upload(ctx, "/v1/images", "image", filename, r, nil, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

// CreateAgent creates a conversational agent
func (c *Client) CreateAgent(ctx context.Context, req did.AgentRequest) (*models.Agent, error) {
	var agent models.Agent
	if err := c.do(ctx, http.MethodPost, "/v1/agents", req, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// Agents lists the caller's agents
func (c *Client) Agents(ctx context.Context) ([]models.Agent, error) {
	var resp struct {
		Agents []models.Agent `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/agents", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// SearchImages searches stock photos
func (c *Client) SearchImages(ctx context.Context, req unsplash.SearchRequest) (*unsplash.SearchResult, error) {
	var result unsplash.SearchResult
	if err := c.do(ctx, http.MethodPost, "/v1/images/search", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadAvatar stores an avatar image under the caller's folder
func (c *Client) UploadAvatar(ctx context.Context, name, filename string, r io.Reader) (*storage.UploadedAvatar, error) {
	var avatar storage.UploadedAvatar
	if err := c.upload(ctx, "/v1/avatars/uploads", "file", filename, r, map[string]string{"name": name}, &avatar); err != nil {
		return nil, err
	}
	return &avatar, nil
}

// AvatarUploads lists the caller's uploaded avatars
func (c *Client) AvatarUploads(ctx context.Context) ([]storage.UploadedAvatar, error) {
	var resp struct {
		Avatars []storage.UploadedAvatar `json:"avatars"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/avatars/uploads", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Avatars, nil
}

// DeleteAvatarUpload removes one uploaded avatar by path
func (c *Client) DeleteAvatarUpload(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/v1/avatars/uploads/"+path, nil, nil)
}

func catalogQuery(search, category string) string {
	q := url.Values{}
	if search != "" {
		q.Set("search", search)
	}
	if category != "" {
		q.Set("category", category)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// Templates lists active video templates
func (c *Client) Templates(ctx context.Context, search, category string) ([]models.VideoTemplate, error) {
	var resp struct {
		Templates []models.VideoTemplate `json:"templates"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/templates"+catalogQuery(search, category), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Templates, nil
}

// Videos lists the public gallery
func (c *Client) Videos(ctx context.Context, search, category string) ([]models.PublicVideo, error) {
	var resp struct {
		Videos []models.PublicVideo `json:"videos"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/videos"+catalogQuery(search, category), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Videos, nil
}

// ViewVideo counts a view and returns the new total
func (c *Client) ViewVideo(ctx context.Context, id string) (int, error) {
	var resp struct {
		ViewCount int `json:"view_count"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/videos/"+url.PathEscape(id)+"/view", nil, &resp); err != nil {
		return 0, err
	}
	return resp.ViewCount, nil
}

// StreamRequest describes a new stream
type StreamRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatar_url"`
	Type        string `json:"type,omitempty"`
	Public      bool   `json:"public"`
	AutoRecord  bool   `json:"auto_record"`
	Quality     string `json:"quality,omitempty"`
}

// CreateStream creates a live or scheduled stream
func (c *Client) CreateStream(ctx context.Context, req StreamRequest) (*models.Stream, error) {
	var stream models.Stream
	if err := c.do(ctx, http.MethodPost, "/v1/streams", req, &stream); err != nil {
		return nil, err
	}
	return &stream, nil
}

// Streams lists the caller's streams
func (c *Client) Streams(ctx context.Context) ([]models.Stream, error) {
	var resp struct {
		Streams []models.Stream `json:"streams"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/streams", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Streams, nil
}

// UsageQuery pages through the server usage history
type UsageQuery struct {
	Limit     int
	Offset    int
	StartTime *time.Time
	EndTime   *time.Time
}

// Usage lists the caller's server-side usage history
func (c *Client) Usage(ctx context.Context, q UsageQuery) ([]models.TokenUsage, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.StartTime != nil {
		params.Set("start_time", q.StartTime.Format(time.RFC3339))
	}
	if q.EndTime != nil {
		params.Set("end_time", q.EndTime.Format(time.RFC3339))
	}
	path := "/v1/usage"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp struct {
		Usage []models.TokenUsage `json:"usage"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Usage, nil
}

// UsageStats returns the caller's server-side usage summary
func (c *Client) UsageStats(ctx context.Context) (*ledger.UsageStats, error) {
	var stats ledger.UsageStats
	if err := c.do(ctx, http.MethodGet, "/v1/usage/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// HourlyUsage returns the caller's trailing hourly buckets
func (c *Client) HourlyUsage(ctx context.Context, hours int) ([]ledger.HourlyUsage, error) {
	var resp struct {
		Hours []ledger.HourlyUsage `json:"hours"`
	}
	path := "/v1/usage/hourly?hours=" + strconv.Itoa(hours)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Hours, nil
}

// Estimate is the projected cost of an activity
type Estimate struct {
	Activity string  `json:"activity"`
	Tokens   int     `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// EstimateActivity asks the server for an activity estimate
func (c *Client) EstimateActivity(ctx context.Context, activity string) (*Estimate, error) {
	var est Estimate
	path := "/v1/usage/estimate?activity=" + url.QueryEscape(activity)
	if err := c.do(ctx, http.MethodGet, path, nil, &est); err != nil {
		return nil, err
	}
	return &est, nil
}
