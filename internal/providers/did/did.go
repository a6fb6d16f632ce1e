// Package did is a client for the D-ID talking-avatar API.
package did

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/andrew/avatar-studio/internal/providers"
)

const (
	// Name identifies the provider in logs and the registry
	Name = "d-id"

	// DefaultBaseURL is the public D-ID endpoint
	DefaultBaseURL = "https://api.d-id.com"

	// DefaultAgentDriver animates agent presenters
	DefaultAgentDriver = "Vcq0R4a8F0"
)

// Client calls the D-ID API with Basic credentials
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a client. An empty apiKey yields an unavailable client.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return Name
}

// IsAvailable reports whether an API key is configured
func (c *Client) IsAvailable() bool {
	return c.apiKey != ""
}

// Avatar is a stock presenter
type Avatar struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
	Gender   string `json:"gender"`
	AgeGroup string `json:"age_group"`
	Style    string `json:"style"`
}

type presenter struct {
	PresenterID  string `json:"presenter_id"`
	ThumbnailURL string `json:"thumbnail_url"`
	ImageURL     string `json:"image_url"`
	Gender       string `json:"gender"`
	Type         string `json:"type"`
}

// Avatars lists the clip presenters as avatars
func (c *Client) Avatars(ctx context.Context) ([]Avatar, error) {
	var resp struct {
		Presenters []presenter `json:"presenters"`
	}
	if err := c.do(ctx, http.MethodGet, "/clips/presenters", nil, &resp); err != nil {
		return nil, err
	}

	avatars := make([]Avatar, 0, len(resp.Presenters))
	for _, p := range resp.Presenters {
		avatars = append(avatars, toAvatar(p))
	}
	return avatars, nil
}

func toAvatar(p presenter) Avatar {
	image := p.ThumbnailURL
	if image == "" {
		image = p.ImageURL
	}
	gender := p.Gender
	if gender == "" {
		gender = "unknown"
	}
	style := "standard"
	if p.Type == "premium" {
		style = "premium"
	}
	return Avatar{
		ID:       p.PresenterID,
		Name:     p.PresenterID,
		ImageURL: image,
		Gender:   gender,
		AgeGroup: "adult",
		Style:    style,
	}
}

// Voice is a text-to-speech voice usable in a talk script
type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Gender   string `json:"gender"`
	Language string `json:"language"`
	Provider string `json:"provider"`
}

var voices = []Voice{
	{VoiceID: "en-US-JennyNeural", Name: "Jenny (Neural)", Gender: "female", Language: "en-US", Provider: "microsoft"},
	{VoiceID: "en-US-GuyNeural", Name: "Guy (Neural)", Gender: "male", Language: "en-US", Provider: "microsoft"},
	{VoiceID: "en-US-AriaNeural", Name: "Aria (Neural)", Gender: "female", Language: "en-US", Provider: "microsoft"},
	{VoiceID: "en-GB-SoniaNeural", Name: "Sonia (Neural)", Gender: "female", Language: "en-GB", Provider: "microsoft"},
	{VoiceID: "en-GB-RyanNeural", Name: "Ryan (Neural)", Gender: "male", Language: "en-GB", Provider: "microsoft"},
	{VoiceID: "Joanna", Name: "Joanna", Gender: "female", Language: "en-US", Provider: "amazon"},
	{VoiceID: "Matthew", Name: "Matthew", Gender: "male", Language: "en-US", Provider: "amazon"},
	{VoiceID: "Amy", Name: "Amy", Gender: "female", Language: "en-GB", Provider: "amazon"},
	{VoiceID: "Brian", Name: "Brian", Gender: "male", Language: "en-GB", Provider: "amazon"},
	{VoiceID: "Emma", Name: "Emma", Gender: "female", Language: "en-GB", Provider: "amazon"},
}

// Voices returns the curated voice list. D-ID has no voices endpoint.
func Voices() []Voice {
	out := make([]Voice, len(voices))
	copy(out, voices)
	return out
}

// VoiceProvider selects the TTS voice of a script
type VoiceProvider struct {
	Type    string `json:"type"`
	VoiceID string `json:"voice_id"`
}

// Script is the text an avatar speaks
type Script struct {
	Type      string         `json:"type"`
	Input     string         `json:"input"`
	Subtitles bool           `json:"subtitles,omitempty"`
	Provider  *VoiceProvider `json:"provider,omitempty"`
}

// TalkConfig tunes talk rendering
type TalkConfig struct {
	Fluent   bool    `json:"fluent,omitempty"`
	PadAudio float64 `json:"pad_audio,omitempty"`
	Stitch   bool    `json:"stitch,omitempty"`
}

// TalkRequest creates a talking-head video from a source image
type TalkRequest struct {
	Script    Script      `json:"script"`
	Config    *TalkConfig `json:"config,omitempty"`
	SourceURL string      `json:"source_url"`
}

// Talk is the state of a talk job
type Talk struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ResultURL  string `json:"result_url,omitempty"`
	Error      any    `json:"error,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

// CreateTalk starts a talk video job
func (c *Client) CreateTalk(ctx context.Context, req TalkRequest) (*Talk, error) {
	if req.SourceURL == "" || req.Script.Input == "" {
		return nil, fmt.Errorf("source_url and script input are required")
	}
	if req.Script.Type == "" {
		req.Script.Type = "text"
	}

	var talk Talk
	if err := c.do(ctx, http.MethodPost, "/talks", req, &talk); err != nil {
		return nil, err
	}
	return &talk, nil
}

// Talk returns the status of a talk job
func (c *Client) Talk(ctx context.Context, id string) (*Talk, error) {
	var talk Talk
	if err := c.do(ctx, http.MethodGet, "/talks/"+url.PathEscape(id), nil, &talk); err != nil {
		return nil, err
	}
	return &talk, nil
}

// ClipConfig selects the clip output format
type ClipConfig struct {
	ResultFormat string `json:"result_format,omitempty"`
}

// ClipRequest creates a clip from a stock presenter
type ClipRequest struct {
	PresenterID string      `json:"presenter_id"`
	Script      Script      `json:"script"`
	Config      *ClipConfig `json:"config,omitempty"`
}

// Clip is the state of a clip job
type Clip struct {
	ID          string      `json:"id"`
	Object      string      `json:"object,omitempty"`
	PresenterID string      `json:"presenter_id,omitempty"`
	DriverID    string      `json:"driver_id,omitempty"`
	Script      *Script     `json:"script,omitempty"`
	Config      *ClipConfig `json:"config,omitempty"`
	Status      string      `json:"status"`
	ResultURL   string      `json:"result_url,omitempty"`
	CreatedAt   string      `json:"created_at,omitempty"`
	ModifiedAt  string      `json:"modified_at,omitempty"`
}

// CreateClip starts a clip job
func (c *Client) CreateClip(ctx context.Context, req ClipRequest) (*Clip, error) {
	if req.PresenterID == "" || req.Script.Input == "" {
		return nil, fmt.Errorf("presenter_id and script input are required")
	}
	if req.Script.Type == "" {
		req.Script.Type = "text"
	}

	var clip Clip
	if err := c.do(ctx, http.MethodPost, "/clips", req, &clip); err != nil {
		return nil, err
	}
	return &clip, nil
}

// Clips lists the account's clips
func (c *Client) Clips(ctx context.Context) ([]Clip, error) {
	var resp struct {
		Clips []Clip `json:"clips"`
	}
	if err := c.do(ctx, http.MethodGet, "/clips", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Clips == nil {
		resp.Clips = []Clip{}
	}
	return resp.Clips, nil
}

// Clip returns one clip
func (c *Client) Clip(ctx context.Context, id string) (*Clip, error) {
	var clip Clip
	if err := c.do(ctx, http.MethodGet, "/clips/"+url.PathEscape(id), nil, &clip); err != nil {
		return nil, err
	}
	return &clip, nil
}

// Image is an uploaded source image
type Image struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
}

// UploadImage uploads a custom avatar image as multipart field "image"
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (*Image, error) {
	if !c.IsAvailable() {
		return nil, providers.ErrNotConfigured
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to copy image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	var img Image
	if err := providers.Do(c.http, Name, req, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

// AgentRequest creates a conversational agent around a presenter image
type AgentRequest struct {
	Name      string `json:"name"`
	SourceURL string `json:"source_url"`
	Gender    string `json:"gender,omitempty"`
	DriverID  string `json:"driver_id,omitempty"`
}

// Agent is a created agent
type Agent struct {
	ID        string `json:"id"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateAgent creates an agent using DefaultAgentDriver unless one is set
func (c *Client) CreateAgent(ctx context.Context, req AgentRequest) (*Agent, error) {
	if req.Name == "" || req.SourceURL == "" {
		return nil, fmt.Errorf("name and source_url are required")
	}
	if req.DriverID == "" {
		req.DriverID = DefaultAgentDriver
	}

	var agent Agent
	if err := c.do(ctx, http.MethodPost, "/agents", req, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.IsAvailable() {
		return providers.ErrNotConfigured
	}

	req, err := providers.NewJSONRequest(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	c.authorize(req)

	return providers.Do(c.http, Name, req, out)
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Basic "+c.apiKey)
}
