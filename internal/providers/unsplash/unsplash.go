// Package unsplash searches stock photos for avatar backgrounds.
package unsplash

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/andrew/avatar-studio/internal/providers"
)

const (
	// Name identifies the provider in logs and the registry
	Name = "unsplash"

	// DefaultBaseURL is the public Unsplash endpoint
	DefaultBaseURL = "https://api.unsplash.com"

	defaultPerPage = 20
)

// ErrQueryRequired is returned for an empty search query.
var ErrQueryRequired = errors.New("Search query is required")

// Client calls the Unsplash search API
type Client struct {
	baseURL   string
	accessKey string
	http      *http.Client
}

// New creates a client. An empty accessKey yields an unavailable client.
func New(baseURL, accessKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		accessKey: accessKey,
		http:      &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return Name
}

// IsAvailable reports whether an access key is configured
func (c *Client) IsAvailable() bool {
	return c.accessKey != ""
}

// SearchRequest is a photo search. Page defaults to 1 and PerPage to 20.
type SearchRequest struct {
	Query       string `json:"query"`
	Page        int    `json:"page,omitempty"`
	PerPage     int    `json:"per_page,omitempty"`
	Orientation string `json:"orientation,omitempty"`
}

// URLs are the rendition links of a photo
type URLs struct {
	Regular string `json:"regular"`
	Small   string `json:"small"`
	Thumb   string `json:"thumb"`
	Full    string `json:"full"`
}

// User is the photographer
type User struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Image is one search hit
type Image struct {
	ID             string `json:"id"`
	URLs           URLs   `json:"urls"`
	AltDescription string `json:"alt_description"`
	Description    string `json:"description"`
	User           User   `json:"user"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

// SearchResult is a page of images
type SearchResult struct {
	Images     []Image `json:"images"`
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
}

type photo struct {
	ID             string  `json:"id"`
	URLs           URLs    `json:"urls"`
	AltDescription *string `json:"alt_description"`
	Description    *string `json:"description"`
	User           User    `json:"user"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
}

// Search runs a photo search
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.Query == "" {
		return nil, ErrQueryRequired
	}
	if !c.IsAvailable() {
		return nil, providers.ErrNotConfigured
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 {
		req.PerPage = defaultPerPage
	}

	params := url.Values{}
	params.Set("query", req.Query)
	params.Set("page", strconv.Itoa(req.Page))
	params.Set("per_page", strconv.Itoa(req.PerPage))
	if req.Orientation != "" {
		params.Set("orientation", req.Orientation)
	}

	httpReq, err := providers.NewJSONRequest(ctx, http.MethodGet, c.baseURL+"/search/photos?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Client-ID "+c.accessKey)
	httpReq.Header.Set("Accept-Version", "v1")

	var resp struct {
		Results    []photo `json:"results"`
		Total      int     `json:"total"`
		TotalPages int     `json:"total_pages"`
	}
	if err := providers.Do(c.http, Name, httpReq, &resp); err != nil {
		return nil, err
	}

	result := &SearchResult{
		Images:     make([]Image, 0, len(resp.Results)),
		Total:      resp.Total,
		TotalPages: resp.TotalPages,
	}
	for _, p := range resp.Results {
		result.Images = append(result.Images, toImage(p))
	}
	return result, nil
}

func toImage(p photo) Image {
	img := Image{
		ID:     p.ID,
		URLs:   p.URLs,
		User:   p.User,
		Width:  p.Width,
		Height: p.Height,
	}
	if p.Description != nil {
		img.Description = *p.Description
	}
	switch {
	case p.AltDescription != nil && *p.AltDescription != "":
		img.AltDescription = *p.AltDescription
	case img.Description != "":
		img.AltDescription = img.Description
	default:
		img.AltDescription = "Unsplash image"
	}
	return img
}
