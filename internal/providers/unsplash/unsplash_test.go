package unsplash_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/avatar-studio/internal/providers"
	"github.com/andrew/avatar-studio/internal/providers/unsplash"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/photos", r.URL.Path)
		assert.Equal(t, "Client-ID access", r.Header.Get("Authorization"))
		assert.Equal(t, "v1", r.Header.Get("Accept-Version"))

		q := r.URL.Query()
		assert.Equal(t, "office", q.Get("query"))
		assert.Equal(t, "1", q.Get("page"))
		assert.Equal(t, "20", q.Get("per_page"))
		assert.Equal(t, "landscape", q.Get("orientation"))

		w.Write([]byte(`{"total":42,"total_pages":3,"results":[
			{"id":"a","urls":{"regular":"r","small":"s","thumb":"t","full":"f"},"alt_description":"desk","description":null,"user":{"name":"Ann","username":"ann"},"width":10,"height":20},
			{"id":"b","urls":{},"alt_description":null,"description":"window","user":{"name":"Ben","username":"ben"}},
			{"id":"c","urls":{},"alt_description":"","description":null,"user":{}}
		]}`))
	}))
	defer srv.Close()

	client := unsplash.New(srv.URL, "access", 5*time.Second)
	result, err := client.Search(context.Background(), unsplash.SearchRequest{Query: "office", Orientation: "landscape"})
	require.NoError(t, err)

	assert.Equal(t, 42, result.Total)
	assert.Equal(t, 3, result.TotalPages)
	require.Len(t, result.Images, 3)
	assert.Equal(t, "desk", result.Images[0].AltDescription)
	assert.Equal(t, "t", result.Images[0].URLs.Thumb)
	assert.Equal(t, "window", result.Images[1].AltDescription)
	assert.Equal(t, "Unsplash image", result.Images[2].AltDescription)
}

func TestSearchErrors(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		client := unsplash.New("", "access", 0)
		_, err := client.Search(context.Background(), unsplash.SearchRequest{})
		assert.ErrorIs(t, err, unsplash.ErrQueryRequired)
		assert.Equal(t, "Search query is required", err.Error())
	})

	t.Run("missing key", func(t *testing.T) {
		client := unsplash.New("", "", 0)
		_, err := client.Search(context.Background(), unsplash.SearchRequest{Query: "x"})
		assert.ErrorIs(t, err, providers.ErrNotConfigured)
	})

	t.Run("provider error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"errors":["OAuth error"]}`))
		}))
		defer srv.Close()

		_, err := unsplash.New(srv.URL, "bad", 0).Search(context.Background(), unsplash.SearchRequest{Query: "x"})
		var apiErr *providers.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	})
}
