package providers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/avatar-studio/internal/providers"
)

type stubProvider struct {
	name      string
	available bool
}

func (s stubProvider) Name() string      { return s.name }
func (s stubProvider) IsAvailable() bool { return s.available }

func TestRegistry(t *testing.T) {
	r := providers.NewRegistry(
		stubProvider{name: "unsplash", available: true},
		stubProvider{name: "d-id", available: true},
		stubProvider{name: "other", available: false},
	)

	assert.Equal(t, []string{"d-id", "unsplash"}, r.Available())
	assert.True(t, r.IsAvailable("d-id"))
	assert.False(t, r.IsAvailable("other"))

	p, ok := r.Get("unsplash")
	require.True(t, ok)
	assert.Equal(t, "unsplash", p.Name())
}

func TestDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.Write([]byte(`{"id":"x"}`))
		case "/bad":
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte("no credits\n"))
		}
	}))
	defer srv.Close()

	t.Run("decodes json", func(t *testing.T) {
		req, err := providers.NewJSONRequest(context.Background(), http.MethodPost, srv.URL+"/ok", map[string]string{"a": "b"})
		require.NoError(t, err)

		var out struct{ ID string }
		require.NoError(t, providers.Do(srv.Client(), "test", req, &out))
		assert.Equal(t, "x", out.ID)
	})

	t.Run("wraps error responses", func(t *testing.T) {
		req, err := providers.NewJSONRequest(context.Background(), http.MethodGet, srv.URL+"/bad", nil)
		require.NoError(t, err)

		err = providers.Do(srv.Client(), "test", req, nil)
		var apiErr *providers.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusPaymentRequired, apiErr.Status)
		assert.Equal(t, "test API error: 402 no credits", apiErr.Error())
	})
}
