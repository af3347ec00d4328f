package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchParsesOrganicResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		w.Write([]byte(`{"organic":[
			{"title":"Acme Corp","link":"https://acme.example","snippet":"industrial solutions"},
			{"title":"Acme News","link":"https://news.example/acme","snippet":"unrelated"}
		]}`))
	}))
	defer srv.Close()

	c := NewSerperClient("test-key", "br", "pt")
	c.client = srv.Client()
	results, err := c.searchAgainst(context.Background(), srv.URL, "acme corp sao paulo")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "https://acme.example", results[0].Link)
}

func TestSearchReturnsErrNoResultsOnEmptyOrganic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"organic":[]}`))
	}))
	defer srv.Close()

	c := NewSerperClient("test-key", "", "")
	c.client = srv.Client()
	_, err := c.searchAgainst(context.Background(), srv.URL, "nonexistent company")
	require.ErrorIs(t, err, ErrNoResults)
}

func TestSearchReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	c := NewSerperClient("test-key", "", "")
	c.client = srv.Client()
	_, err := c.searchAgainst(context.Background(), srv.URL, "acme corp")
	require.Error(t, err)
}
