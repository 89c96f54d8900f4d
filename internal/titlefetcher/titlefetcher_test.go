package titlefetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/patric-chuzhbe/vkccbot/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestFetch(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{
			name:   "plain title",
			status: http.StatusOK,
			body:   `<html><head><title>Example Domain</title></head><body></body></html>`,
			want:   "Example Domain",
		},
		{
			name:   "title with surrounding whitespace",
			status: http.StatusOK,
			body:   "<html><head><title>\n  Padded Title \n</title></head></html>",
			want:   "Padded Title",
		},
		{
			name:   "no title element",
			status: http.StatusOK,
			body:   `<html><head></head><body><h1>heading</h1></body></html>`,
			want:   "",
		},
		{
			name:   "not html at all",
			status: http.StatusOK,
			body:   `{"json": true}`,
			want:   "",
		},
		{
			name:   "error status",
			status: http.StatusNotFound,
			body:   `<html><head><title>404</title></head></html>`,
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
				res.WriteHeader(tt.status)
				_, _ = res.Write([]byte(tt.body))
			}))
			defer server.Close()

			got := New().Fetch(context.Background(), server.URL)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchUnreachableHost(t *testing.T) {
	got := New().Fetch(context.Background(), "http://127.0.0.1:1/unreachable")
	assert.Empty(t, got)
}

func TestExtractTitleStopsAtSizeLimit(t *testing.T) {
	// A title beyond the read limit is simply not found.
	page := strings.Repeat("<!-- padding -->", maxBodyBytes/16+1) +
		"<html><head><title>Too Far</title></head></html>"

	server := httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		_, _ = res.Write([]byte(page))
	}))
	defer server.Close()

	got := New().Fetch(context.Background(), server.URL)
	assert.Empty(t, got)
}
