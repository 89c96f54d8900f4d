// Package titlefetcher suggests a display title for a submitted URL by
// scraping the page's <title> element. Strictly best effort: any failure
// yields an empty suggestion, never an error the flow has to handle.
package titlefetcher

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"

	"github.com/patric-chuzhbe/vkccbot/internal/logger"
)

const maxBodyBytes = 256 * 1024

// Fetcher downloads pages and extracts their titles.
type Fetcher struct {
	http *resty.Client
}

// New creates a Fetcher with a 10s timeout.
func New() *Fetcher {
	return &Fetcher{
		http: resty.New().SetTimeout(10 * time.Second),
	}
}

// Fetch returns the page title, or "" when the page is unreachable,
// non-HTML or has no title.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) string {
	response, err := f.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(pageURL)
	if err != nil {
		logger.Log.Debugw("page title fetch failed", "url", pageURL, "err", err)
		return ""
	}
	body := response.RawBody()
	defer body.Close()

	if response.StatusCode() != 200 {
		return ""
	}

	return extractTitle(io.LimitReader(body, maxBodyBytes))
}

func extractTitle(body io.Reader) string {
	tokenizer := html.NewTokenizer(body)
	inTitle := false
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}
