// Package shortener wraps the VK link API: utils.getShortLink for
// shortening, utils.getLinkStats for view statistics and
// database.getCitiesById for city labels. Remote calls are retried up to
// three attempts with exponential backoff.
package shortener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/patric-chuzhbe/vkccbot/internal/models"
	"github.com/patric-chuzhbe/vkccbot/internal/urlcheck"
)

const (
	defaultBaseURL = "https://api.vk.com"
	apiVersion     = "5.199"

	vkErrorCodeInvalidParam = 100
	vkErrorCodeBadToken     = 5
)

// ErrInvalidURL means the remote service (or the local gate) rejected the
// URL itself; retrying with the same URL is pointless.
var ErrInvalidURL = errors.New("the URL was rejected by the shortening service")

// ErrInvalidToken means the service credential is wrong; an operator
// problem, not a user one.
var ErrInvalidToken = errors.New("the shortening service rejected the access token")

// Client talks to the VK API.
type Client struct {
	http  *resty.Client
	token string
}

// Option customizes the Client.
type Option func(*Client)

// WithBaseURL overrides the API host. Tests point it at httptest servers.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.http.SetBaseURL(baseURL)
	}
}

// WithRetryWaitTime overrides the initial backoff delay.
func WithRetryWaitTime(waitTime time.Duration) Option {
	return func(c *Client) {
		c.http.SetRetryWaitTime(waitTime)
	}
}

// New creates a Client with a 10s request timeout and 3 total attempts.
func New(token string, optionsProto ...Option) *Client {
	client := &Client{
		http: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second).
			SetRetryMaxWaitTime(8 * time.Second).
			AddRetryCondition(func(response *resty.Response, err error) bool {
				// VK error payloads arrive as HTTP 200 and are not
				// retried; transport and HTTP-level failures are.
				return err != nil || response.IsError()
			}),
		token: token,
	}
	for _, protoOption := range optionsProto {
		protoOption(client)
	}

	return client
}

type vkError struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

type shortLinkResponse struct {
	Response struct {
		ShortURL string `json:"short_url"`
		Key      string `json:"key"`
	} `json:"response"`
	Error *vkError `json:"error"`
}

func (e *vkError) toSentinel() error {
	switch e.ErrorCode {
	case vkErrorCodeInvalidParam:
		return ErrInvalidURL
	case vkErrorCodeBadToken:
		return ErrInvalidToken
	}

	return fmt.Errorf("shortening service error %d: %s", e.ErrorCode, e.ErrorMsg)
}

// Shorten validates the URL locally, then asks the service for a short
// URL. The returned error is ErrInvalidURL, ErrInvalidToken or a generic
// remote failure after retries are exhausted.
func (c *Client) Shorten(ctx context.Context, originalURL string) (string, error) {
	if !urlcheck.IsValid(originalURL) {
		return "", ErrInvalidURL
	}

	var parsed shortLinkResponse
	response, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"url":          originalURL,
			"v":            apiVersion,
			"access_token": c.token,
		}).
		SetResult(&parsed).
		Get("/method/utils.getShortLink")
	if err != nil {
		return "", fmt.Errorf("in internal/shortener/shortener.go/Shorten(): request failed: %w", err)
	}
	if response.IsError() {
		return "", fmt.Errorf("shortening service returned HTTP %d", response.StatusCode())
	}
	if parsed.Error != nil {
		return "", parsed.Error.toSentinel()
	}
	if parsed.Response.ShortURL == "" {
		return "", errors.New("shortening service returned an empty short URL")
	}

	return parsed.Response.ShortURL, nil
}

type linkStatsResponse struct {
	Response struct {
		Key   string `json:"key"`
		Stats []struct {
			PeriodFrom int64 `json:"period_from"`
			PeriodTo   int64 `json:"period_to"`
			Views      int   `json:"views"`
			Cities     []struct {
				CityID int `json:"city_id"`
				Views  int `json:"views"`
			} `json:"cities"`
		} `json:"stats"`
	} `json:"response"`
	Error *vkError `json:"error"`
}

// FetchStats returns aggregate views (and per-city breakdown) for one
// short code, optionally bounded to a date range. Exhausted retries and
// service errors are reported to the caller; the cache decides how to
// degrade.
func (c *Client) FetchStats(
	ctx context.Context,
	shortCode string,
	dateRange models.DateRange,
) (models.StatsResult, error) {
	var parsed linkStatsResponse
	response, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":             shortCode,
			"v":               apiVersion,
			"access_token":    c.token,
			"interval":        "day",
			"intervals_count": "100",
			"extended":        "1",
		}).
		SetResult(&parsed).
		Get("/method/utils.getLinkStats")
	if err != nil {
		return models.StatsResult{}, fmt.Errorf("in internal/shortener/shortener.go/FetchStats(): request failed: %w", err)
	}
	if response.IsError() {
		return models.StatsResult{}, fmt.Errorf("statistics service returned HTTP %d", response.StatusCode())
	}
	if parsed.Error != nil {
		return models.StatsResult{}, parsed.Error.toSentinel()
	}

	result := models.StatsResult{}
	for _, bucket := range parsed.Response.Stats {
		if !dateRange.IsZero() {
			bucketFrom := time.Unix(bucket.PeriodFrom, 0)
			bucketTo := time.Unix(bucket.PeriodTo, 0)
			if !dateRange.From.IsZero() && bucketTo.Before(dateRange.From) {
				continue
			}
			// End bound is inclusive of the whole day.
			if !dateRange.To.IsZero() && !bucketFrom.Before(dateRange.To.Add(24*time.Hour)) {
				continue
			}
		}
		bucketResult := models.StatsResult{Views: bucket.Views}
		for _, city := range bucket.Cities {
			if bucketResult.Cities == nil {
				bucketResult.Cities = map[int]int{}
			}
			bucketResult.Cities[city.CityID] += city.Views
		}
		result.Merge(bucketResult)
	}

	return result, nil
}

type citiesResponse struct {
	Response []struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	} `json:"response"`
	Error *vkError `json:"error"`
}

// CityPlaceholder labels cities whose names could not be resolved.
const CityPlaceholder = "unknown city"

// FetchCityNames resolves city ids to display names, best effort: on any
// failure every requested id maps to CityPlaceholder.
func (c *Client) FetchCityNames(ctx context.Context, ids []int) (map[int]string, error) {
	names := make(map[int]string, len(ids))
	for _, id := range ids {
		names[id] = CityPlaceholder
	}
	if len(ids) == 0 {
		return names, nil
	}

	idsParam := ""
	for i, id := range ids {
		if i > 0 {
			idsParam += ","
		}
		idsParam += fmt.Sprintf("%d", id)
	}

	var parsed citiesResponse
	response, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"city_ids":     idsParam,
			"v":            apiVersion,
			"access_token": c.token,
		}).
		SetResult(&parsed).
		Get("/method/database.getCitiesById")
	if err != nil || response.IsError() || parsed.Error != nil {
		return names, nil
	}

	for _, city := range parsed.Response {
		if city.Title != "" {
			names[city.ID] = city.Title
		}
	}

	return names, nil
}
