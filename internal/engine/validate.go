package engine

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/patric-chuzhbe/vkccbot/internal/models"
)

const maxTitleLen = 100

var titleStripPattern = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)

// SanitizeTitle strips everything but word characters, whitespace and
// hyphens, truncates to 100 runes and trims surrounding whitespace.
// It is idempotent; an empty result means the input must be rejected.
func SanitizeTitle(raw string) string {
	cleaned := titleStripPattern.ReplaceAllString(strings.TrimSpace(raw), "")
	runes := []rune(cleaned)
	if len(runes) > maxTitleLen {
		runes = runes[:maxTitleLen]
	}

	return strings.TrimSpace(string(runes))
}

var errBadDateRange = errors.New("malformed date range")

// ParseDateRange parses strict `YYYY-MM-DD YYYY-MM-DD` input: exactly two
// tokens, both calendar dates, end not before start.
func ParseDateRange(raw string) (models.DateRange, error) {
	tokens := strings.Fields(raw)
	if len(tokens) != 2 {
		return models.DateRange{}, errBadDateRange
	}

	from, err := time.Parse("2006-01-02", tokens[0])
	if err != nil {
		return models.DateRange{}, errBadDateRange
	}
	to, err := time.Parse("2006-01-02", tokens[1])
	if err != nil {
		return models.DateRange{}, errBadDateRange
	}
	if to.Before(from) {
		return models.DateRange{}, errBadDateRange
	}

	return models.DateRange{From: from, To: to}, nil
}
