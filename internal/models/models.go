// Package models holds the entities shared between the conversation
// engine, the storage backends and the statistics layer, together with
// the sentinel errors every storage implementation must return.
package models

import (
	"errors"
	"time"
)

// Link is a stored short link owned by a single chat user.
type Link struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	ShortURL    string    `json:"short_url"`
	OriginalURL string    `json:"original_url"`
	FolderID    string    `json:"folder_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ShortCode returns the path segment of the short URL. The remote
// statistics API is keyed by it.
func (l *Link) ShortCode() string {
	for i := len(l.ShortURL) - 1; i >= 0; i-- {
		if l.ShortURL[i] == '/' {
			return l.ShortURL[i+1:]
		}
	}

	return l.ShortURL
}

// Folder is a user-defined named grouping of links. A link belongs to at
// most one folder; folder names are unique per owner.
type Folder struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
}

// FolderFilter selects which links ListLinks returns.
// The zero value selects every link of the owner.
type FolderFilter struct {
	// OnlyUnfiled selects links with no folder reference.
	OnlyUnfiled bool

	// FolderID, when non-empty, selects links of exactly that folder.
	FolderID string
}

// StatsResult is the remote view-statistics answer for one short code.
type StatsResult struct {
	Views  int         `json:"views"`
	Cities map[int]int `json:"cities,omitempty"`
}

// Merge adds another result into the receiver, summing views and
// per-city breakdowns. Used for folder-level and global aggregation.
func (s *StatsResult) Merge(other StatsResult) {
	s.Views += other.Views
	if len(other.Cities) == 0 {
		return
	}
	if s.Cities == nil {
		s.Cities = map[int]int{}
	}
	for city, views := range other.Cities {
		s.Cities[city] += views
	}
}

// DateRange bounds a statistics query. Zero times mean "unbounded".
type DateRange struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether no bound is set.
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeSqlite
	StorageTypeMemory
)

// ErrNotFound is returned when a link or folder does not exist for the
// given owner.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a uniqueness constraint would be violated:
// (owner, short URL) for links, (owner, name) for folders.
var ErrDuplicate = errors.New("record already exists")
