// Package storage declares the persisted record store contract shared by
// all backends. Every mutating operation is atomic with respect to
// concurrent operations from the same owner; partial application of
// multi-row effects (folder deletion, clear-all) is never observable.
package storage

import (
	"context"

	"github.com/patric-chuzhbe/vkccbot/internal/models"
)

// Storage is the persisted record store: links and folders keyed by the
// owning chat user. Implementations return models.ErrNotFound and
// models.ErrDuplicate for the corresponding conditions.
type Storage interface {
	// AddLink persists the link, assigns its ID and creation timestamp,
	// and returns the ID. (owner, short URL) must be unique.
	AddLink(ctx context.Context, link *models.Link) (string, error)

	// GetLink returns the link by its durable ID.
	GetLink(ctx context.Context, ownerID, linkID string) (*models.Link, error)

	// RenameLink replaces the display title.
	RenameLink(ctx context.Context, ownerID, linkID, title string) error

	// DeleteLink removes the link. Deleting a missing ID reports
	// models.ErrNotFound, never a crash.
	DeleteLink(ctx context.Context, ownerID, linkID string) error

	// MoveLink sets the folder reference. An empty folderID detaches the
	// link. A folder not owned by ownerID reports models.ErrNotFound.
	MoveLink(ctx context.Context, ownerID, linkID, folderID string) error

	// ListLinks returns the owner's links in insertion order, optionally
	// filtered to one folder or to unfiled links.
	ListLinks(ctx context.Context, ownerID string, filter models.FolderFilter) ([]models.Link, error)

	// CreateFolder creates a folder with a per-owner unique name.
	CreateFolder(ctx context.Context, ownerID, name string) (*models.Folder, error)

	// GetFolder returns the folder by its durable ID.
	GetFolder(ctx context.Context, ownerID, folderID string) (*models.Folder, error)

	// ListFolders returns the owner's folders in creation order.
	ListFolders(ctx context.Context, ownerID string) ([]models.Folder, error)

	// DeleteFolder detaches every member link and removes the folder as
	// one transaction. Links are never cascade-deleted.
	DeleteFolder(ctx context.Context, ownerID, folderID string) error

	// ClearAll removes every link and folder of the owner and returns the
	// short codes of the removed links so callers can invalidate caches.
	ClearAll(ctx context.Context, ownerID string) ([]string, error)

	Ping(ctx context.Context) error

	Close() error
}
