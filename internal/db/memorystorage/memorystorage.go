// Package memorystorage is an in-process implementation of the record
// store. It backs tests and credential-only deployments without a
// database file.
package memorystorage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/patric-chuzhbe/vkccbot/internal/models"
)

type ownerRecords struct {
	links   []*models.Link
	folders []*models.Folder
}

// MemoryStorage keeps every record in maps guarded by one mutex, which
// trivially serializes conflicting writes per owner.
type MemoryStorage struct {
	mu     sync.RWMutex
	owners map[string]*ownerRecords
}

// New returns an empty MemoryStorage.
func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		owners: map[string]*ownerRecords{},
	}, nil
}

func (theStorage *MemoryStorage) ownerLocked(ownerID string) *ownerRecords {
	records, ok := theStorage.owners[ownerID]
	if !ok {
		records = &ownerRecords{}
		theStorage.owners[ownerID] = records
	}

	return records
}

func (theStorage *MemoryStorage) AddLink(ctx context.Context, link *models.Link) (string, error) {
	theStorage.mu.Lock()
	defer theStorage.mu.Unlock()

	records := theStorage.ownerLocked(link.OwnerID)
	for _, existing := range records.links {
		if existing.ShortURL == link.ShortURL {
			return "", models.ErrDuplicate
		}
	}
	if link.FolderID != "" {
		if findFolderLocked(records, link.FolderID) == nil {
			return "", models.ErrNotFound
		}
	}

	stored := *link
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now()
	records.links = append(records.links, &stored)

	link.ID = stored.ID
	link.CreatedAt = stored.CreatedAt

	return stored.ID, nil
}

func findLinkLocked(records *ownerRecords, linkID string) *models.Link {
	for _, link := range records.links {
		if link.ID == linkID {
			return link
		}
	}

	return nil
}

func findFolderLocked(records *ownerRecords, folderID string) *models.Folder {
	for _, folder := range records.folders {
		if folder.ID == folderID {
			return folder
		}
	}

	return nil
}

func (theStorage *MemoryStorage) GetLink(ctx context.Context, ownerID, linkID string) (*models.Link, error) {
	theStorage.mu.RLock()
	defer theStorage.mu.RUnlock()

	records, ok := theStorage.owners[ownerID]
	if !ok {
		return nil, models.ErrNotFound
	}
	link := findLinkLocked(records, linkID)
	if link == nil {
		return nil, models.ErrNotFound
	}

	copied := *link

	return &copied, nil
}

func (theStorage *MemoryStorage) RenameLink(ctx context.Context, ownerID, linkID, title string) error {
	theStorage.mu.Lock()
	defer theStorage.mu.Unlock()

	records, ok := theStorage.owners[ownerID]
	if !ok {
		return models.ErrNotFound
	}
	link := findLinkLocked(records, linkID)
	if link == nil {
		return models.ErrNotFound
	}
	link.Title = title

	return nil
}

func (theStorage *MemoryStorage) DeleteLink(ctx context.Context, ownerID, linkID string) error {
	theStorage.mu.Lock()
	defer theStorage.mu.Unlock()

	records, ok := theStorage.owners[ownerID]
	if !ok {
		return models.ErrNotFound
	}
	for i, link := range records.links {
		if link.ID == linkID {
			records.links = append(records.links[:i], records.links[i+1:]...)
			return nil
		}
	}

	return models.ErrNotFound
}

func (theStorage *MemoryStorage) MoveLink(ctx context.Context, ownerID, linkID, folderID string) error {
	theStorage.mu.Lock()
	defer theStorage.mu.Unlock()

	records, ok := theStorage.owners[ownerID]
	if !ok {
		return models.ErrNotFound
	}
	link := findLinkLocked(records, linkID)
	if link == nil {
		return models.ErrNotFound
	}
	if folderID != "" && findFolderLocked(records, folderID) == nil {
		return models.ErrNotFound
	}
	link.FolderID = folderID

	return nil
}

func (theStorage *MemoryStorage) ListLinks(
	ctx context.Context,
	ownerID string,
	filter models.FolderFilter,
) ([]models.Link, error) {
	theStorage.mu.RLock()
	defer theStorage.mu.RUnlock()

	records, ok := theStorage.owners[ownerID]
	if !ok {
		return nil, nil
	}

	var result []models.Link
	for _, link := range records.links {
		switch {
		case filter.OnlyUnfiled && link.FolderID != "":
			continue
		case filter.FolderID != "" && link.FolderID != filter.FolderID:
			continue
		}
		result = append(result, *link)
	}

	return result, nil
}

func (theStorage *MemoryStorage) CreateFolder(ctx context.Context, ownerID, name string) (*models.Folder, error) {
	theStorage.mu.Lock()
	defer theStorage.mu.Unlock()

	records := theStorage.ownerLocked(ownerID)
	for _, folder := range records.folders {
		if folder.Name == name {
			return nil, models.ErrDuplicate
		}
	}

	folder := &models.Folder{
		ID:      uuid.New().String(),
		OwnerID: ownerID,
		Name:    name,
	}
	records.folders = append(records.folders, folder)

	copied := *folder

	return &copied, nil
}

func (theStorage *MemoryStorage) GetFolder(ctx context.Context, ownerID, folderID string) (*models.Folder, error) {
	theStorage.mu.RLock()
	defer theStorage.mu.RUnlock()

	records, ok := theStorage.owners[ownerID]
	if !ok {
		return nil, models.ErrNotFound
	}
	folder := findFolderLocked(records, folderID)
	if folder == nil {
		return nil, models.ErrNotFound
	}

	copied := *folder

	return &copied, nil
}

func (theStorage *MemoryStorage) ListFolders(ctx context.Context, ownerID string) ([]models.Folder, error) {
	theStorage.mu.RLock()
	defer theStorage.mu.RUnlock()

	records, ok := theStorage.owners[ownerID]
	if !ok {
		return nil, nil
	}

	result := make([]models.Folder, 0, len(records.folders))
	for _, folder := range records.folders {
		result = append(result, *folder)
	}

	return result, nil
}

func (theStorage *MemoryStorage) DeleteFolder(ctx context.Context, ownerID, folderID string) error {
	theStorage.mu.Lock()
	defer theStorage.mu.Unlock()

	records, ok := theStorage.owners[ownerID]
	if !ok {
		return models.ErrNotFound
	}
	for i, folder := range records.folders {
		if folder.ID == folderID {
			for _, link := range records.links {
				if link.FolderID == folderID {
					link.FolderID = ""
				}
			}
			records.folders = append(records.folders[:i], records.folders[i+1:]...)

			return nil
		}
	}

	return models.ErrNotFound
}

func (theStorage *MemoryStorage) ClearAll(ctx context.Context, ownerID string) ([]string, error) {
	theStorage.mu.Lock()
	defer theStorage.mu.Unlock()

	records, ok := theStorage.owners[ownerID]
	if !ok {
		return nil, nil
	}

	shortCodes := make([]string, 0, len(records.links))
	for _, link := range records.links {
		shortCodes = append(shortCodes, link.ShortCode())
	}
	delete(theStorage.owners, ownerID)

	return shortCodes, nil
}

func (theStorage *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (theStorage *MemoryStorage) Close() error {
	return nil
}
