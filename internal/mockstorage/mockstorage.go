// Package mockstorage provides a testify-based mock implementation of
// the record store contract. It is used for unit testing conversation
// handlers by simulating storage behavior.
package mockstorage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/vkccbot/internal/models"
)

// StorageMock is a testify mock that implements the record store
// interface consumed by the conversation engine.
type StorageMock struct {
	mock.Mock
}

// AddLink mocks persisting a new link and returning its id.
func (m *StorageMock) AddLink(ctx context.Context, link *models.Link) (string, error) {
	args := m.Called(ctx, link)
	return args.String(0), args.Error(1)
}

// GetLink mocks fetching one link by owner and id.
func (m *StorageMock) GetLink(ctx context.Context, ownerID, linkID string) (*models.Link, error) {
	args := m.Called(ctx, ownerID, linkID)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

// RenameLink mocks changing a link's title.
func (m *StorageMock) RenameLink(ctx context.Context, ownerID, linkID, title string) error {
	args := m.Called(ctx, ownerID, linkID, title)
	return args.Error(0)
}

// DeleteLink mocks removing one link.
func (m *StorageMock) DeleteLink(ctx context.Context, ownerID, linkID string) error {
	args := m.Called(ctx, ownerID, linkID)
	return args.Error(0)
}

// MoveLink mocks attaching a link to a folder (or detaching it when
// folderID is empty).
func (m *StorageMock) MoveLink(ctx context.Context, ownerID, linkID, folderID string) error {
	args := m.Called(ctx, ownerID, linkID, folderID)
	return args.Error(0)
}

// ListLinks mocks listing a user's links under a folder filter.
func (m *StorageMock) ListLinks(
	ctx context.Context,
	ownerID string,
	filter models.FolderFilter,
) ([]models.Link, error) {
	args := m.Called(ctx, ownerID, filter)
	links, _ := args.Get(0).([]models.Link)
	return links, args.Error(1)
}

// CreateFolder mocks creating a named folder.
func (m *StorageMock) CreateFolder(ctx context.Context, ownerID, name string) (*models.Folder, error) {
	args := m.Called(ctx, ownerID, name)
	folder, _ := args.Get(0).(*models.Folder)
	return folder, args.Error(1)
}

// GetFolder mocks fetching one folder by owner and id.
func (m *StorageMock) GetFolder(ctx context.Context, ownerID, folderID string) (*models.Folder, error) {
	args := m.Called(ctx, ownerID, folderID)
	folder, _ := args.Get(0).(*models.Folder)
	return folder, args.Error(1)
}

// ListFolders mocks listing a user's folders.
func (m *StorageMock) ListFolders(ctx context.Context, ownerID string) ([]models.Folder, error) {
	args := m.Called(ctx, ownerID)
	folders, _ := args.Get(0).([]models.Folder)
	return folders, args.Error(1)
}

// DeleteFolder mocks removing a folder while keeping its links.
func (m *StorageMock) DeleteFolder(ctx context.Context, ownerID, folderID string) error {
	args := m.Called(ctx, ownerID, folderID)
	return args.Error(0)
}

// ClearAll mocks wiping a user's records and returning the short codes
// of the removed links.
func (m *StorageMock) ClearAll(ctx context.Context, ownerID string) ([]string, error) {
	args := m.Called(ctx, ownerID)
	codes, _ := args.Get(0).([]string)
	return codes, args.Error(1)
}

// Ping mocks the storage health check.
func (m *StorageMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Close mocks closing the storage and releasing resources.
func (m *StorageMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
