package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/vkccbot/internal/db/memorystorage"
	"github.com/patric-chuzhbe/vkccbot/internal/logger"
	"github.com/patric-chuzhbe/vkccbot/internal/mockstorage"
	"github.com/patric-chuzhbe/vkccbot/internal/models"
	"github.com/patric-chuzhbe/vkccbot/internal/shortener"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeShortener struct {
	mu   sync.Mutex
	fail map[string]error
	seq  int
}

func (f *fakeShortener) Shorten(_ context.Context, originalURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.fail[originalURL]; ok {
		return "", err
	}
	f.seq++

	return fmt.Sprintf("https://vk.cc/c%04d", f.seq), nil
}

type fakeStats struct {
	mu          sync.Mutex
	results     map[string]models.StatsResult
	invalidated []string
	ranges      []models.DateRange
}

func (f *fakeStats) Get(
	_ context.Context,
	shortCode string,
	dateRange models.DateRange,
) (models.StatsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ranges = append(f.ranges, dateRange)

	return f.results[shortCode], nil
}

func (f *fakeStats) Invalidate(shortCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.invalidated = append(f.invalidated, shortCode)
}

func newTestEngine(t *testing.T) (*Engine, *memorystorage.MemoryStorage, *fakeShortener, *fakeStats) {
	t.Helper()

	store, err := memorystorage.New()
	require.NoError(t, err)

	shorten := &fakeShortener{fail: map[string]error{}}
	stats := &fakeStats{results: map[string]models.StatsResult{}}

	return New(store, shorten, stats), store, shorten, stats
}

func press(e *Engine, userID, action string) Reply {
	return e.HandleEvent(context.Background(), Event{
		UserID:  userID,
		Kind:    EventButton,
		Payload: action,
	})
}

func say(e *Engine, userID, text string) Reply {
	return e.HandleEvent(context.Background(), Event{
		UserID:  userID,
		Kind:    EventText,
		Payload: text,
	})
}

func command(e *Engine, userID, name string) Reply {
	return e.HandleEvent(context.Background(), Event{
		UserID:  userID,
		Kind:    EventCommand,
		Payload: name,
	})
}

// findAction returns the first button action matching the prefix, or "".
func findAction(reply Reply, prefix string) string {
	for _, row := range reply.Keyboard {
		for _, button := range row {
			if strings.HasPrefix(button.Action, prefix) {
				return button.Action
			}
		}
	}

	return ""
}

func TestStartShowsMainMenu(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	reply := command(e, "u1", "start")

	assert.Contains(t, reply.Text, "Welcome")
	assert.NotEmpty(t, findAction(reply, "menu_links"))
	assert.NotEmpty(t, findAction(reply, "menu_folders"))
	assert.NotEmpty(t, findAction(reply, "menu_stats"))
	assert.NotEmpty(t, findAction(reply, "clear_all"))
}

func TestAddSingleLinkFlow(t *testing.T) {
	e, store, _, stats := newTestEngine(t)

	reply := press(e, "u1", "add_single")
	assert.Contains(t, reply.Text, "Send a URL")

	reply = say(e, "u1", "https://example.com/page")
	assert.Contains(t, reply.Text, "Link shortened")
	assert.Contains(t, reply.Text, "https://vk.cc/c0001")
	require.NotEmpty(t, findAction(reply, "enter_title"))

	reply = press(e, "u1", "enter_title")
	assert.Contains(t, reply.Text, "title")

	reply = say(e, "u1", "My Page!!!")
	assert.Contains(t, reply.Text, "Link saved")
	// Punctuation is stripped during cleanup.
	assert.Contains(t, reply.Text, "My Page")
	assert.NotContains(t, reply.Text, "My Page!!!")

	links, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "My Page", links[0].Title)
	assert.Equal(t, "https://vk.cc/c0001", links[0].ShortURL)
	assert.Equal(t, "https://example.com/page", links[0].OriginalURL)
	assert.Contains(t, stats.invalidated, "c0001")

	// The post-add menu offers moving the new link by its durable id.
	reply = press(e, "u1", "my_links")
	assert.NotEmpty(t, findAction(reply, "link:"+links[0].ID))
}

func TestAddSingleLinkRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not a URL at all", input: "hello there"},
		{name: "unsupported scheme", input: "ftp://example.com/file"},
		{name: "embedded script", input: "https://example.com/?q=javascript:alert(1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store, _, _ := newTestEngine(t)

			press(e, "u1", "add_single")
			reply := say(e, "u1", tt.input)

			assert.Contains(t, reply.Text, "Invalid URL")
			// The flow stays open: a correct URL is accepted next.
			reply = say(e, "u1", "https://example.com/ok")
			assert.Contains(t, reply.Text, "Link shortened")

			links, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{})
			require.NoError(t, err)
			assert.Empty(t, links)
		})
	}
}

func TestAddSingleLinkShorteningFailure(t *testing.T) {
	e, _, shorten, _ := newTestEngine(t)
	shorten.fail["https://rejected.example.com"] = shortener.ErrInvalidURL

	press(e, "u1", "add_single")
	reply := say(e, "u1", "https://rejected.example.com")

	assert.Contains(t, reply.Text, "Could not shorten")
	assert.Contains(t, reply.Text, "rejected the URL")
}

func TestCancelResetsActiveFlow(t *testing.T) {
	e, store, _, _ := newTestEngine(t)

	press(e, "u1", "add_single")
	say(e, "u1", "https://example.com")
	reply := command(e, "u1", "cancel")
	assert.Contains(t, reply.Text, "canceled")

	// The pending link was never persisted and free text now falls
	// through to the menu hint.
	reply = say(e, "u1", "Whatever Title")
	assert.Contains(t, reply.Text, "Pick an action")

	links, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{})
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestBulkAddPartialFailure(t *testing.T) {
	e, store, shorten, _ := newTestEngine(t)
	shorten.fail["https://bad.example.com"] = shortener.ErrInvalidURL

	press(e, "u1", "add_bulk")
	reply := say(e, "u1", "https://ok.example.com\nnot a url\nhttps://bad.example.com")
	assert.Contains(t, reply.Text, "Found 2 valid links")

	reply = press(e, "u1", "bulk_use_url")
	assert.Contains(t, reply.Text, "Links processed: 1")
	assert.Contains(t, reply.Text, "Failures: 1")
	// The failing URL is reported verbatim so the user can fix it.
	assert.Contains(t, reply.Text, "https://bad.example.com")
	// Survivors go on to the folder-assignment prompt.
	assert.NotEmpty(t, findAction(reply, "assign_skip"))

	links, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "https://ok.example.com", links[0].OriginalURL)
}

func TestBulkAddManualTitles(t *testing.T) {
	e, store, _, _ := newTestEngine(t)

	press(e, "u1", "add_bulk")
	say(e, "u1", "https://one.example.com\nhttps://two.example.com")
	reply := press(e, "u1", "bulk_enter_titles")
	assert.Contains(t, reply.Text, "Title for link 1/2")

	// Invalid input re-prompts for the same link without advancing.
	reply = say(e, "u1", "???")
	assert.Contains(t, reply.Text, "Invalid title")
	assert.Contains(t, reply.Text, "https://one.example.com")

	reply = say(e, "u1", "First")
	assert.Contains(t, reply.Text, "Title for link 2/2")

	reply = say(e, "u1", "Second")
	assert.Contains(t, reply.Text, "Links processed: 2")

	links, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "First", links[0].Title)
	assert.Equal(t, "Second", links[1].Title)
}

func TestFolderAssignmentFlow(t *testing.T) {
	e, store, _, _ := newTestEngine(t)

	// Create a folder up front.
	press(e, "u1", "create_folder")
	reply := say(e, "u1", "Work")
	assert.Contains(t, reply.Text, "\"Work\" was created")

	// Add a link and move it there from the post-add menu.
	press(e, "u1", "add_single")
	say(e, "u1", "https://example.com")
	press(e, "u1", "enter_title")
	reply = say(e, "u1", "Example")
	moveAction := findAction(reply, "tofolder:")
	require.NotEmpty(t, moveAction)

	reply = press(e, "u1", moveAction)
	assignAction := findAction(reply, "assign:")
	require.NotEmpty(t, assignAction)

	reply = press(e, "u1", assignAction)
	assert.Contains(t, reply.Text, "1 link(s) moved to \"Work\"")

	folders, err := store.ListFolders(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, folders, 1)

	filed, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{FolderID: folders[0].ID})
	require.NoError(t, err)
	require.Len(t, filed, 1)
	assert.Equal(t, "Example", filed[0].Title)

	unfiled, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{OnlyUnfiled: true})
	require.NoError(t, err)
	assert.Empty(t, unfiled)
}

func TestAssignmentViaNewFolder(t *testing.T) {
	e, store, _, _ := newTestEngine(t)

	press(e, "u1", "add_single")
	say(e, "u1", "https://example.com")
	press(e, "u1", "enter_title")
	reply := say(e, "u1", "Example")

	press(e, "u1", findAction(reply, "tofolder:"))
	reply = press(e, "u1", "assign_new")
	assert.Contains(t, reply.Text, "New folder")

	// Creating the folder mid-assignment resumes the assignment.
	reply = say(e, "u1", "Fresh")
	assert.Contains(t, reply.Text, "moved to \"Fresh\"")

	folders, err := store.ListFolders(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "Fresh", folders[0].Name)
}

func TestDuplicateFolderNameReprompts(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	press(e, "u1", "create_folder")
	say(e, "u1", "Work")

	press(e, "u1", "create_folder")
	reply := say(e, "u1", "Work")
	assert.Contains(t, reply.Text, "already exists")

	// The flow is still open for another name.
	reply = say(e, "u1", "Work 2")
	assert.Contains(t, reply.Text, "\"Work 2\" was created")
}

func TestDeleteFolderKeepsLinks(t *testing.T) {
	e, store, _, _ := newTestEngine(t)

	press(e, "u1", "create_folder")
	say(e, "u1", "Temp")
	press(e, "u1", "add_single")
	say(e, "u1", "https://example.com")
	press(e, "u1", "enter_title")
	reply := say(e, "u1", "Example")
	press(e, "u1", findAction(reply, "tofolder:"))
	reply = press(e, "u1", findAction(reply, "assign:"))
	_ = reply

	folders, err := store.ListFolders(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, folders, 1)

	reply = press(e, "u1", "confirm_del_folder:"+folders[0].ID)
	assert.Contains(t, reply.Text, "Delete the folder \"Temp\"?")

	reply = press(e, "u1", findAction(reply, "do_del_folder:"))
	assert.Contains(t, reply.Text, "deleted")

	folders, err = store.ListFolders(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, folders)

	unfiled, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{OnlyUnfiled: true})
	require.NoError(t, err)
	require.Len(t, unfiled, 1)
	assert.Equal(t, "Example", unfiled[0].Title)
}

func TestStaleDeleteConfirmation(t *testing.T) {
	storeMock := &mockstorage.StorageMock{}
	storeMock.
		On("GetLink", mock.Anything, "u1", "gone").
		Return(nil, models.ErrNotFound)

	e := New(storeMock, &fakeShortener{}, &fakeStats{})
	reply := press(e, "u1", "do_delete:gone")

	assert.Contains(t, reply.Text, "no longer there")
	assert.NotEmpty(t, findAction(reply, "menu_links"))
	storeMock.AssertNotCalled(t, "DeleteLink", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteLinkInvalidatesStats(t *testing.T) {
	e, store, _, stats := newTestEngine(t)

	press(e, "u1", "add_single")
	say(e, "u1", "https://example.com")
	press(e, "u1", "enter_title")
	say(e, "u1", "Example")

	links, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{})
	require.NoError(t, err)
	require.Len(t, links, 1)

	reply := press(e, "u1", "delete:"+links[0].ID)
	assert.Contains(t, reply.Text, "Delete the link?")

	reply = press(e, "u1", "do_delete:"+links[0].ID)
	assert.Contains(t, reply.Text, "deleted")

	remaining, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{})
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// Once on add, once on delete.
	assert.Equal(t, []string{"c0001", "c0001"}, stats.invalidated)
}

func TestClearAllRequiresConfirmation(t *testing.T) {
	e, store, _, stats := newTestEngine(t)

	press(e, "u1", "add_single")
	say(e, "u1", "https://example.com")
	press(e, "u1", "enter_title")
	say(e, "u1", "Example")
	press(e, "u1", "create_folder")
	say(e, "u1", "Work")

	reply := press(e, "u1", "clear_all")
	assert.Contains(t, reply.Text, "Careful")

	// Backing out keeps everything.
	press(e, "u1", "menu")
	links, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{})
	require.NoError(t, err)
	assert.Len(t, links, 1)

	press(e, "u1", "clear_all")
	reply = press(e, "u1", "confirm_clear_all")
	assert.Contains(t, reply.Text, "Everything was removed")

	links, err = store.ListLinks(context.Background(), "u1", models.FolderFilter{})
	require.NoError(t, err)
	assert.Empty(t, links)
	folders, err := store.ListFolders(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, folders)
	assert.Contains(t, stats.invalidated, "c0001")
}

func TestLinkStatsRendering(t *testing.T) {
	e, store, _, stats := newTestEngine(t)

	press(e, "u1", "add_single")
	say(e, "u1", "https://example.com")
	press(e, "u1", "enter_title")
	say(e, "u1", "Example")

	stats.results["c0001"] = models.StatsResult{
		Views:  42,
		Cities: map[int]int{1: 30, 2: 12},
	}

	links, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{})
	require.NoError(t, err)
	require.Len(t, links, 1)

	reply := press(e, "u1", "stats:"+links[0].ID)
	assert.Contains(t, reply.Text, "Statistics for \"Example\"")
	assert.Contains(t, reply.Text, "42")
	// No city namer installed, placeholders render instead.
	assert.Contains(t, reply.Text, "city #1")
	assert.Contains(t, reply.Text, "city #2")
}

func TestScopeStatsSumsAllLinks(t *testing.T) {
	e, store, _, stats := newTestEngine(t)

	for _, u := range []string{"https://a.example.com", "https://b.example.com"} {
		press(e, "u1", "add_single")
		say(e, "u1", u)
		press(e, "u1", "enter_title")
		say(e, "u1", "Link for "+u[8:9])
	}
	stats.results["c0001"] = models.StatsResult{Views: 10}
	stats.results["c0002"] = models.StatsResult{Views: 5}

	reply := press(e, "u1", "stats_all")
	assert.Contains(t, reply.Text, "Total views: <b>15</b>")

	_ = store
}

func TestDateRangeStats(t *testing.T) {
	e, _, _, stats := newTestEngine(t)

	press(e, "u1", "add_single")
	say(e, "u1", "https://example.com")
	press(e, "u1", "enter_title")
	say(e, "u1", "Example")

	reply := press(e, "u1", "stats_range")
	assert.Contains(t, reply.Text, "YYYY-MM-DD")

	// Malformed input re-prompts.
	reply = say(e, "u1", "2024-01-31 2024-01-01")
	assert.Contains(t, reply.Text, "Invalid dates")

	reply = say(e, "u1", "2024-01-01 2024-01-31")
	assert.Contains(t, reply.Text, "2024-01-01 — 2024-01-31")

	stats.mu.Lock()
	defer stats.mu.Unlock()
	require.NotEmpty(t, stats.ranges)
	last := stats.ranges[len(stats.ranges)-1]
	assert.Equal(t, "2024-01-01", last.From.Format("2006-01-02"))
	assert.Equal(t, "2024-01-31", last.To.Format("2006-01-02"))
}

func TestMultiSelectAssignment(t *testing.T) {
	e, store, _, _ := newTestEngine(t)

	press(e, "u1", "create_folder")
	say(e, "u1", "Batch")
	for _, u := range []string{"https://a.example.com", "https://b.example.com"} {
		press(e, "u1", "add_single")
		say(e, "u1", u)
		press(e, "u1", "enter_title")
		say(e, "u1", "Item")
	}

	links, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{})
	require.NoError(t, err)
	require.Len(t, links, 2)

	reply := press(e, "u1", "choose_links")
	assert.Contains(t, reply.Text, "Pick links")

	press(e, "u1", "toggle:"+links[0].ID)
	reply = press(e, "u1", "toggle:"+links[1].ID)
	assert.Contains(t, reply.Keyboard[0][0].Label, "[x]")

	reply = press(e, "u1", "done_select")
	assignAction := findAction(reply, "assign:")
	require.NotEmpty(t, assignAction)

	reply = press(e, "u1", assignAction)
	assert.Contains(t, reply.Text, "2 link(s) moved")

	folders, err := store.ListFolders(context.Background(), "u1")
	require.NoError(t, err)
	filed, err := store.ListLinks(context.Background(), "u1", models.FolderFilter{FolderID: folders[0].ID})
	require.NoError(t, err)
	assert.Len(t, filed, 2)
}

func TestNewFlowEntryClearsPreviousFlow(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	press(e, "u1", "add_single")
	say(e, "u1", "https://example.com")

	// Entering another flow abandons the pending add.
	press(e, "u1", "add_bulk")
	reply := press(e, "u1", "use_suggested_title")
	assert.Contains(t, reply.Text, "no longer there")
}

func TestUnhandledStorageFailureResetsToIdle(t *testing.T) {
	storeMock := &mockstorage.StorageMock{}
	storeMock.
		On("ListLinks", mock.Anything, "u1", mock.Anything).
		Return(nil, fmt.Errorf("disk on fire"))

	e := New(storeMock, &fakeShortener{}, &fakeStats{})
	reply := press(e, "u1", "my_links")

	assert.Contains(t, reply.Text, "Something went wrong")
	assert.NotEmpty(t, findAction(reply, "menu_links"))
}
