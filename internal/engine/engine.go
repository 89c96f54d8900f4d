// Package engine implements the per-user conversational state machine:
// it maps (current state, inbound event) to record-store side effects,
// the next state and a rendering instruction for the chat gateway.
//
// Flows: single add, bulk add, rename, delete, move to folder, folder
// management, clear-all and view statistics (overall, per link, per
// folder, over a date range). Every flow entry point clears previously
// active state, so partial flows never stack.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/patric-chuzhbe/vkccbot/internal/logger"
	"github.com/patric-chuzhbe/vkccbot/internal/models"
)

type recordStore interface {
	AddLink(ctx context.Context, link *models.Link) (string, error)
	GetLink(ctx context.Context, ownerID, linkID string) (*models.Link, error)
	RenameLink(ctx context.Context, ownerID, linkID, title string) error
	DeleteLink(ctx context.Context, ownerID, linkID string) error
	MoveLink(ctx context.Context, ownerID, linkID, folderID string) error
	ListLinks(ctx context.Context, ownerID string, filter models.FolderFilter) ([]models.Link, error)
	CreateFolder(ctx context.Context, ownerID, name string) (*models.Folder, error)
	GetFolder(ctx context.Context, ownerID, folderID string) (*models.Folder, error)
	ListFolders(ctx context.Context, ownerID string) ([]models.Folder, error)
	DeleteFolder(ctx context.Context, ownerID, folderID string) error
	ClearAll(ctx context.Context, ownerID string) ([]string, error)
}

type linkShortener interface {
	Shorten(ctx context.Context, originalURL string) (string, error)
}

type statsKeeper interface {
	Get(ctx context.Context, shortCode string, dateRange models.DateRange) (models.StatsResult, error)
	Invalidate(shortCode string)
}

type cityNamer interface {
	FetchCityNames(ctx context.Context, ids []int) (map[int]string, error)
}

type titleSuggester interface {
	Fetch(ctx context.Context, pageURL string) string
}

// busyIndicator shows a short "loading" notice around remote calls. The
// returned func removes the notice and must run on every exit path.
type busyIndicator interface {
	Show(ctx context.Context, userID, text string) func()
}

// Engine drives every user conversation. Safe for concurrent use;
// events of one user are serialized on the user's session.
type Engine struct {
	store    recordStore
	shorten  linkShortener
	stats    statsKeeper
	cities   cityNamer
	titles   titleSuggester
	busy     busyIndicator
	sessions *sessionRegistry
}

// Option customizes the Engine.
type Option func(*Engine)

// WithBusyIndicator installs the loading-notice hook.
func WithBusyIndicator(busy busyIndicator) Option {
	return func(e *Engine) {
		e.busy = busy
	}
}

// WithTitleSuggester installs the best-effort page title lookup.
func WithTitleSuggester(titles titleSuggester) Option {
	return func(e *Engine) {
		e.titles = titles
	}
}

// WithCityNamer installs the city-id resolution used in per-link stats.
func WithCityNamer(cities cityNamer) Option {
	return func(e *Engine) {
		e.cities = cities
	}
}

// New assembles an Engine around its collaborators.
func New(
	store recordStore,
	shorten linkShortener,
	stats statsKeeper,
	optionsProto ...Option,
) *Engine {
	e := &Engine{
		store:    store,
		shorten:  shorten,
		stats:    stats,
		sessions: newSessionRegistry(),
	}
	for _, protoOption := range optionsProto {
		protoOption(e)
	}

	return e
}

// HandleEvent processes one inbound event and always produces a reply:
// any unhandled failure is logged, rendered as a short error line over
// the main menu, and resets the conversation to idle.
func (e *Engine) HandleEvent(ctx context.Context, event Event) Reply {
	s := e.sessions.get(event.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()

	reply, err := func() (reply Reply, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic in event handler: %v", p)
			}
		}()

		return e.dispatch(ctx, s, event)
	}()
	if err == nil {
		return reply
	}

	if errors.Is(err, models.ErrNotFound) {
		s.reset()
		return e.withMainMenu("That item is no longer there. Pick something else:")
	}

	logger.Log.Errorw(
		"event handling failed",
		"userID", event.UserID,
		"kind", event.Kind,
		"err", err,
	)
	s.reset()

	return e.withMainMenu("Something went wrong, the operation was not applied. Try again:")
}

func (e *Engine) dispatch(ctx context.Context, s *session, event Event) (Reply, error) {
	switch event.Kind {
	case EventCommand:
		return e.handleCommand(s, event)
	case EventButton:
		return e.handleButton(ctx, s, event)
	case EventText:
		return e.handleText(ctx, s, event)
	}

	return e.withMainMenu("I did not understand that. Pick an action:"), nil
}

func (e *Engine) handleCommand(s *session, event Event) (Reply, error) {
	switch event.Payload {
	case "start":
		s.reset()
		return e.withMainMenu(
			"<b>Welcome!</b>\n\n" +
				"I shorten links through VK, organize them into folders " +
				"and track view statistics.\n\nPick an action below:",
		), nil
	case "cancel":
		s.reset()
		return e.withMainMenu("Action canceled. What next?"), nil
	}

	s.reset()

	return e.withMainMenu("Unknown command. Pick an action:"), nil
}

func (e *Engine) handleButton(ctx context.Context, s *session, event Event) (Reply, error) {
	action, payload, _ := strings.Cut(event.Payload, ":")

	switch action {
	case "menu":
		s.reset()
		return e.withMainMenu("<b>Main menu</b>\n\nPick an action:"), nil
	case "cancel":
		s.reset()
		return e.withMainMenu("Action canceled. What next?"), nil
	case "menu_links":
		s.reset()
		return e.linksMenu(), nil
	case "menu_folders":
		s.reset()
		return e.foldersMenu(), nil
	case "menu_stats":
		s.reset()
		return e.statsMenu(), nil

	case "clear_all":
		s.reset()
		s.state = stateAwaitingClearAllConfirm
		return Reply{
			Text: "<b>Careful!</b>\n\nThis removes every link and folder you have. " +
				"It cannot be undone. Continue?",
			Keyboard: [][]Button{
				{{Label: "Yes, delete everything", Action: "confirm_clear_all"}},
				{{Label: "Cancel", Action: "menu"}},
			},
		}, nil
	case "confirm_clear_all":
		return e.handleClearAll(ctx, s, event.UserID)

	case "add_single":
		s.reset()
		s.state = stateAwaitingURL
		return withCancel(
			"<b>Add a link</b>\n\nSend a URL (for example, https://example.com). " +
				"I will shorten it and suggest a title.",
		), nil
	case "add_bulk":
		s.reset()
		s.state = stateAwaitingBulkURLs
		return withCancel(
			"<b>Add several links</b>\n\nSend a list of URLs, one per line:\n" +
				"https://example.com\nhttps://example.org",
		), nil
	case "use_suggested_title":
		return e.handleUseSuggestedTitle(ctx, s, event.UserID)
	case "enter_title":
		if s.add == nil {
			return e.staleReply(s), nil
		}
		s.state = stateAwaitingTitle
		return withCancel("<b>Your own title</b>\n\nSend a title for the link (up to 100 characters):"), nil

	case "bulk_use_url":
		return e.handleBulkUseURL(ctx, s, event.UserID)
	case "bulk_enter_titles":
		return e.handleBulkEnterTitles(s)

	case "my_links":
		s.reset()
		return e.handleMyLinks(ctx, s, event.UserID)
	case "link":
		s.reset()
		return e.handleLinkCard(ctx, event.UserID, payload)
	case "stats":
		s.reset()
		return e.handleLinkStats(ctx, event.UserID, payload)
	case "rename":
		return e.handleRenamePrompt(ctx, s, event.UserID, payload)
	case "delete":
		return e.handleDeletePrompt(ctx, s, event.UserID, payload)
	case "do_delete":
		return e.handleDeleteConfirmed(ctx, s, event.UserID, payload)
	case "tofolder":
		return e.handleMoveToFolder(ctx, s, event.UserID, payload)

	case "choose_links":
		return e.handleChooseLinks(ctx, s, event.UserID)
	case "toggle":
		return e.handleToggleLink(ctx, s, event.UserID, payload)
	case "done_select":
		return e.handleDoneSelect(ctx, s, event.UserID)

	case "assign":
		return e.handleAssign(ctx, s, event.UserID, payload)
	case "assign_skip":
		s.reset()
		return e.withMainMenu("Saved without a folder. What next?"), nil
	case "assign_new":
		if s.assign == nil {
			return e.staleReply(s), nil
		}
		s.state = stateAwaitingFolderName
		return withCancel("<b>New folder</b>\n\nSend a folder name (up to 100 characters):"), nil

	case "create_folder":
		s.reset()
		s.state = stateAwaitingFolderName
		return withCancel("<b>New folder</b>\n\nSend a folder name (up to 100 characters):"), nil
	case "show_folders":
		s.reset()
		return e.handleShowFolders(ctx, event.UserID)
	case "view_folder":
		s.reset()
		return e.handleViewFolder(ctx, event.UserID, payload)
	case "del_folder":
		s.reset()
		return e.handleDeleteFolderList(ctx, event.UserID)
	case "confirm_del_folder":
		return e.handleFolderDeletePrompt(ctx, s, event.UserID, payload)
	case "do_del_folder":
		return e.handleFolderDeleteConfirmed(ctx, s, event.UserID, payload)

	case "stats_all":
		s.reset()
		return e.handleScopeStats(ctx, event.UserID, "", models.DateRange{})
	case "stats_folders":
		s.reset()
		return e.handleStatsFolderList(ctx, event.UserID)
	case "stats_folder":
		s.reset()
		return e.handleScopeStats(ctx, event.UserID, payload, models.DateRange{})
	case "stats_range":
		s.reset()
		s.state = stateAwaitingDateRange
		return withCancel(
			"<b>Statistics for a period</b>\n\nSend two dates as " +
				"<b>YYYY-MM-DD YYYY-MM-DD</b> (start and end):",
		), nil
	}

	logger.Log.Debugw("unknown action", "action", action)

	return e.staleReply(s), nil
}

func (e *Engine) handleText(ctx context.Context, s *session, event Event) (Reply, error) {
	text := strings.TrimSpace(event.Payload)

	switch s.state {
	case stateAwaitingURL:
		return e.handleURLInput(ctx, s, event.UserID, text)
	case stateAwaitingTitle:
		return e.handleTitleInput(ctx, s, event.UserID, text)
	case stateAwaitingBulkURLs:
		return e.handleBulkURLsInput(s, text)
	case stateAwaitingBulkTitles:
		return e.handleBulkTitleInput(ctx, s, event.UserID, text)
	case stateAwaitingFolderName:
		return e.handleFolderNameInput(ctx, s, event.UserID, text)
	case stateAwaitingRename:
		return e.handleRenameInput(ctx, s, event.UserID, text)
	case stateAwaitingDateRange:
		return e.handleDateRangeInput(ctx, s, event.UserID, text)
	}

	return e.withMainMenu("Pick an action from the menu:"), nil
}

// showBusy surfaces a loading notice; the returned func removes it and is
// safe to defer even when no indicator is installed.
func (e *Engine) showBusy(ctx context.Context, userID, text string) func() {
	if e.busy == nil {
		return func() {}
	}

	return e.busy.Show(ctx, userID, text)
}

func (e *Engine) staleReply(s *session) Reply {
	s.reset()

	return e.withMainMenu("That item is no longer there. Pick something else:")
}

func (e *Engine) withMainMenu(text string) Reply {
	return Reply{
		Text: text,
		Keyboard: [][]Button{
			{{Label: "Links", Action: "menu_links"}, {Label: "Folders", Action: "menu_folders"}},
			{{Label: "Statistics", Action: "menu_stats"}, {Label: "Clear everything", Action: "clear_all"}},
		},
	}
}

func (e *Engine) linksMenu() Reply {
	return Reply{
		Text: "<b>Link management</b>\n\nPick an action:",
		Keyboard: [][]Button{
			{{Label: "Add a link", Action: "add_single"}},
			{{Label: "Add several links", Action: "add_bulk"}},
			{{Label: "My links", Action: "my_links"}},
			{{Label: "Main menu", Action: "menu"}},
		},
	}
}

func (e *Engine) foldersMenu() Reply {
	return Reply{
		Text: "<b>Folder management</b>\n\nPick an action:",
		Keyboard: [][]Button{
			{{Label: "Create a folder", Action: "create_folder"}},
			{{Label: "My folders", Action: "show_folders"}},
			{{Label: "Delete a folder", Action: "del_folder"}},
			{{Label: "Main menu", Action: "menu"}},
		},
	}
}

func (e *Engine) statsMenu() Reply {
	return Reply{
		Text: "<b>View statistics</b>\n\nPick an action:",
		Keyboard: [][]Button{
			{{Label: "All links", Action: "stats_all"}},
			{{Label: "By folder", Action: "stats_folders"}},
			{{Label: "For a period", Action: "stats_range"}},
			{{Label: "Main menu", Action: "menu"}},
		},
	}
}

func withCancel(text string) Reply {
	return Reply{
		Text:     text,
		Keyboard: [][]Button{{{Label: "Cancel", Action: "cancel"}}},
	}
}

func (e *Engine) handleClearAll(ctx context.Context, s *session, userID string) (Reply, error) {
	shortCodes, err := e.store.ClearAll(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	for _, code := range shortCodes {
		e.stats.Invalidate(code)
	}
	s.reset()

	return e.withMainMenu("Everything was removed. What next?"), nil
}
