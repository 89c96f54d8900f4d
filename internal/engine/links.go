package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/patric-chuzhbe/vkccbot/internal/models"
	"github.com/patric-chuzhbe/vkccbot/internal/shortener"
	"github.com/patric-chuzhbe/vkccbot/internal/urlcheck"
)

const badURLPrompt = "<b>Invalid URL</b>\n\n" +
	"Send a link starting with http:// or https://, for example:\n" +
	"https://example.com\n\nTry again or press Cancel:"

const badTitlePrompt = "<b>Invalid title</b>\n\n" +
	"The title must be 1 to 100 characters after cleanup. Try again:"

// shortenFailureReason renders a remote failure as one short user-facing
// line.
func shortenFailureReason(err error) string {
	switch {
	case errors.Is(err, shortener.ErrInvalidURL):
		return "the service rejected the URL, check the link"
	case errors.Is(err, shortener.ErrInvalidToken):
		return "the service credential is invalid, contact the administrator"
	}

	return "the shortening service is unavailable right now"
}

// fallbackTitle derives a title from the URL when no suggestion exists:
// the first 50 characters, sanitized.
func fallbackTitle(originalURL string) string {
	runes := []rune(originalURL)
	if len(runes) > 50 {
		runes = runes[:50]
	}

	return SanitizeTitle(string(runes))
}

func (e *Engine) suggestTitle(ctx context.Context, pageURL string) string {
	if e.titles == nil {
		return ""
	}

	return SanitizeTitle(e.titles.Fetch(ctx, pageURL))
}

func (e *Engine) handleURLInput(ctx context.Context, s *session, userID, text string) (Reply, error) {
	if !urlcheck.IsValid(text) {
		return withCancel(badURLPrompt), nil
	}

	clearBusy := e.showBusy(ctx, userID, "Shortening the link...")
	defer clearBusy()

	shortURL, err := e.shorten.Shorten(ctx, text)
	if err != nil {
		return withCancel(fmt.Sprintf(
			"<b>Could not shorten the link</b>\n\nReason: %s.\n\nTry another link:",
			shortenFailureReason(err),
		)), nil
	}
	suggested := e.suggestTitle(ctx, text)

	s.reset()
	s.add = &pendingAdd{
		originalURL:    text,
		shortURL:       shortURL,
		suggestedTitle: suggested,
	}
	s.state = stateAwaitingTitleChoice

	var rows [][]Button
	if suggested != "" {
		rows = append(rows, []Button{{Label: "Use this title", Action: "use_suggested_title"}})
	}
	rows = append(rows,
		[]Button{{Label: "Enter my own title", Action: "enter_title"}},
		[]Button{{Label: "Cancel", Action: "cancel"}},
	)

	title := suggested
	if title == "" {
		title = "no title"
	}

	return Reply{
		Text: fmt.Sprintf(
			"<b>Link shortened!</b>\n\nOriginal: %s\nShort: %s\nTitle: \"%s\"\n\nPick an action:",
			text, shortURL, title,
		),
		Keyboard: rows,
	}, nil
}

// saveLink persists the pending link and renders the post-add menu. The
// just-added link's durable id travels in the assignment button payload.
func (e *Engine) saveLink(ctx context.Context, s *session, userID, title string) (Reply, error) {
	add := s.add
	link := &models.Link{
		OwnerID:     userID,
		Title:       title,
		ShortURL:    add.shortURL,
		OriginalURL: add.originalURL,
	}
	linkID, err := e.store.AddLink(ctx, link)
	if errors.Is(err, models.ErrDuplicate) {
		s.reset()
		return e.withMainMenu("This link is already saved. What next?"), nil
	}
	if err != nil {
		return Reply{}, err
	}

	// The code may have been deleted and recreated; drop any stale stats.
	e.stats.Invalidate(link.ShortCode())
	s.reset()

	return Reply{
		Text: fmt.Sprintf(
			"<b>Link saved!</b>\n\nTitle: %s\nShort: %s\n\nWhat next?",
			title, add.shortURL,
		),
		Keyboard: [][]Button{
			{{Label: "Add another link", Action: "add_single"}},
			{{Label: "My links", Action: "my_links"}},
			{{Label: "Move to a folder", Action: "tofolder:" + linkID}},
			{{Label: "Main menu", Action: "menu"}},
		},
	}, nil
}

func (e *Engine) handleUseSuggestedTitle(ctx context.Context, s *session, userID string) (Reply, error) {
	if s.add == nil {
		return e.staleReply(s), nil
	}

	title := s.add.suggestedTitle
	if title == "" {
		title = fallbackTitle(s.add.originalURL)
	}
	if title == "" {
		s.state = stateAwaitingTitle
		return withCancel(badTitlePrompt), nil
	}

	return e.saveLink(ctx, s, userID, title)
}

func (e *Engine) handleTitleInput(ctx context.Context, s *session, userID, text string) (Reply, error) {
	if s.add == nil {
		return e.staleReply(s), nil
	}

	title := SanitizeTitle(text)
	if title == "" {
		return withCancel(badTitlePrompt), nil
	}

	return e.saveLink(ctx, s, userID, title)
}

func (e *Engine) handleBulkURLsInput(s *session, text string) (Reply, error) {
	var valid []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && urlcheck.IsValid(line) {
			valid = append(valid, line)
		}
	}
	if len(valid) == 0 {
		return withCancel(
			"<b>No valid links found</b>\n\n" +
				"Make sure every link starts with http:// or https://. Try again:",
		), nil
	}

	s.reset()
	s.bulk = &bulkOp{urls: valid}
	s.state = stateAwaitingBulkTitleChoice

	return Reply{
		Text: fmt.Sprintf("<b>Found %d valid links</b>\n\nHow should they be titled?", len(valid)),
		Keyboard: [][]Button{
			{{Label: "Enter titles by hand", Action: "bulk_enter_titles"}},
			{{Label: "Use URLs as titles", Action: "bulk_use_url"}},
			{{Label: "Cancel", Action: "cancel"}},
		},
	}, nil
}

// shortenBulkItem shortens and stores one URL from the batch, recording
// the outcome in the accumulator. A per-item failure never aborts the
// batch.
func (e *Engine) shortenBulkItem(ctx context.Context, s *session, userID, originalURL, title string) error {
	shortURL, err := e.shorten.Shorten(ctx, originalURL)
	if err != nil {
		s.bulk.failed = append(s.bulk.failed, bulkFailure{
			originalURL: originalURL,
			reason:      shortenFailureReason(err),
		})
		return nil
	}

	link := &models.Link{
		OwnerID:     userID,
		Title:       title,
		ShortURL:    shortURL,
		OriginalURL: originalURL,
	}
	linkID, err := e.store.AddLink(ctx, link)
	if errors.Is(err, models.ErrDuplicate) {
		s.bulk.failed = append(s.bulk.failed, bulkFailure{
			originalURL: originalURL,
			reason:      "already saved",
		})
		return nil
	}
	if err != nil {
		return err
	}

	e.stats.Invalidate(link.ShortCode())
	s.bulk.succeeded = append(s.bulk.succeeded, bulkItem{
		linkID:      linkID,
		title:       title,
		shortURL:    shortURL,
		originalURL: originalURL,
	})

	return nil
}

// bulkReport renders the terminal batch report and opens the shared
// folder-assignment sub-flow for the stored links.
func (e *Engine) bulkReport(ctx context.Context, s *session, userID string) (Reply, error) {
	bulk := s.bulk

	var report strings.Builder
	fmt.Fprintf(&report, "<b>Links processed: %d</b>\n", len(bulk.succeeded))
	for _, item := range bulk.succeeded {
		fmt.Fprintf(&report, "%s → %s\n", item.title, item.shortURL)
	}
	if len(bulk.failed) > 0 {
		fmt.Fprintf(&report, "\n<b>Failures: %d</b>\n", len(bulk.failed))
		for _, failure := range bulk.failed {
			fmt.Fprintf(&report, "%s: %s\n", failure.originalURL, failure.reason)
		}
	}

	if len(bulk.succeeded) == 0 {
		s.reset()
		return e.withMainMenu(report.String() + "\nWhat next?"), nil
	}

	linkIDs := make([]string, 0, len(bulk.succeeded))
	for _, item := range bulk.succeeded {
		linkIDs = append(linkIDs, item.linkID)
	}

	return e.promptFolderAssign(ctx, s, userID, linkIDs, report.String()+"\n<b>Move the saved links to a folder?</b>")
}

func (e *Engine) handleBulkUseURL(ctx context.Context, s *session, userID string) (Reply, error) {
	if s.bulk == nil {
		return e.staleReply(s), nil
	}

	clearBusy := e.showBusy(ctx, userID, "Processing the links...")
	defer clearBusy()

	// Sequential on purpose: deterministic report order and simple
	// per-item failure accounting.
	for _, originalURL := range s.bulk.urls {
		title := fallbackTitle(originalURL)
		if title == "" {
			title = "Untitled"
		}
		if err := e.shortenBulkItem(ctx, s, userID, originalURL, title); err != nil {
			return Reply{}, err
		}
	}

	return e.bulkReport(ctx, s, userID)
}

func (e *Engine) handleBulkEnterTitles(s *session) (Reply, error) {
	if s.bulk == nil {
		return e.staleReply(s), nil
	}

	s.bulk.cursor = 0
	s.state = stateAwaitingBulkTitles

	return withCancel(fmt.Sprintf(
		"<b>Title for link 1/%d</b>\n\nLink: %s\nSend a title (up to 100 characters):",
		len(s.bulk.urls), s.bulk.urls[0],
	)), nil
}

func (e *Engine) handleBulkTitleInput(ctx context.Context, s *session, userID, text string) (Reply, error) {
	if s.bulk == nil {
		return e.staleReply(s), nil
	}
	bulk := s.bulk
	originalURL := bulk.urls[bulk.cursor]

	title := SanitizeTitle(text)
	if title == "" {
		return withCancel(fmt.Sprintf(
			"<b>Invalid title</b>\n\nThe title must be 1 to 100 characters after cleanup.\nLink: %s\nTry again:",
			originalURL,
		)), nil
	}

	clearBusy := e.showBusy(ctx, userID, "Processing...")
	defer clearBusy()

	if err := e.shortenBulkItem(ctx, s, userID, originalURL, title); err != nil {
		return Reply{}, err
	}

	bulk.cursor++
	if bulk.cursor < len(bulk.urls) {
		return withCancel(fmt.Sprintf(
			"<b>Title for link %d/%d</b>\n\nLink: %s\nSend a title (up to 100 characters):",
			bulk.cursor+1, len(bulk.urls), bulk.urls[bulk.cursor],
		)), nil
	}

	return e.bulkReport(ctx, s, userID)
}

func (e *Engine) handleMyLinks(ctx context.Context, s *session, userID string) (Reply, error) {
	links, err := e.store.ListLinks(ctx, userID, models.FolderFilter{OnlyUnfiled: true})
	if err != nil {
		return Reply{}, err
	}
	if len(links) == 0 {
		return Reply{
			Text:     "<b>No links yet</b>\n\nAdd links through the link menu.",
			Keyboard: e.linksMenu().Keyboard,
		}, nil
	}

	var rows [][]Button
	for _, link := range links {
		rows = append(rows, []Button{{Label: link.Title, Action: "link:" + link.ID}})
	}
	rows = append(rows,
		[]Button{{Label: "Move several to a folder", Action: "choose_links"}},
		[]Button{{Label: "Main menu", Action: "menu"}},
	)

	return Reply{
		Text:     "<b>Your links</b>\n\nTap a link for actions, or pick below:",
		Keyboard: rows,
	}, nil
}

func (e *Engine) handleLinkCard(ctx context.Context, userID, linkID string) (Reply, error) {
	link, err := e.store.GetLink(ctx, userID, linkID)
	if err != nil {
		return Reply{}, err
	}

	backAction := "my_links"
	if link.FolderID != "" {
		backAction = "view_folder:" + link.FolderID
	}

	return Reply{
		Text: fmt.Sprintf(
			"<b>%s</b>\n\nShort: %s\nOriginal: %s\n\nPick an action:",
			link.Title, link.ShortURL, link.OriginalURL,
		),
		Keyboard: [][]Button{
			{{Label: "Statistics", Action: "stats:" + link.ID}},
			{{Label: "Rename", Action: "rename:" + link.ID}},
			{{Label: "Delete", Action: "delete:" + link.ID}},
			{{Label: "Move to a folder", Action: "tofolder:" + link.ID}},
			{{Label: "Back", Action: backAction}, {Label: "Main menu", Action: "menu"}},
		},
	}, nil
}

func (e *Engine) handleRenamePrompt(ctx context.Context, s *session, userID, linkID string) (Reply, error) {
	link, err := e.store.GetLink(ctx, userID, linkID)
	if err != nil {
		return Reply{}, err
	}

	s.reset()
	s.rename = &renameOp{linkID: linkID}
	s.state = stateAwaitingRename

	return withCancel(fmt.Sprintf(
		"<b>Rename the link</b>\n\nCurrent title: %s\nShort: %s\n\nSend a new title (up to 100 characters):",
		link.Title, link.ShortURL,
	)), nil
}

func (e *Engine) handleRenameInput(ctx context.Context, s *session, userID, text string) (Reply, error) {
	if s.rename == nil {
		return e.staleReply(s), nil
	}

	title := SanitizeTitle(text)
	if title == "" {
		return withCancel(badTitlePrompt), nil
	}

	if err := e.store.RenameLink(ctx, userID, s.rename.linkID, title); err != nil {
		return Reply{}, err
	}
	s.reset()

	return e.withMainMenu(fmt.Sprintf("The link was renamed to \"%s\". What next?", title)), nil
}

func (e *Engine) handleDeletePrompt(ctx context.Context, s *session, userID, linkID string) (Reply, error) {
	link, err := e.store.GetLink(ctx, userID, linkID)
	if err != nil {
		return Reply{}, err
	}

	s.reset()
	s.del = &deleteOp{linkID: linkID}
	s.state = stateAwaitingDeleteConfirm

	return Reply{
		Text: fmt.Sprintf(
			"<b>Delete the link?</b>\n\nTitle: %s\nShort: %s\n\nConfirm the action:",
			link.Title, link.ShortURL,
		),
		Keyboard: [][]Button{
			{{Label: "Delete", Action: "do_delete:" + linkID}},
			{{Label: "Cancel", Action: "link:" + linkID}},
		},
	}, nil
}

func (e *Engine) handleDeleteConfirmed(ctx context.Context, s *session, userID, linkID string) (Reply, error) {
	// Re-validate: the record can be gone by the time the confirmation
	// arrives (double submission, stale button).
	link, err := e.store.GetLink(ctx, userID, linkID)
	if err != nil {
		return Reply{}, err
	}

	if err := e.store.DeleteLink(ctx, userID, linkID); err != nil {
		return Reply{}, err
	}
	e.stats.Invalidate(link.ShortCode())
	s.reset()

	return e.withMainMenu("The link was deleted. What next?"), nil
}

func (e *Engine) handleMoveToFolder(ctx context.Context, s *session, userID, linkID string) (Reply, error) {
	link, err := e.store.GetLink(ctx, userID, linkID)
	if err != nil {
		return Reply{}, err
	}

	s.reset()

	return e.promptFolderAssign(ctx, s, userID, []string{link.ID}, fmt.Sprintf(
		"<b>Pick a folder</b>\n\nWhere should \"%s\" go?", link.Title,
	))
}

func (e *Engine) handleChooseLinks(ctx context.Context, s *session, userID string) (Reply, error) {
	s.reset()
	s.sel = &selectOp{selected: map[string]bool{}}
	s.state = stateSelectingLinks

	return e.renderSelection(ctx, s, userID)
}

func (e *Engine) renderSelection(ctx context.Context, s *session, userID string) (Reply, error) {
	links, err := e.store.ListLinks(ctx, userID, models.FolderFilter{})
	if err != nil {
		return Reply{}, err
	}
	if len(links) == 0 {
		s.reset()
		return e.withMainMenu("<b>No links yet</b>\n\nAdd links first."), nil
	}

	var rows [][]Button
	for _, link := range links {
		label := link.Title
		if s.sel.selected[link.ID] {
			label = "[x] " + label
		}
		rows = append(rows, []Button{{Label: label, Action: "toggle:" + link.ID}})
	}
	rows = append(rows,
		[]Button{{Label: "Done", Action: "done_select"}},
		[]Button{{Label: "Cancel", Action: "cancel"}},
	)

	return Reply{
		Text:     "<b>Pick links</b>\n\nTap links to select them, then press Done:",
		Keyboard: rows,
	}, nil
}

func (e *Engine) handleToggleLink(ctx context.Context, s *session, userID, linkID string) (Reply, error) {
	if s.sel == nil {
		return e.staleReply(s), nil
	}

	if s.sel.selected[linkID] {
		delete(s.sel.selected, linkID)
	} else {
		s.sel.selected[linkID] = true
	}

	return e.renderSelection(ctx, s, userID)
}

func (e *Engine) handleDoneSelect(ctx context.Context, s *session, userID string) (Reply, error) {
	if s.sel == nil {
		return e.staleReply(s), nil
	}
	if len(s.sel.selected) == 0 {
		return e.renderSelection(ctx, s, userID)
	}

	linkIDs := make([]string, 0, len(s.sel.selected))
	for linkID := range s.sel.selected {
		linkIDs = append(linkIDs, linkID)
	}
	sort.Strings(linkIDs)

	return e.promptFolderAssign(ctx, s, userID, linkIDs, "<b>Pick a folder</b>\n\nWhere should the selected links go?")
}
