package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/patric-chuzhbe/vkccbot/internal/models"
)

// promptFolderAssign opens the shared folder-assignment sub-flow used by
// every "put link(s) into a folder" path: existing folders, an inline
// "create new folder" option that resumes the pending assignment, and a
// skip option.
func (e *Engine) promptFolderAssign(
	ctx context.Context,
	s *session,
	userID string,
	linkIDs []string,
	text string,
) (Reply, error) {
	folders, err := e.store.ListFolders(ctx, userID)
	if err != nil {
		return Reply{}, err
	}

	s.reset()
	s.assign = &assignment{linkIDs: linkIDs}
	s.state = stateAwaitingFolderChoice

	var rows [][]Button
	for _, folder := range folders {
		rows = append(rows, []Button{{Label: folder.Name, Action: "assign:" + folder.ID}})
	}
	rows = append(rows,
		[]Button{{Label: "Create a new folder", Action: "assign_new"}},
		[]Button{{Label: "Skip", Action: "assign_skip"}},
	)

	return Reply{Text: text, Keyboard: rows}, nil
}

// handleAssign commits a pending assignment. The folder is re-validated
// first: it can be deleted between prompt and tap. Assignment is
// idempotent; links that disappeared in the meantime are skipped.
func (e *Engine) handleAssign(ctx context.Context, s *session, userID, folderID string) (Reply, error) {
	if s.assign == nil {
		return e.staleReply(s), nil
	}

	folder, err := e.store.GetFolder(ctx, userID, folderID)
	if err != nil {
		return Reply{}, err
	}

	moved := 0
	for _, linkID := range s.assign.linkIDs {
		err := e.store.MoveLink(ctx, userID, linkID, folderID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return Reply{}, err
		}
		moved++
	}
	s.reset()

	links, err := e.store.ListLinks(ctx, userID, models.FolderFilter{FolderID: folderID})
	if err != nil {
		return Reply{}, err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "<b>%d link(s) moved to \"%s\"</b>\n\n", moved, folder.Name)
	if len(links) == 0 {
		text.WriteString("The folder is empty.")
	}
	for _, link := range links {
		fmt.Fprintf(&text, "%s → %s\n", link.Title, link.ShortURL)
	}

	return Reply{
		Text: text.String(),
		Keyboard: [][]Button{
			{{Label: "Folders", Action: "menu_folders"}},
			{{Label: "Main menu", Action: "menu"}},
		},
	}, nil
}

// handleFolderNameInput serves both explicit folder creation and the
// inline "create new folder" branch of an assignment; in the latter case
// the pending assignment resumes against the new folder.
func (e *Engine) handleFolderNameInput(ctx context.Context, s *session, userID, text string) (Reply, error) {
	name := SanitizeTitle(text)
	if name == "" {
		return withCancel(
			"<b>Invalid folder name</b>\n\n" +
				"The name must be 1 to 100 characters after cleanup. Try again:",
		), nil
	}

	folder, err := e.store.CreateFolder(ctx, userID, name)
	if errors.Is(err, models.ErrDuplicate) {
		return withCancel("<b>The folder already exists</b>\n\nSend another name:"), nil
	}
	if err != nil {
		return Reply{}, err
	}

	if s.assign != nil {
		return e.handleAssign(ctx, s, userID, folder.ID)
	}
	s.reset()

	return Reply{
		Text:     fmt.Sprintf("The folder \"%s\" was created. What next?", name),
		Keyboard: e.foldersMenu().Keyboard,
	}, nil
}

func (e *Engine) handleShowFolders(ctx context.Context, userID string) (Reply, error) {
	folders, err := e.store.ListFolders(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	if len(folders) == 0 {
		return Reply{
			Text:     "<b>No folders yet</b>\n\nCreate one to organize your links.",
			Keyboard: e.foldersMenu().Keyboard,
		}, nil
	}

	var rows [][]Button
	for _, folder := range folders {
		rows = append(rows, []Button{{Label: folder.Name, Action: "view_folder:" + folder.ID}})
	}
	rows = append(rows, []Button{{Label: "Main menu", Action: "menu"}})

	return Reply{
		Text:     "<b>Your folders</b>\n\nTap a folder to see its links:",
		Keyboard: rows,
	}, nil
}

func (e *Engine) handleViewFolder(ctx context.Context, userID, folderID string) (Reply, error) {
	folder, err := e.store.GetFolder(ctx, userID, folderID)
	if err != nil {
		return Reply{}, err
	}
	links, err := e.store.ListLinks(ctx, userID, models.FolderFilter{FolderID: folderID})
	if err != nil {
		return Reply{}, err
	}

	var rows [][]Button
	for _, link := range links {
		rows = append(rows, []Button{{Label: link.Title, Action: "link:" + link.ID}})
	}
	rows = append(rows, []Button{
		{Label: "Back", Action: "show_folders"},
		{Label: "Main menu", Action: "menu"},
	})

	text := fmt.Sprintf("<b>Folder \"%s\"</b>\n\n", folder.Name)
	if len(links) == 0 {
		text += "The folder is empty."
	} else {
		text += "Tap a link for actions:"
	}

	return Reply{Text: text, Keyboard: rows}, nil
}

func (e *Engine) handleDeleteFolderList(ctx context.Context, userID string) (Reply, error) {
	folders, err := e.store.ListFolders(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	if len(folders) == 0 {
		return Reply{
			Text:     "<b>No folders yet</b>\n\nNothing to delete.",
			Keyboard: e.foldersMenu().Keyboard,
		}, nil
	}

	var rows [][]Button
	for _, folder := range folders {
		rows = append(rows, []Button{{Label: folder.Name, Action: "confirm_del_folder:" + folder.ID}})
	}
	rows = append(rows, []Button{{Label: "Cancel", Action: "menu_folders"}})

	return Reply{
		Text:     "<b>Delete a folder</b>\n\nTap a folder to delete. Its links are kept:",
		Keyboard: rows,
	}, nil
}

func (e *Engine) handleFolderDeletePrompt(ctx context.Context, s *session, userID, folderID string) (Reply, error) {
	folder, err := e.store.GetFolder(ctx, userID, folderID)
	if err != nil {
		return Reply{}, err
	}

	s.reset()
	s.folderDel = &folderDeleteOp{folderID: folderID}
	s.state = stateAwaitingFolderDeleteConfirm

	return Reply{
		Text: fmt.Sprintf(
			"<b>Delete the folder \"%s\"?</b>\n\n"+
				"The links inside stay and become unfiled.\n\nConfirm the action:",
			folder.Name,
		),
		Keyboard: [][]Button{
			{{Label: "Delete the folder", Action: "do_del_folder:" + folderID}},
			{{Label: "Cancel", Action: "menu_folders"}},
		},
	}, nil
}

func (e *Engine) handleFolderDeleteConfirmed(ctx context.Context, s *session, userID, folderID string) (Reply, error) {
	// Re-validate before deleting: stale confirmations must report, not
	// crash or delete twice.
	if _, err := e.store.GetFolder(ctx, userID, folderID); err != nil {
		return Reply{}, err
	}

	if err := e.store.DeleteFolder(ctx, userID, folderID); err != nil {
		return Reply{}, err
	}
	s.reset()

	return e.withMainMenu("The folder was deleted, its links are kept. What next?"), nil
}
