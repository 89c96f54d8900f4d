package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/patric-chuzhbe/vkccbot/internal/models"
)

// handleLinkStats renders views and a per-city breakdown for one link.
// City ids are resolved to names best-effort; unresolved ids keep a
// placeholder name.
func (e *Engine) handleLinkStats(ctx context.Context, userID, linkID string) (Reply, error) {
	link, err := e.store.GetLink(ctx, userID, linkID)
	if err != nil {
		return Reply{}, err
	}

	clearBusy := e.showBusy(ctx, userID, "Fetching statistics…")
	defer clearBusy()

	result, err := e.stats.Get(ctx, link.ShortCode(), models.DateRange{})
	if err != nil {
		return Reply{}, err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "<b>Statistics for \"%s\"</b>\n%s\n\n", link.Title, link.ShortURL)
	fmt.Fprintf(&text, "Views: <b>%d</b>\n", result.Views)
	if len(result.Cities) > 0 {
		text.WriteString("\nBy city:\n")
		text.WriteString(e.renderCities(ctx, result.Cities))
	}

	return Reply{
		Text: text.String(),
		Keyboard: [][]Button{
			{{Label: "Back to the link", Action: "link:" + linkID}},
			{{Label: "Main menu", Action: "menu"}},
		},
	}, nil
}

// handleScopeStats sums statistics over a set of links: all of the
// user's links when folderID is empty, one folder's links otherwise,
// optionally restricted to a date range.
func (e *Engine) handleScopeStats(
	ctx context.Context,
	userID string,
	folderID string,
	dateRange models.DateRange,
) (Reply, error) {
	scope := "all links"
	filter := models.FolderFilter{}
	if folderID != "" {
		folder, err := e.store.GetFolder(ctx, userID, folderID)
		if err != nil {
			return Reply{}, err
		}
		scope = fmt.Sprintf("folder \"%s\"", folder.Name)
		filter.FolderID = folderID
	}

	links, err := e.store.ListLinks(ctx, userID, filter)
	if err != nil {
		return Reply{}, err
	}
	if len(links) == 0 {
		return Reply{
			Text:     fmt.Sprintf("<b>No links in %s</b>\n\nAdd some first.", scope),
			Keyboard: e.statsMenu().Keyboard,
		}, nil
	}

	clearBusy := e.showBusy(ctx, userID, "Fetching statistics…")
	defer clearBusy()

	var total models.StatsResult
	var text strings.Builder
	fmt.Fprintf(&text, "<b>Statistics for %s</b>", scope)
	if !dateRange.IsZero() {
		fmt.Fprintf(
			&text,
			" (%s — %s)",
			dateRange.From.Format("2006-01-02"),
			dateRange.To.Format("2006-01-02"),
		)
	}
	text.WriteString("\n\n")

	for _, link := range links {
		result, err := e.stats.Get(ctx, link.ShortCode(), dateRange)
		if err != nil {
			return Reply{}, err
		}
		total.Merge(result)
		fmt.Fprintf(&text, "%s → %s: <b>%d</b>\n", link.Title, link.ShortURL, result.Views)
	}

	fmt.Fprintf(&text, "\nTotal views: <b>%d</b>\n", total.Views)
	if len(total.Cities) > 0 {
		text.WriteString("\nBy city:\n")
		text.WriteString(e.renderCities(ctx, total.Cities))
	}

	return Reply{
		Text:     text.String(),
		Keyboard: e.statsMenu().Keyboard,
	}, nil
}

func (e *Engine) handleStatsFolderList(ctx context.Context, userID string) (Reply, error) {
	folders, err := e.store.ListFolders(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	if len(folders) == 0 {
		return Reply{
			Text:     "<b>No folders yet</b>\n\nCreate folders to group statistics.",
			Keyboard: e.statsMenu().Keyboard,
		}, nil
	}

	var rows [][]Button
	for _, folder := range folders {
		rows = append(rows, []Button{{Label: folder.Name, Action: "stats_folder:" + folder.ID}})
	}
	rows = append(rows, []Button{{Label: "Back", Action: "menu_stats"}})

	return Reply{
		Text:     "<b>Statistics by folder</b>\n\nPick a folder:",
		Keyboard: rows,
	}, nil
}

func (e *Engine) handleDateRangeInput(ctx context.Context, s *session, userID, text string) (Reply, error) {
	dateRange, err := ParseDateRange(text)
	if err != nil {
		return withCancel(
			"<b>Invalid dates</b>\n\nSend two dates as <b>YYYY-MM-DD YYYY-MM-DD</b>, " +
				"the end date not before the start date. Try again:",
		), nil
	}
	s.reset()

	return e.handleScopeStats(ctx, userID, "", dateRange)
}

// renderCities sorts cities by view count descending and resolves their
// names; failures leave a placeholder in place of a name.
func (e *Engine) renderCities(ctx context.Context, cities map[int]int) string {
	ids := make([]int, 0, len(cities))
	for id := range cities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if cities[ids[i]] != cities[ids[j]] {
			return cities[ids[i]] > cities[ids[j]]
		}
		return ids[i] < ids[j]
	})

	names := map[int]string{}
	if e.cities != nil {
		resolved, err := e.cities.FetchCityNames(ctx, ids)
		if err == nil {
			names = resolved
		}
	}

	var text strings.Builder
	for _, id := range ids {
		name, ok := names[id]
		if !ok || name == "" {
			name = fmt.Sprintf("city #%d", id)
		}
		fmt.Fprintf(&text, "  %s: %d\n", name, cities[id])
	}

	return text.String()
}
