package engine

import "sync"

type flowState int

const (
	stateIdle flowState = iota
	stateAwaitingURL
	stateAwaitingTitleChoice
	stateAwaitingTitle
	stateAwaitingBulkURLs
	stateAwaitingBulkTitleChoice
	stateAwaitingBulkTitles
	stateAwaitingFolderChoice
	stateAwaitingFolderName
	stateAwaitingRename
	stateAwaitingDeleteConfirm
	stateAwaitingFolderDeleteConfirm
	stateAwaitingClearAllConfirm
	stateAwaitingDateRange
	stateSelectingLinks
)

// pendingAdd carries the single-add flow between the URL and title steps.
type pendingAdd struct {
	originalURL    string
	shortURL       string
	suggestedTitle string
}

type bulkItem struct {
	linkID      string
	title       string
	shortURL    string
	originalURL string
}

type bulkFailure struct {
	originalURL string
	reason      string
}

// bulkOp is the bulk-add accumulator. cursor indexes urls during the
// manual-title sub-flow and only advances on valid input.
type bulkOp struct {
	urls      []string
	cursor    int
	succeeded []bulkItem
	failed    []bulkFailure
}

// assignment is the shared folder-assignment target: the durable ids of
// the links awaiting a folder choice.
type assignment struct {
	linkIDs []string
}

type renameOp struct {
	linkID string
}

type deleteOp struct {
	linkID string
}

type folderDeleteOp struct {
	folderID string
}

// selectOp tracks the multi-select sub-flow: durable link ids toggled on
// by the user before a folder assignment.
type selectOp struct {
	selected map[string]bool
}

// session is the per-user conversation state: the flow-state tag plus one
// bag per flow. Only the bag of the active flow is non-nil, so an
// abandoned flow can never leak data into a later one.
type session struct {
	mu sync.Mutex

	state flowState

	add       *pendingAdd
	bulk      *bulkOp
	assign    *assignment
	rename    *renameOp
	del       *deleteOp
	folderDel *folderDeleteOp
	sel       *selectOp
}

// reset returns the session to idle and drops every bag. Called on
// cancel, completion, unrecoverable error and at every flow entry point.
func (s *session) reset() {
	s.state = stateIdle
	s.add = nil
	s.bulk = nil
	s.assign = nil
	s.rename = nil
	s.del = nil
	s.folderDel = nil
	s.sel = nil
}

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: map[string]*session{}}
}

// get returns the user's session, creating it on first interaction.
func (r *sessionRegistry) get(userID string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		s = &session{state: stateIdle}
		r.sessions[userID] = s
	}

	return s
}
