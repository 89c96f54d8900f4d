package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/vkccbot/internal/engine"
	"github.com/patric-chuzhbe/vkccbot/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type recordedRequest struct {
	method string
	body   map[string]any
}

// fakeBotAPI records every Bot API call and serves canned getUpdates
// batches, then empty batches.
type fakeBotAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	batches  [][]Update
	server   *httptest.Server
}

func newFakeBotAPI(batches ...[]Update) *fakeBotAPI {
	api := &fakeBotAPI{batches: batches}
	api.server = httptest.NewServer(http.HandlerFunc(api.handle))

	return api
}

func (a *fakeBotAPI) handle(res http.ResponseWriter, req *http.Request) {
	raw, _ := io.ReadAll(req.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	a.mu.Lock()
	method := req.URL.Path[len("/bottest-token/"):]
	a.requests = append(a.requests, recordedRequest{method: method, body: body})

	var result any = true
	switch method {
	case "getUpdates":
		var batch []Update
		if len(a.batches) > 0 {
			batch = a.batches[0]
			a.batches = a.batches[1:]
		}
		result = batch
	case "sendMessage":
		result = map[string]any{"message_id": 77}
	}
	a.mu.Unlock()

	res.Header().Set("Content-Type", "application/json")
	payload, _ := json.Marshal(map[string]any{"ok": true, "result": result})
	_, _ = res.Write(payload)
}

func (a *fakeBotAPI) calls(method string) []recordedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	var matched []recordedRequest
	for _, r := range a.requests {
		if r.method == method {
			matched = append(matched, r)
		}
	}

	return matched
}

type recordingHandler struct {
	mu     sync.Mutex
	events []engine.Event
	reply  engine.Reply
}

func (h *recordingHandler) HandleEvent(_ context.Context, event engine.Event) engine.Reply {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, event)

	return h.reply
}

func (h *recordingHandler) recorded() []engine.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]engine.Event(nil), h.events...)
}

func messageUpdate(updateID, chatID int64, text string) Update {
	var u Update
	raw := map[string]any{
		"update_id": updateID,
		"message": map[string]any{
			"message_id": 1,
			"chat":       map[string]any{"id": chatID},
			"text":       text,
		},
	}
	payload, _ := json.Marshal(raw)
	_ = json.Unmarshal(payload, &u)

	return u
}

func callbackUpdate(updateID, chatID int64, data string) Update {
	var u Update
	raw := map[string]any{
		"update_id": updateID,
		"callback_query": map[string]any{
			"id":   "cb1",
			"data": data,
			"message": map[string]any{
				"message_id": 2,
				"chat":       map[string]any{"id": chatID},
			},
		},
	}
	payload, _ := json.Marshal(raw)
	_ = json.Unmarshal(payload, &u)

	return u
}

func runGatewayBriefly(t *testing.T, api *fakeBotAPI, handler *recordingHandler) {
	t.Helper()

	client := NewClient("test-token", WithBaseURL(api.server.URL))
	gateway := NewGateway(client, handler, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = gateway.Run(ctx)
}

func TestGatewayConvertsUpdatesToEvents(t *testing.T) {
	api := newFakeBotAPI([]Update{
		messageUpdate(1, 42, "/start"),
		messageUpdate(2, 42, "https://example.com"),
		callbackUpdate(3, 42, "menu_links"),
	})
	defer api.server.Close()

	handler := &recordingHandler{}
	runGatewayBriefly(t, api, handler)

	events := handler.recorded()
	require.Len(t, events, 3)

	assert.Equal(t, engine.EventCommand, events[0].Kind)
	assert.Equal(t, "start", events[0].Payload)
	assert.Equal(t, "42", events[0].UserID)

	assert.Equal(t, engine.EventText, events[1].Kind)
	assert.Equal(t, "https://example.com", events[1].Payload)

	assert.Equal(t, engine.EventButton, events[2].Kind)
	assert.Equal(t, "menu_links", events[2].Payload)

	// Every button tap is acknowledged.
	assert.Len(t, api.calls("answerCallbackQuery"), 1)
}

func TestGatewaySendsReplyWithKeyboard(t *testing.T) {
	api := newFakeBotAPI([]Update{messageUpdate(1, 42, "/start")})
	defer api.server.Close()

	handler := &recordingHandler{reply: engine.Reply{
		Text: "<b>Hello</b>",
		Keyboard: [][]engine.Button{
			{{Label: "Links", Action: "menu_links"}},
		},
	}}
	runGatewayBriefly(t, api, handler)

	sends := api.calls("sendMessage")
	require.Len(t, sends, 1)
	body := sends[0].body
	assert.Equal(t, float64(42), body["chat_id"])
	assert.Equal(t, "<b>Hello</b>", body["text"])
	assert.Equal(t, "HTML", body["parse_mode"])

	markup, ok := body["reply_markup"].(map[string]any)
	require.True(t, ok)
	rows, ok := markup["inline_keyboard"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	button := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "Links", button["text"])
	assert.Equal(t, "menu_links", button["callback_data"])
}

func TestGatewayAdvancesOffset(t *testing.T) {
	api := newFakeBotAPI(
		[]Update{messageUpdate(10, 42, "one")},
		[]Update{messageUpdate(11, 42, "two")},
	)
	defer api.server.Close()

	handler := &recordingHandler{}
	runGatewayBriefly(t, api, handler)

	polls := api.calls("getUpdates")
	require.GreaterOrEqual(t, len(polls), 3)
	assert.Equal(t, float64(0), polls[0].body["offset"])
	assert.Equal(t, float64(11), polls[1].body["offset"])
	assert.Equal(t, float64(12), polls[2].body["offset"])
}

func TestBusyNotifierShowAndClear(t *testing.T) {
	api := newFakeBotAPI()
	defer api.server.Close()

	client := NewClient("test-token", WithBaseURL(api.server.URL))
	clear := NewBusyNotifier(client).Show(context.Background(), "42", "Loading...")

	sends := api.calls("sendMessage")
	require.Len(t, sends, 1)
	assert.Equal(t, "Loading...", sends[0].body["text"])

	clear()

	deletions := api.calls("deleteMessage")
	require.Len(t, deletions, 1)
	assert.Equal(t, float64(42), deletions[0].body["chat_id"])
	assert.Equal(t, float64(77), deletions[0].body["message_id"])
}

func TestBusyNotifierTolerantOfBadUserID(t *testing.T) {
	api := newFakeBotAPI()
	defer api.server.Close()

	client := NewClient("test-token", WithBaseURL(api.server.URL))
	clear := NewBusyNotifier(client).Show(context.Background(), "not-a-number", "Loading...")
	clear()

	assert.Empty(t, api.calls("sendMessage"))
}
