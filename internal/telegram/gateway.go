package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patric-chuzhbe/vkccbot/internal/engine"
	"github.com/patric-chuzhbe/vkccbot/internal/logger"
)

const perUserQueueCapacity = 32

type eventHandler interface {
	HandleEvent(ctx context.Context, event engine.Event) engine.Reply
}

// Gateway polls for updates and feeds them to the conversation engine.
// Updates of one user are processed strictly in arrival order on a
// dedicated per-user queue; different users run concurrently.
type Gateway struct {
	client      *Client
	handler     eventHandler
	pollTimeout time.Duration

	mu     sync.Mutex
	queues map[int64]chan engine.Event
	wg     sync.WaitGroup
}

// NewGateway wires the Bot API client to an event handler.
func NewGateway(client *Client, handler eventHandler, pollTimeout time.Duration) *Gateway {
	return &Gateway{
		client:      client,
		handler:     handler,
		pollTimeout: pollTimeout,
		queues:      map[int64]chan engine.Event{},
	}
}

// Run polls until the context is canceled, then waits for the per-user
// workers to drain.
func (g *Gateway) Run(ctx context.Context) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			break
		}

		updates, err := g.client.GetUpdates(ctx, offset, g.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Log.Errorw("polling for updates failed", "err", err)
			time.Sleep(time.Second)
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			g.handleUpdate(ctx, update)
		}
	}

	g.closeQueues()
	g.wg.Wait()

	return ctx.Err()
}

func (g *Gateway) handleUpdate(ctx context.Context, update Update) {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		if err := g.client.AnswerCallbackQuery(ctx, update.CallbackQuery.ID); err != nil {
			logger.Log.Debugw("acknowledging a button tap failed", "err", err)
		}
		g.enqueue(ctx, update.CallbackQuery.Message.Chat.ID, engine.Event{
			UserID:  strconv.FormatInt(update.CallbackQuery.Message.Chat.ID, 10),
			Kind:    engine.EventButton,
			Payload: update.CallbackQuery.Data,
		})
	case update.Message != nil:
		event := engine.Event{
			UserID:  strconv.FormatInt(update.Message.Chat.ID, 10),
			Kind:    engine.EventText,
			Payload: update.Message.Text,
		}
		if command, ok := strings.CutPrefix(update.Message.Text, "/"); ok {
			event.Kind = engine.EventCommand
			event.Payload = command
		}
		g.enqueue(ctx, update.Message.Chat.ID, event)
	}
}

// enqueue routes the event to the user's queue, starting a worker on
// first contact. A full queue drops the event: the user is flooding and
// every reply re-renders the full current state anyway.
func (g *Gateway) enqueue(ctx context.Context, chatID int64, event engine.Event) {
	g.mu.Lock()
	queue, ok := g.queues[chatID]
	if !ok {
		queue = make(chan engine.Event, perUserQueueCapacity)
		g.queues[chatID] = queue
		g.wg.Add(1)
		go g.runWorker(ctx, chatID, queue)
	}
	g.mu.Unlock()

	select {
	case queue <- event:
	default:
		logger.Log.Warnw("per-user queue overflow, dropping event", "chatID", chatID)
	}
}

func (g *Gateway) runWorker(ctx context.Context, chatID int64, queue chan engine.Event) {
	defer g.wg.Done()

	for event := range queue {
		reply := g.handler.HandleEvent(ctx, event)
		if reply.Text == "" {
			continue
		}
		if _, err := g.client.SendMessage(ctx, chatID, reply.Text, reply.Keyboard); err != nil {
			logger.Log.Errorw("sending a reply failed", "chatID", chatID, "err", err)
		}
	}
}

func (g *Gateway) closeQueues() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, queue := range g.queues {
		close(queue)
	}
	g.queues = map[int64]chan engine.Event{}
}

// BusyNotifier implements the engine's loading indicator: it posts a
// short notice and removes it when the operation finishes.
type BusyNotifier struct {
	client *Client
}

// NewBusyNotifier creates a BusyNotifier over the Bot API client.
func NewBusyNotifier(client *Client) *BusyNotifier {
	return &BusyNotifier{client: client}
}

// Show posts the notice and returns its removal func. Both halves are
// best effort: a failed notice never fails the operation around it.
func (n *BusyNotifier) Show(ctx context.Context, userID, text string) func() {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return func() {}
	}

	messageID, err := n.client.SendMessage(ctx, chatID, text, nil)
	if err != nil {
		logger.Log.Debugw("posting the loading notice failed", "err", err)
		return func() {}
	}

	return func() {
		if err := n.client.DeleteMessage(ctx, chatID, messageID); err != nil {
			logger.Log.Debugw("removing the loading notice failed", "err", err)
		}
	}
}
