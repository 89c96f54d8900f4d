// Package telegram is the chat gateway: a thin Bot API client plus a
// long-polling loop that turns updates into conversation events and
// renders the resulting replies back as messages with inline keyboards.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/patric-chuzhbe/vkccbot/internal/engine"
)

const defaultBaseURL = "https://api.telegram.org"

// Client wraps the handful of Bot API methods the gateway needs.
type Client struct {
	http  *resty.Client
	token string
}

// ClientOption customizes the Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API host. Tests point it at httptest servers.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.http.SetBaseURL(baseURL)
	}
}

// NewClient creates a Client. The request timeout is left generous
// because getUpdates long-polls.
func NewClient(token string, optionsProto ...ClientOption) *Client {
	client := &Client{
		http: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(90 * time.Second),
		token: token,
	}
	for _, protoOption := range optionsProto {
		protoOption(client)
	}

	return client
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Update is one inbound Bot API update. Only messages and callback
// queries are consumed; everything else is acknowledged and dropped.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
	CallbackQuery *struct {
		ID      string `json:"id"`
		Data    string `json:"data"`
		Message *struct {
			MessageID int64 `json:"message_id"`
			Chat      struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

func (c *Client) call(ctx context.Context, method string, body any, result any) error {
	var parsed apiResponse
	response, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&parsed).
		Post(fmt.Sprintf("/bot%s/%s", c.token, method))
	if err != nil {
		return fmt.Errorf("in internal/telegram/telegram.go/call(): %s request failed: %w", method, err)
	}
	if response.IsError() || !parsed.OK {
		return fmt.Errorf("chat API %s returned HTTP %d: %s", method, response.StatusCode(), parsed.Description)
	}
	if result != nil {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return fmt.Errorf("in internal/telegram/telegram.go/call(): decoding %s result: %w", method, err)
		}
	}

	return nil
}

// GetUpdates long-polls for updates past the given offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, err
	}

	return updates, nil
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

func toInlineKeyboard(keyboard [][]engine.Button) [][]inlineButton {
	if len(keyboard) == 0 {
		return nil
	}
	rows := make([][]inlineButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]inlineButton, 0, len(row))
		for _, button := range row {
			buttons = append(buttons, inlineButton{
				Text:         button.Label,
				CallbackData: button.Action,
			})
		}
		rows = append(rows, buttons)
	}

	return rows
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// SendMessage sends an HTML-formatted message with an optional inline
// keyboard and returns the new message id.
func (c *Client) SendMessage(
	ctx context.Context,
	chatID int64,
	text string,
	keyboard [][]engine.Button,
) (int64, error) {
	body := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if rows := toInlineKeyboard(keyboard); rows != nil {
		body["reply_markup"] = map[string]any{"inline_keyboard": rows}
	}

	var sent sentMessage
	if err := c.call(ctx, "sendMessage", body, &sent); err != nil {
		return 0, err
	}

	return sent.MessageID, nil
}

// DeleteMessage removes a previously sent message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

// AnswerCallbackQuery acknowledges a button tap so the chat client stops
// showing its spinner.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
	}, nil)
}
