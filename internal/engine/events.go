package engine

// EventKind discriminates inbound chat events.
type EventKind int

const (
	// EventCommand is a slash command such as /start.
	EventCommand EventKind = iota

	// EventText is a free-text message.
	EventText

	// EventButton is an inline button press carrying an action id.
	EventButton
)

// Event is one inbound chat event tagged with the originating user.
// For commands Payload holds the command name without the slash, for text
// the message body, for button presses the action id.
type Event struct {
	UserID  string
	Kind    EventKind
	Payload string
}

// Button is one inline action offered to the user. Action is an opaque
// id routed back through an EventButton event; durable record ids are
// embedded in it, never transient list positions.
type Button struct {
	Label  string
	Action string
}

// Reply is the rendering instruction handed back to the chat gateway:
// format-rich text plus buttons grouped into rows. Delivery semantics
// (edit vs. new message) are the gateway's concern.
type Reply struct {
	Text     string
	Keyboard [][]Button
}
