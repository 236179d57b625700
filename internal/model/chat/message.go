package chat

// Sender tags who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ErrorNotice is appended as a bot message when a send fails.
const ErrorNotice = "Error connecting to server."

// Message is one bubble in the displayed history.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// UserMessage builds a message authored by the local user.
func UserMessage(text string) Message {
	return Message{Sender: SenderUser, Text: text}
}

// BotMessage builds a message authored by the assistant.
func BotMessage(text string) Message {
	return Message{Sender: SenderBot, Text: text}
}

// WireMessage is the stored turn as returned by GET /sessions/{id}/messages.
type WireMessage struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp Timestamp `json:"timestamp"`
}

// MessageFromWire converts a stored turn into a display message. Unknown
// senders are kept verbatim so the display layer can decide how to render them.
func MessageFromWire(w WireMessage) Message {
	return Message{Sender: Sender(w.Sender), Text: w.Content}
}

// MessagesFromWire converts a whole transcript, preserving order.
func MessagesFromWire(items []WireMessage) []Message {
	out := make([]Message, 0, len(items))
	for _, item := range items {
		out = append(out, MessageFromWire(item))
	}
	return out
}
