package models

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatTurn is one completed turn of a conversation. A ChatHistory is a slice
// of turns in conversational order.
type ChatTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

type MessageType string

const (
	MessageTypeAPI  MessageType = "apiMessage"
	MessageTypeUser MessageType = "userMessage"
)

// Source is the origin link of the single most relevant retrieved document.
type Source struct {
	URL   string  `json:"url"`
	Title *string `json:"title"`
}

// Message is the shape exposed to the chat UI.
//
// Sources is the legacy list field. It is still populated with the same link
// as Source so older widgets keep rendering a citation.
type Message struct {
	Type        MessageType `json:"type"`
	Message     string      `json:"message"`
	IsStreaming bool        `json:"isStreaming,omitempty"`
	Sources     []string    `json:"sources,omitempty"`
	Source      *Source     `json:"source,omitempty"`
}

// Answer is the final result of one pipeline invocation.
type Answer struct {
	Text      string
	Source    *Source
	Documents []RetrievedDocument
}

func (a Answer) Message() Message {
	msg := Message{
		Type:    MessageTypeAPI,
		Message: a.Text,
		Source:  a.Source,
	}
	if a.Source != nil {
		msg.Sources = []string{a.Source.URL}
	}
	return msg
}
