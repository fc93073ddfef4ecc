// Package notifier contains the core domain types for the channel keyword notifier.
package notifier

import "time"

// Chat is the parent channel of a message as reported by the backend.
type Chat struct {
	Username string // Public username without "@", empty for private channels
}

// Message is a single channel message as returned by a messaging backend.
type Message struct {
	Date time.Time // UTC
	Chat Chat
	Text string // Empty when the message carries no text (media, service messages)
	ID   int    // Unique within a channel
}

// Match is a message that matched a keyword list, ready for delivery.
type Match struct {
	Channel string // Configured channel identifier, e.g. "@news"
	Text    string
	Link    string // Public permalink, empty when the channel has no username
	Date    string // RFC 3339, UTC
	ID      int
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Channel string `json:"channel"`
	ID      int    `json:"id"`
	Text    string `json:"text"`
	Link    string `json:"link"`
}

// Payload converts a match into its webhook body.
func (m Match) Payload() Payload {
	return Payload{
		Channel: m.Channel,
		ID:      m.ID,
		Text:    m.Text,
		Link:    m.Link,
	}
}
