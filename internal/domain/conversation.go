package domain

// Message is a single persisted entry in a conversation timeline.
type Message struct {
	ConversationID string
	Timestamp      int64 // epoch milliseconds, assigned by the server at write time
	Sender         string
	Body           string
}

// ConversationSummary is the listing view of a conversation: its id, roster,
// and the timestamp of its most recent message. LastActivity is nil for a
// conversation with no messages yet.
type ConversationSummary struct {
	ID           string
	LastActivity *int64
	Participants []string
}

// Conversation is a fully assembled chat thread: roster plus the complete
// message timeline in ascending timestamp order.
type Conversation struct {
	ID           string
	Participants []string
	LastActivity *int64
	Messages     []Message
}
