package models

import "time"

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Sentiment is an optional tag attached to inbound messages
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment maps free-form model output onto the sentiment enum; unknown values are neutral
func ParseSentiment(s string) Sentiment {
	switch Sentiment(s) {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return Sentiment(s)
	}
	return SentimentNeutral
}

// Message is one entry of a user's append-only conversation log.
// Seq is assigned by the store and strictly increases per user.
type Message struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Seq       int64     `json:"seq" db:"seq"`
	Role      Role      `json:"role" db:"role"`
	Body      string    `json:"body" db:"body"`
	ImageRef  string    `json:"image_ref,omitempty" db:"image_ref"`
	Sentiment Sentiment `json:"sentiment,omitempty" db:"sentiment"`
	Entities  StringMap `json:"entities,omitempty" db:"entities"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Summary condenses a contiguous run of messages. A new summary supersedes, but never
// replaces, the previous one.
type Summary struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	Text            string    `json:"text" db:"text"`
	FromSeq         int64     `json:"from_seq" db:"from_seq"`
	ThroughSeq      int64     `json:"through_seq" db:"through_seq"`
	AnchorMessageID string    `json:"anchor_message_id" db:"anchor_message_id"`
	SupersedesID    *string   `json:"supersedes_id,omitempty" db:"supersedes_id"`
	MessageCount    int       `json:"message_count" db:"message_count"`
	ModelUsed       string    `json:"model_used" db:"model_used"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
