package messages

import (
	"time"
)

// NewMessage is one arrival to be recorded. A nil or empty ClientMessageID
// means the message carries no dedup key and always gets its own row.
type NewMessage struct {
	ClientMessageID *string
	BusMessageID    string
	Payload         string
	Source          string
	Attributes      map[string]string
	// PublishTime zero means "now" on the database clock.
	PublishTime time.Time
}

type UpsertResult struct {
	ID            int64
	IsDuplicate   bool
	DeliveryCount int
}

// Message is a stored record as returned by Query.
type Message struct {
	ID              int64             `json:"id"`
	ClientMessageID *string           `json:"messageId"`
	BusMessageID    *string           `json:"pubsubMessageId,omitempty"`
	Payload         string            `json:"data"`
	Source          *string           `json:"source"`
	Attributes      map[string]string `json:"attributes"`
	PublishTime     time.Time         `json:"publishTime"`
	IsDuplicate     bool              `json:"isDuplicate"`
	DeliveryCount   int               `json:"deliveryCount"`
}

// Filter narrows a Query. Zero values mean "no constraint". Start and End
// are calendar dates compared against publish_time in UTC, both inclusive.
// When ClientMessageID is set, Source is ignored.
type Filter struct {
	ClientMessageID string
	Source          string
	Text            string
	Start           *time.Time
	End             *time.Time
	IsDuplicate     *bool
}

type Page struct {
	Items []Message `json:"items"`
	Total int64     `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}
