package api

import (
	"encoding/json"
	"fmt"
	"strconv"

	"msgstream/internal/publishing"
)

// PublishRequest accepts the message text as either "data" or "message".
type PublishRequest struct {
	Data       string                 `json:"data" example:"hello world"`
	Message    string                 `json:"message,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

func (r PublishRequest) text() string {
	if r.Data != "" {
		return r.Data
	}
	return r.Message
}

// attributes renders every value as a string, the way bus attributes are
// carried. Nested values are JSON encoded.
func (r PublishRequest) attributes() map[string]string {
	out := make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case map[string]interface{}, []interface{}:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

type PublishResponse struct {
	OK              bool    `json:"ok"`
	Status          string  `json:"status" example:"published"`
	Flagged         bool    `json:"flagged"`
	ProfanityMasked bool    `json:"profanity_masked"`
	PubsubMessageID string  `json:"pubsubMessageId"`
	MessageID       string  `json:"messageId"`
	ClientMessageID *string `json:"clientMessageId"`
	RowID           *int64  `json:"rowId"`
	IsDuplicate     bool    `json:"isDuplicate"`
	Data            string  `json:"data"`
}

func newPublishResponse(res publishing.PublishResult) PublishResponse {
	return PublishResponse{
		OK:              true,
		Status:          "published",
		Flagged:         res.Flagged,
		ProfanityMasked: res.Flagged,
		PubsubMessageID: res.BusMessageID,
		MessageID:       res.BusMessageID,
		ClientMessageID: res.ClientMessageID,
		RowID:           res.RowID,
		IsDuplicate:     res.IsDuplicate,
		Data:            res.Data,
	}
}

// ErrorResponse documents the error body produced by pkg/errors.
type ErrorResponse struct {
	Error           string                 `json:"error"`
	ErrorCode       string                 `json:"error_code"`
	Details         map[string]interface{} `json:"details,omitempty"`
	PubsubMessageID string                 `json:"pubsubMessageId,omitempty"`
}
