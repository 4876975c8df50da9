package webhook

import (
	"bytes"
	"encoding/json"
)

// envelope decodes both supported provider shapes at once. Which fields
// are populated decides the detected shape.
type envelope struct {
	Provider string `json:"provider"`

	// 360dialog: flat arrays at the top level.
	Messages []inboundMessage  `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`

	// Meta Cloud API: entry[].changes[].value
	Object string      `json:"object"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID      string       `json:"id"`
	Changes []metaChange `json:"changes"`
}

type metaChange struct {
	Field string    `json:"field"`
	Value metaValue `json:"value"`
}

type metaValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Messages []inboundMessage  `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

type inboundMessage struct {
	ID        string       `json:"id" validate:"required"`
	From      string       `json:"from" validate:"required"`
	To        string       `json:"to" validate:"required"`
	Timestamp rawTimestamp `json:"timestamp" validate:"required"`
	Type      string       `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
}

// rawTimestamp accepts either a JSON string or a JSON number.
type rawTimestamp string

func (t *rawTimestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = rawTimestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = rawTimestamp(n.String())
	return nil
}
