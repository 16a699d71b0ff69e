package handlers

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/telhawk-systems/inbox/internal/model"
)

// conversationJSON keeps the field names the chat frontend reads.
type conversationJSON struct {
	ID            string `json:"_id"`
	Name          string `json:"name"`
	LastMessage   string `json:"lastMessage"`
	LastTimestamp int64  `json:"lastTimestamp"`
}

func toConversationJSON(s model.ConversationSummary) conversationJSON {
	return conversationJSON{
		ID:            s.CounterpartyID,
		Name:          s.DisplayName,
		LastMessage:   s.LastBody,
		LastTimestamp: s.LastOccurredAtMs,
	}
}

type messageText struct {
	Body string `json:"body"`
}

type messageJSON struct {
	ID        string      `json:"_id"`
	WaID      string      `json:"wa_id"`
	Name      string      `json:"name"`
	From      string      `json:"from"`
	Text      messageText `json:"text"`
	Timestamp int64       `json:"timestamp"`
	Status    string      `json:"status"`
}

func toMessageJSON(r model.MessageRecord) messageJSON {
	return messageJSON{
		ID:        r.ID,
		WaID:      r.CounterpartyID,
		Name:      r.DisplayName,
		From:      r.SenderID,
		Text:      messageText{Body: r.Body},
		Timestamp: r.OccurredAtMs,
		Status:    string(r.DeliveryState),
	}
}

// textField accepts either {"body": "..."} or a bare string.
type textField string

func (t *textField) UnmarshalJSON(data []byte) error {
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
		*t = textField(s)
		return nil
	}
	var obj messageText
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.New("text must be a string or an object with a body")
	}
	*t = textField(obj.Body)
	return nil
}

type sendMessageRequest struct {
	WaID string    `json:"wa_id"`
	Text textField `json:"text"`
	Name string    `json:"name"`
}
