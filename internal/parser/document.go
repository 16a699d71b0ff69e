package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/telhawk-systems/inbox/internal/model"
)

type document struct {
	MetaData *webhookBody `json:"metaData"`
	webhookBody
}

type webhookBody struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string       `json:"field"`
	Value *changeValue `json:"value"`
}

type changeValue struct {
	Contacts []contact `json:"contacts"`
	Messages []message `json:"messages"`
	Statuses []status  `json:"statuses"`
}

type contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type status struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Timestamp   timestamp `json:"timestamp"`
	RecipientID string    `json:"recipient_id"`
}

type media struct {
	Caption string `json:"caption"`
}

type message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Timestamp timestamp `json:"timestamp"`
	Type      string    `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *media `json:"image"`
	Video    *media `json:"video"`
	Document *media `json:"document"`
}

func (m message) body() string {
	if m.Text != nil {
		return m.Text.Body
	}
	for _, md := range []*media{m.Image, m.Video, m.Document} {
		if md != nil && md.Caption != "" {
			return md.Caption
		}
	}
	return ""
}

// contactFor prefers the contact whose wa_id matches the sender, then the
// first contact listed.
func (v *changeValue) contactFor(from string) *model.Contact {
	if len(v.Contacts) == 0 {
		return nil
	}
	picked := v.Contacts[0]
	for _, c := range v.Contacts {
		if c.WaID != "" && c.WaID == from {
			picked = c
			break
		}
	}
	return &model.Contact{
		CounterpartyID: picked.WaID,
		DisplayName:    picked.Profile.Name,
	}
}

// timestamp accepts JSON numbers and numeric strings. Null and "" decode to 0.
type timestamp int64

func (t *timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = 0
		return nil
	}

	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*t = 0
			return nil
		}
	}

	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*t = timestamp(v)
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", raw)
	}
	*t = timestamp(f)
	return nil
}
