// Package seeder writes synthetic webhook payload files for local runs.
package seeder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// BusinessNumber is the display number placed in generated metadata.
const BusinessNumber = "918329446654"

// Options controls how many payloads are generated.
type Options struct {
	Conversations int
	// MessagesPerConversation is the number of inbound messages per contact.
	MessagesPerConversation int
	// Seed makes output reproducible. Zero picks a random seed.
	Seed int64
	// Start is the timestamp of the first message. Defaults to one day ago.
	Start time.Time
}

// Payload is one generated file.
type Payload struct {
	Name string
	Kind string
	Data []byte
}

// Generator builds wrapped WhatsApp-style webhook documents.
type Generator struct {
	faker *gofakeit.Faker
	opts  Options
	seq   int
}

func NewGenerator(opts Options) *Generator {
	if opts.Conversations <= 0 {
		opts.Conversations = 3
	}
	if opts.MessagesPerConversation <= 0 {
		opts.MessagesPerConversation = 2
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().Add(-24 * time.Hour)
	}
	return &Generator{faker: gofakeit.New(opts.Seed), opts: opts}
}

// Generate returns payloads whose file names sort in the order they should
// be ingested: every status follows the message it refers to.
func (g *Generator) Generate() ([]Payload, error) {
	var out []Payload
	at := g.opts.Start.Unix()

	for c := 0; c < g.opts.Conversations; c++ {
		waID := g.faker.Numerify("91##########")
		name := g.faker.Name()
		convID := "conv" + strconv.Itoa(c+1)

		for m := 0; m < g.opts.MessagesPerConversation; m++ {
			at += int64(g.faker.Number(30, 900))
			msgID := "wamid." + strings.ToUpper(g.faker.LetterN(40))

			msg, err := g.payload("message", convID, value{
				MessagingProduct: "whatsapp",
				Metadata:         metadata{DisplayPhoneNumber: BusinessNumber, PhoneNumberID: g.faker.Numerify("###############")},
				Contacts:         []contact{{Profile: profile{Name: name}, WaID: waID}},
				Messages: []message{{
					From:      waID,
					ID:        msgID,
					Timestamp: strconv.FormatInt(at, 10),
					Text:      &text{Body: g.faker.Sentence(g.faker.Number(3, 12))},
					Type:      "text",
				}},
			})
			if err != nil {
				return nil, err
			}
			out = append(out, msg)

			for _, state := range g.statuses() {
				at += int64(g.faker.Number(1, 60))
				st, err := g.payload("status", convID, value{
					MessagingProduct: "whatsapp",
					Metadata:         metadata{DisplayPhoneNumber: BusinessNumber},
					Statuses: []status{{
						ID:          msgID,
						MetaMsgID:   msgID,
						RecipientID: waID,
						Status:      state,
						Timestamp:   strconv.FormatInt(at, 10),
					}},
				})
				if err != nil {
					return nil, err
				}
				out = append(out, st)
			}
		}
	}
	return out, nil
}

// statuses picks the delivery progression for one message.
func (g *Generator) statuses() []string {
	switch n := g.faker.Number(0, 9); {
	case n == 0:
		return []string{"failed"}
	case n < 3:
		return nil
	case n < 6:
		return []string{"delivered"}
	default:
		return []string{"delivered", "read"}
	}
}

func (g *Generator) payload(kind, convID string, v value) (Payload, error) {
	g.seq++
	doc := document{
		PayloadType: "whatsapp_webhook",
		ID:          fmt.Sprintf("%s-%d", convID, g.seq),
		MetaData: metaData{
			Entry: []entry{{
				Changes: []change{{Field: "messages", Value: v}},
				ID:      g.faker.Numerify("#################"),
			}},
			Object: "whatsapp_business_account",
		},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Payload{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Payload{
		Name: fmt.Sprintf("%05d_%s_%s.json", g.seq, convID, kind),
		Kind: kind,
		Data: data,
	}, nil
}

// WriteDir writes payloads into dir, creating it if needed.
func WriteDir(dir string, payloads []Payload) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create payload dir: %w", err)
	}
	for _, p := range payloads {
		if err := os.WriteFile(filepath.Join(dir, p.Name), p.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", p.Name, err)
		}
	}
	return nil
}

type document struct {
	PayloadType string   `json:"payload_type"`
	ID          string   `json:"_id"`
	MetaData    metaData `json:"metaData"`
}

type metaData struct {
	Entry  []entry `json:"entry"`
	Object string  `json:"object"`
}

type entry struct {
	Changes []change `json:"changes"`
	ID      string   `json:"id"`
}

type change struct {
	Field string `json:"field"`
	Value value  `json:"value"`
}

type value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         metadata  `json:"metadata"`
	Contacts         []contact `json:"contacts,omitempty"`
	Messages         []message `json:"messages,omitempty"`
	Statuses         []status  `json:"statuses,omitempty"`
}

type metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id,omitempty"`
}

type contact struct {
	Profile profile `json:"profile"`
	WaID    string  `json:"wa_id"`
}

type profile struct {
	Name string `json:"name"`
}

type message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Text      *text  `json:"text,omitempty"`
	Type      string `json:"type"`
}

type text struct {
	Body string `json:"body"`
}

type status struct {
	ID          string `json:"id"`
	MetaMsgID   string `json:"meta_msg_id"`
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}
