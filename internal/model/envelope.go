// Package model holds the inbox domain types shared across the pipeline.
package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope sources.
const (
	SourceFile = "file"
	SourceHTTP = "http"
	SourceNATS = "nats"
	SourceSeed = "seed"
)

// Envelope is one raw webhook payload plus ingestion metadata. It is only
// persisted when dead-lettered.
type Envelope struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// PayloadEncodingBase64 marks a serialized payload that was not valid JSON
// and is stored as a base64 string instead.
const PayloadEncodingBase64 = "base64"

type envelopeJSON struct {
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	PayloadEncoding string          `json:"payload_encoding,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// MarshalJSON embeds a valid JSON payload as is. Anything else, such as a
// truncated webhook body, is kept byte for byte as base64.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := envelopeJSON{ID: e.ID, Source: e.Source, ReceivedAt: e.ReceivedAt}
	switch {
	case len(e.Payload) == 0:
	case json.Valid(e.Payload):
		out.Payload = e.Payload
	default:
		encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(e.Payload))
		if err != nil {
			return nil, err
		}
		out.Payload = encoded
		out.PayloadEncoding = PayloadEncodingBase64
	}
	return json.Marshal(out)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var in envelopeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Envelope{ID: in.ID, Source: in.Source, ReceivedAt: in.ReceivedAt}

	switch {
	case in.PayloadEncoding == PayloadEncodingBase64:
		var s string
		if err := json.Unmarshal(in.Payload, &s); err != nil {
			return fmt.Errorf("decode envelope payload: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("decode envelope payload: %w", err)
		}
		e.Payload = raw
	case in.PayloadEncoding != "":
		return fmt.Errorf("unknown payload encoding %q", in.PayloadEncoding)
	case len(in.Payload) > 0 && string(in.Payload) != "null":
		e.Payload = append(json.RawMessage(nil), in.Payload...)
	}
	return nil
}
