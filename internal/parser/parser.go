// Package parser extracts classified changes from raw webhook envelopes.
//
// Two document shapes are accepted: the bare Cloud API body
// ({"object": ..., "entry": [...]}) and the archived form that nests the same
// body under "metaData". In both, the change-set lives at
// entry[0].changes[0].value.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/telhawk-systems/inbox/internal/model"
)

var (
	// ErrMalformedPayload means the envelope is not JSON or lacks a segment of
	// entry[0].changes[0].value.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnclassified means the change-set carries neither statuses nor
	// messages. Callers treat it as a skip.
	ErrUnclassified = errors.New("unclassified payload")
)

// Options tunes parsing.
type Options struct {
	// FirstOnly consumes only the first element of the statuses or messages
	// list and ignores the rest.
	FirstOnly bool
}

// Parser turns envelopes into changes.
type Parser struct {
	opts Options
}

// New creates a Parser.
func New(opts Options) *Parser {
	return &Parser{opts: opts}
}

// Parse uses a Parser with default options.
func Parse(env model.Envelope) ([]model.Change, error) {
	return New(Options{}).Parse(env)
}

// Parse classifies env. Statuses take precedence over messages when a
// change-set somehow carries both. Changes are returned in payload order.
func (p *Parser) Parse(env model.Envelope) ([]model.Change, error) {
	value, err := extractValue(env.Payload)
	if err != nil {
		return nil, err
	}

	switch {
	case len(value.Statuses) > 0:
		statuses := value.Statuses
		if p.opts.FirstOnly {
			statuses = statuses[:1]
		}
		changes := make([]model.Change, 0, len(statuses))
		for _, s := range statuses {
			changes = append(changes, model.StatusChange{
				ExternalID:  s.ID,
				State:       s.Status,
				OccurredAt:  int64(s.Timestamp),
				RecipientID: s.RecipientID,
			})
		}
		return changes, nil

	case len(value.Messages) > 0:
		messages := value.Messages
		if p.opts.FirstOnly {
			messages = messages[:1]
		}
		changes := make([]model.Change, 0, len(messages))
		for _, m := range messages {
			changes = append(changes, model.MessageChange{
				ExternalID: m.ID,
				SenderID:   m.From,
				Body:       m.body(),
				Type:       m.Type,
				OccurredAt: int64(m.Timestamp),
				Contact:    value.contactFor(m.From),
			})
		}
		return changes, nil

	default:
		return nil, ErrUnclassified
	}
}

func extractValue(payload []byte) (*changeValue, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}

	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	entries := doc.Entry
	if doc.MetaData != nil {
		entries = doc.MetaData.Entry
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: missing entry[0]", ErrMalformedPayload)
	}
	if len(entries[0].Changes) == 0 {
		return nil, fmt.Errorf("%w: missing entry[0].changes[0]", ErrMalformedPayload)
	}
	value := entries[0].Changes[0].Value
	if value == nil {
		return nil, fmt.Errorf("%w: missing entry[0].changes[0].value", ErrMalformedPayload)
	}
	return value, nil
}
