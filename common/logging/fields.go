package logging

import "log/slog"

// Common field names so every component logs the same keys.
const (
	FieldService        = "service"
	FieldComponent      = "component"
	FieldRequestID      = "request_id"
	FieldMethod         = "method"
	FieldPath           = "path"
	FieldStatus         = "status"
	FieldDuration       = "duration_ms"
	FieldError          = "error"
	FieldEnvelopeID     = "envelope_id"
	FieldRecordID       = "record_id"
	FieldCounterpartyID = "counterparty_id"
	FieldOutcome        = "outcome"
	FieldSubject        = "subject"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute for the component name.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error. A nil error logs as empty.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// EnvelopeID returns a slog attribute for an ingested envelope.
func EnvelopeID(id string) slog.Attr {
	return slog.String(FieldEnvelopeID, id)
}

// RecordID returns a slog attribute for a message record id.
func RecordID(id string) slog.Attr {
	return slog.String(FieldRecordID, id)
}

// CounterpartyID returns a slog attribute for a conversation counterparty.
func CounterpartyID(id string) slog.Attr {
	return slog.String(FieldCounterpartyID, id)
}

// Outcome returns a slog attribute for a processing outcome.
func Outcome(outcome string) slog.Attr {
	return slog.String(FieldOutcome, outcome)
}

// Subject returns a slog attribute for a message bus subject.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}
