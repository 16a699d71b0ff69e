package messaging

// Subjects on the inbox message bus. Pattern: inbox.{resource}.{action}.
const (
	// SubjectWebhooksReceived carries raw webhook payloads awaiting ingestion.
	SubjectWebhooksReceived = "inbox.webhooks.received"

	// SubjectRecordsMerged announces every record change applied by ingestion
	// or by an outgoing message submission.
	SubjectRecordsMerged = "inbox.records.merged"

	// SubjectDLQPrefix prefixes dead-lettered envelopes; the reason follows.
	SubjectDLQPrefix = "inbox.dlq"
)

// QueueIngestWorkers is the queue group shared by ingestion consumers so each
// webhook is applied once.
const QueueIngestWorkers = "inbox-ingest-workers"

// Header keys set on bus messages.
const (
	HeaderEnvelopeID = "Inbox-Envelope-Id"
	HeaderSource     = "Inbox-Source"
	HeaderOutcome    = "Inbox-Outcome"
)

// DLQSubject returns the subject for a dead-letter reason, e.g.
// inbox.dlq.malformed_payload.
func DLQSubject(reason string) string {
	if reason == "" {
		reason = "unknown"
	}
	return SubjectDLQPrefix + "." + reason
}
