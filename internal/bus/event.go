package bus

import "time"

// Event is a domain event published on the bus. Kind is a dotted name; the
// leading segment is the namespace subscribers filter on.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the sync core.
const (
	// ConversationUpdated fires after every remote change batch.
	ConversationUpdated = "conversation.updated"
	// MessagesUpdated fires after a remote message batch; payload is the
	// conversation id.
	MessagesUpdated = "messages.updated"
	// MessageUpserted fires when a local message row changes; payload is a
	// MessageRef.
	MessageUpserted = "message.upserted"
	// SendAck and SendFailed report terminal outbound send outcomes.
	SendAck    = "message.send_ack"
	SendFailed = "message.send_failed"
	// EnrichApplied fires after AI metadata lands in both stores; payload is a
	// MessageRef.
	EnrichApplied = "enrich.applied"
	// StatusChanged reports daemon state machine transitions.
	StatusChanged = "session.status_changed"
)

// MessageRef identifies a message within its conversation.
type MessageRef struct {
	ConversationID string
	MessageID      string
}
