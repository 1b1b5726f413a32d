package models

import "time"

// TriggerType enumerates the domain events a workflow can be bound to.
type TriggerType string

const (
	TriggerCustomerCreated      TriggerType = "customer_created"
	TriggerCustomerUpdated      TriggerType = "customer_updated"
	TriggerMessageReceived      TriggerType = "message_received"
	TriggerConversationCreated  TriggerType = "conversation_created"
	TriggerConversationClosed   TriggerType = "conversation_closed"
	TriggerConversationAssigned TriggerType = "conversation_assigned"
	TriggerTagAdded             TriggerType = "tag_added"
	TriggerAppointmentBooked    TriggerType = "appointment_booked"
	TriggerBroadcastCompleted   TriggerType = "broadcast_completed"
)

// TriggerTypes lists every valid trigger type, for validation.
var TriggerTypes = []TriggerType{
	TriggerCustomerCreated,
	TriggerCustomerUpdated,
	TriggerMessageReceived,
	TriggerConversationCreated,
	TriggerConversationClosed,
	TriggerConversationAssigned,
	TriggerTagAdded,
	TriggerAppointmentBooked,
	TriggerBroadcastCompleted,
}

// ValidTriggerType reports whether t is a known trigger type.
func ValidTriggerType(t TriggerType) bool {
	for _, known := range TriggerTypes {
		if t == known {
			return true
		}
	}

	return false
}

// TriggerConfig is the predicate a matching domain event's payload must
// satisfy. Every clause is optional; an absent clause constrains nothing.
type TriggerConfig struct {
	// CustomerType matches payload["customer_type"] exactly.
	CustomerType string `json:"customer_type,omitempty"`

	// Channel matches payload["channel"] exactly (facebook, whatsapp, ...).
	Channel string `json:"channel,omitempty"`

	// MinMessageCount requires payload["message_count"] >= this value.
	MinMessageCount *int `json:"min_message_count,omitempty"`

	// TagsAny requires payload["tags"] to intersect this set.
	TagsAny []string `json:"tags_any,omitempty"`

	// Attributes requires each key to be present in the payload with an
	// equal value.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// DomainEvent is an occurrence inside the engagement platform that may
// trigger workflows. It is the trigger matcher's sole input.
type DomainEvent struct {
	ID             string         `json:"id"`
	Type           TriggerType    `json:"type"            validate:"required"`
	TenantID       string         `json:"tenant_id"       validate:"required"`
	CustomerID     string         `json:"customer_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}
