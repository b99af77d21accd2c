package events

import (
	"time"

	"github.com/rickgao/crm-console/internal/model"
)

// Payloads that are not plain model types.
type (
	// LeadRef identifies a deleted lead.
	LeadRef struct {
		ID string `json:"id"`
	}

	// MessageStatusUpdate reports a delivery receipt for an outbound message.
	MessageStatusUpdate struct {
		MessageID string `json:"messageId"`
		LeadID    string `json:"leadId"`
		Status    string `json:"status"` // "sent", "delivered", "read", "failed"
	}

	// WhatsAppQR carries a pairing QR code for the WhatsApp session.
	WhatsAppQR struct {
		QR        string    `json:"qr"`
		ExpiresAt time.Time `json:"expiresAt"`
	}

	// FollowupDue fires when a scheduled follow-up reaches its time.
	FollowupDue struct {
		LeadID  string    `json:"leadId"`
		TaskID  string    `json:"taskId,omitempty"`
		Message string    `json:"message,omitempty"`
		DueAt   time.Time `json:"dueAt"`
	}

	// AnalyticsRefresh asks dashboards to reload the named scope.
	AnalyticsRefresh struct {
		Scope string `json:"scope"` // "dashboard", "leads", "messages", "all"
	}

	// Typing is the outbound typing indicator.
	Typing struct {
		LeadID string `json:"leadId"`
	}
)

// Inbound topics.
var (
	LeadCreated     = NewTopic[model.Lead]("lead:created")
	LeadUpdated     = NewTopic[model.Lead]("lead:updated")
	LeadDeleted     = NewTopic[LeadRef]("lead:deleted")
	MessageReceived = NewTopic[model.Message]("message:received")
	MessageSent     = NewTopic[model.Message]("message:sent")
	MessageStatus   = NewTopic[MessageStatusUpdate]("message:status")
	WhatsAppState   = NewTopic[model.WhatsAppStatus]("whatsapp:status")
	WhatsAppPairing = NewTopic[WhatsAppQR]("whatsapp:qr")
	Notification    = NewTopic[model.Notification]("notification")
	TaskCreated     = NewTopic[model.Task]("task:created")
	TaskUpdated     = NewTopic[model.Task]("task:updated")
	TaskCompleted   = NewTopic[model.Task]("task:completed")
	FollowupTrigger = NewTopic[FollowupDue]("followup:due")
	AnalyticsUpdate = NewTopic[AnalyticsRefresh]("analytics:refresh")
	UserUpdated     = NewTopic[model.User]("user:updated")
)

// Outbound topics.
var (
	TypingStart = NewTopic[Typing]("typing:start")
	TypingStop  = NewTopic[Typing]("typing:stop")
)

// InboundNames lists every inbound event name the console understands.
func InboundNames() []string {
	return []string{
		LeadCreated.Name(),
		LeadUpdated.Name(),
		LeadDeleted.Name(),
		MessageReceived.Name(),
		MessageSent.Name(),
		MessageStatus.Name(),
		WhatsAppState.Name(),
		WhatsAppPairing.Name(),
		Notification.Name(),
		TaskCreated.Name(),
		TaskUpdated.Name(),
		TaskCompleted.Name(),
		FollowupTrigger.Name(),
		AnalyticsUpdate.Name(),
		UserUpdated.Name(),
	}
}

// IsInbound reports whether name is a known inbound event.
func IsInbound(name string) bool {
	for _, n := range InboundNames() {
		if n == name {
			return true
		}
	}
	return false
}
