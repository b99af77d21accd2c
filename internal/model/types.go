package model

import "time"

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

// User is an authenticated console user.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"` // "admin", "agent"
	Plan      string    `json:"plan"` // Billing plan identifier
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// -----------------------------------------------------------------------------
// Leads
// -----------------------------------------------------------------------------

// LeadStatus is the pipeline stage of a lead.
type LeadStatus string

const (
	LeadNew         LeadStatus = "new"
	LeadContacted   LeadStatus = "contacted"
	LeadQualified   LeadStatus = "qualified"
	LeadNegotiating LeadStatus = "negotiating"
	LeadWon         LeadStatus = "won"
	LeadLost        LeadStatus = "lost"
)

// Valid reports whether s is a known pipeline stage.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadNew, LeadContacted, LeadQualified, LeadNegotiating, LeadWon, LeadLost:
		return true
	}
	return false
}

// Closed reports whether the lead has left the active pipeline.
func (s LeadStatus) Closed() bool {
	return s == LeadWon || s == LeadLost
}

// Lead is a prospective customer, usually created from an inbound WhatsApp chat.
type Lead struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Phone      string     `json:"phone"`
	Email      string     `json:"email,omitempty"`
	Status     LeadStatus `json:"status"`
	Source     string     `json:"source"` // "whatsapp", "manual", "import"
	Score      int        `json:"score"`
	Tags       []string   `json:"tags,omitempty"`
	AssignedTo string     `json:"assignedTo,omitempty"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// -----------------------------------------------------------------------------
// Messaging
// -----------------------------------------------------------------------------

// Direction of a chat message relative to the business.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Message is a single WhatsApp chat message attached to a lead.
type Message struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"leadId"`
	Direction Direction `json:"direction"`
	Content   string    `json:"content"`
	MediaURL  string    `json:"mediaUrl,omitempty"`
	Status    string    `json:"status"` // "pending", "sent", "delivered", "read", "failed"
	SentAt    time.Time `json:"sentAt"`
}

// WhatsAppStatus describes the state of the linked WhatsApp session.
type WhatsAppStatus struct {
	Status      string    `json:"status"` // "connected", "disconnected", "qr_required", "connecting"
	Phone       string    `json:"phone,omitempty"`
	LastChecked time.Time `json:"lastChecked"`
}

// Connected reports whether the WhatsApp session can currently send messages.
func (s WhatsAppStatus) Connected() bool {
	return s.Status == "connected"
}

// -----------------------------------------------------------------------------
// Work items
// -----------------------------------------------------------------------------

// Task is a follow-up item assigned to a user, optionally tied to a lead.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LeadID      string    `json:"leadId,omitempty"`
	AssignedTo  string    `json:"assignedTo,omitempty"`
	Priority    string    `json:"priority"` // "low", "medium", "high"
	Completed   bool      `json:"completed"`
	DueAt       time.Time `json:"dueAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// Overdue reports whether the task is still open past its due time.
func (t Task) Overdue(now time.Time) bool {
	return !t.Completed && !t.DueAt.IsZero() && now.After(t.DueAt)
}

// Notification is an in-app notification shown in the console's notification center.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "lead", "message", "task", "billing", "system"
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
