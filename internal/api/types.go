package api

import "github.com/rickgao/crm-console/internal/model"

// LoginRequest for POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse from POST /auth/login
type LoginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// LeadsResponse from GET /leads
type LeadsResponse struct {
	Leads []model.Lead `json:"leads"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Pages int          `json:"pages"`
}

// ListLeadsOptions configures a ListLeads request.
type ListLeadsOptions struct {
	Status model.LeadStatus
	Search string
	Page   int
	Limit  int
}

// UpdateLeadStatusRequest for PATCH /leads/{id}/status
type UpdateLeadStatusRequest struct {
	Status model.LeadStatus `json:"status"`
}

// SendMessageRequest for POST /messages/send
type SendMessageRequest struct {
	LeadID   string `json:"leadId"`
	Content  string `json:"content"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

// ListTasksOptions configures a ListTasks request.
type ListTasksOptions struct {
	LeadID    string
	Completed *bool // nil = both
}

// ListNotificationsOptions configures a ListNotifications request.
type ListNotificationsOptions struct {
	UnreadOnly bool
	Limit      int
}
