package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rickgao/crm-console/internal/model"
)

// ListMessages fetches the chat history for a lead, oldest first.
func (c *Client) ListMessages(ctx context.Context, leadID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.get(ctx, "/messages/"+url.PathEscape(leadID), nil, &msgs); err != nil {
		return nil, fmt.Errorf("list messages %s: %w", leadID, err)
	}
	return msgs, nil
}

// SendMessage sends a WhatsApp message to a lead.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*model.Message, error) {
	if req.LeadID == "" {
		return nil, errors.New("send message: lead id is required")
	}
	if req.Content == "" && req.MediaURL == "" {
		return nil, errors.New("send message: content or media is required")
	}

	var msg model.Message
	if err := c.send(ctx, http.MethodPost, "/messages/send", req, &msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &msg, nil
}

// WhatsAppStatus fetches the state of the linked WhatsApp session.
func (c *Client) WhatsAppStatus(ctx context.Context) (*model.WhatsAppStatus, error) {
	var status model.WhatsAppStatus
	if err := c.get(ctx, "/whatsapp/status", nil, &status); err != nil {
		return nil, fmt.Errorf("get whatsapp status: %w", err)
	}
	return &status, nil
}
