package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rickgao/crm-console/internal/model"
)

// ListTasks fetches follow-up tasks.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) ([]model.Task, error) {
	query := url.Values{}
	if opts.LeadID != "" {
		query.Set("leadId", opts.LeadID)
	}
	if opts.Completed != nil {
		query.Set("completed", strconv.FormatBool(*opts.Completed))
	}

	var tasks []model.Task
	if err := c.get(ctx, "/tasks", query, &tasks); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListNotifications fetches the notification center, newest first.
func (c *Client) ListNotifications(ctx context.Context, opts ListNotificationsOptions) ([]model.Notification, error) {
	query := url.Values{}
	if opts.UnreadOnly {
		query.Set("unread", "true")
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var notes []model.Notification
	if err := c.get(ctx, "/notifications", query, &notes); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notes, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	path := "/notifications/" + url.PathEscape(id) + "/read"
	if err := c.send(ctx, http.MethodPatch, path, nil, nil); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}
