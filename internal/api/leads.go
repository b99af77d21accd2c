package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rickgao/crm-console/internal/model"
)

// ListLeads fetches a page of leads.
func (c *Client) ListLeads(ctx context.Context, opts ListLeadsOptions) (*LeadsResponse, error) {
	query := url.Values{}

	if opts.Status != "" {
		query.Set("status", string(opts.Status))
	}
	if opts.Search != "" {
		query.Set("search", opts.Search)
	}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var resp LeadsResponse
	if err := c.get(ctx, "/leads", query, &resp); err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}

	return &resp, nil
}

// ListAllLeads fetches every lead matching opts by paging through results.
func (c *Client) ListAllLeads(ctx context.Context, opts ListLeadsOptions) ([]model.Lead, error) {
	var all []model.Lead
	if opts.Limit == 0 {
		opts.Limit = 100
	}
	opts.Page = 1

	for {
		resp, err := c.ListLeads(ctx, opts)
		if err != nil {
			return nil, err
		}

		all = append(all, resp.Leads...)

		if len(resp.Leads) == 0 || opts.Page >= resp.Pages {
			break
		}
		opts.Page++
	}

	return all, nil
}

// GetLead fetches a single lead by id.
func (c *Client) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var lead model.Lead
	if err := c.get(ctx, "/leads/"+url.PathEscape(id), nil, &lead); err != nil {
		return nil, fmt.Errorf("get lead %s: %w", id, err)
	}
	return &lead, nil
}

// UpdateLeadStatus moves a lead to a new pipeline stage.
func (c *Client) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) (*model.Lead, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("update lead %s: invalid status %q", id, status)
	}

	var lead model.Lead
	path := "/leads/" + url.PathEscape(id) + "/status"
	if err := c.send(ctx, http.MethodPatch, path, UpdateLeadStatusRequest{Status: status}, &lead); err != nil {
		return nil, fmt.Errorf("update lead %s: %w", id, err)
	}
	return &lead, nil
}
