package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/yairfalse/ferry/types"
)

// Target addresses a folder scoped list or write. At most one of Folder
// and Snippet is set. Tenant scoped kinds ignore it.
type Target struct {
	Folder   string
	Snippet  string
	Position string
}

// String renders the target for logs.
func (t Target) String() string {
	switch {
	case t.Snippet != "":
		return "snippet:" + t.Snippet
	case t.Folder != "":
		return "folder:" + t.Folder
	}
	return "tenant"
}

type listResponse struct {
	Data   []Item `json:"data"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Total  int    `json:"total"`
}

func kindPath(kind types.Kind) (types.KindSpec, error) {
	spec, ok := kind.Spec()
	if !ok {
		return types.KindSpec{}, fmt.Errorf("unknown resource kind %q", kind)
	}
	return spec, nil
}

// List returns every item of kind visible at target, across all pages.
func (c *Client) List(ctx context.Context, kind types.Kind, target Target) ([]Item, error) {
	spec, err := kindPath(kind)
	if err != nil {
		return nil, err
	}

	return Paginate(ctx, c.cfg.PageSize, func(ctx context.Context, offset, limit int) ([]Item, error) {
		opts := ListOptions{Limit: limit, Offset: offset}
		if spec.Scope == types.ScopeFolder {
			opts.Folder = target.Folder
			opts.Snippet = target.Snippet
			opts.Position = target.Position
		}
		data, err := c.Request(ctx, http.MethodGet, spec.Path, opts.Values(), nil, true)
		if err != nil {
			return nil, err
		}
		var lr listResponse
		if err := json.Unmarshal(data, &lr); err != nil {
			return nil, fmt.Errorf("failed to decode %s list: %w", kind, err)
		}
		return lr.Data, nil
	})
}

// Get fetches one item by id.
func (c *Client) Get(ctx context.Context, kind types.Kind, id string) (Item, error) {
	spec, err := kindPath(kind)
	if err != nil {
		return nil, err
	}
	data, err := c.Request(ctx, http.MethodGet, spec.Path+"/"+url.PathEscape(id), nil, nil, true)
	if err != nil {
		return nil, err
	}
	return decodeItem(kind, data)
}

// Create adds an item of kind at target and returns the stored item.
func (c *Client) Create(ctx context.Context, kind types.Kind, target Target, attrs Item) (Item, error) {
	spec, err := kindPath(kind)
	if err != nil {
		return nil, err
	}

	body := writeBody(attrs)
	var params url.Values
	if spec.Scope == types.ScopeFolder {
		if target.Snippet != "" {
			body["snippet"] = target.Snippet
		} else if target.Folder != "" {
			body["folder"] = target.Folder
		}
		if target.Position != "" {
			params = url.Values{"position": {target.Position}}
		}
	}

	data, err := c.Request(ctx, http.MethodPost, spec.Path, params, body, false)
	if err != nil {
		return nil, err
	}
	return decodeItem(kind, data)
}

// Update replaces the item with the given id.
func (c *Client) Update(ctx context.Context, kind types.Kind, id string, attrs Item) (Item, error) {
	spec, err := kindPath(kind)
	if err != nil {
		return nil, err
	}
	data, err := c.Request(ctx, http.MethodPut, spec.Path+"/"+url.PathEscape(id), nil, writeBody(attrs), false)
	if err != nil {
		return nil, err
	}
	return decodeItem(kind, data)
}

// Delete removes the item with the given id.
func (c *Client) Delete(ctx context.Context, kind types.Kind, id string) error {
	spec, err := kindPath(kind)
	if err != nil {
		return err
	}
	_, err = c.Request(ctx, http.MethodDelete, spec.Path+"/"+url.PathEscape(id), nil, nil, false)
	return err
}

// writeBody copies attrs without the server assigned fields.
func writeBody(attrs Item) Item {
	body := make(Item, len(attrs))
	for k, v := range attrs {
		switch k {
		case "id", "folder", "snippet":
			continue
		}
		body[k] = v
	}
	return body
}

func decodeItem(kind types.Kind, data []byte) (Item, error) {
	if len(data) == 0 {
		return Item{}, nil
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return item, nil
}
