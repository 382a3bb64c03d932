package api

import (
	"context"
	"fmt"
)

// Item is one resource as returned by the service.
type Item = map[string]any

// PageFunc fetches one page starting at offset.
type PageFunc func(ctx context.Context, offset, limit int) ([]Item, error)

// maxPages guards against a server that ignores the offset parameter.
const maxPages = 10000

// Paginate calls fetch with increasing offsets until a page shorter than
// pageSize comes back and returns the concatenated items.
func Paginate(ctx context.Context, pageSize int, fetch PageFunc) ([]Item, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid page size %d", pageSize)
	}

	var all []Item
	offset := 0
	for page := 0; page < maxPages; page++ {
		items, err := fetch(ctx, offset, pageSize)
		if err != nil {
			return all, err
		}
		all = append(all, items...)
		if len(items) < pageSize {
			return all, nil
		}
		offset += len(items)
	}
	return all, fmt.Errorf("pagination did not terminate after %d pages", maxPages)
}
