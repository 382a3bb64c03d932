package capture

import (
	"context"
	"fmt"

	"github.com/yairfalse/ferry/api"
	"github.com/yairfalse/ferry/types"
)

// DiscoverFolders lists the folder namespace and drops folders that
// cannot be migrated. Returned folders carry no records yet.
func (c *Capturer) DiscoverFolders(ctx context.Context) ([]types.Folder, error) {
	items, err := c.client.List(ctx, types.KindFolder, api.Target{})
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	folders := make([]types.Folder, 0, len(items))
	for _, item := range items {
		name, _ := item["name"].(string)
		if name == "" {
			continue
		}
		id, _ := item["id"].(string)
		parent, _ := item["parent"].(string)
		desc, _ := item["description"].(string)
		folders = append(folders, types.Folder{
			ID:          id,
			Name:        name,
			Parent:      parent,
			Description: desc,
			IsDefault:   c.classifier.Classify(types.KindFolder, name, parent),
		})
	}

	kept := c.filter.FilterFolders(folders)
	c.logger.Debug().
		Int("listed", len(folders)).
		Int("migratable", len(kept)).
		Msg("discovered folders")
	return kept, nil
}

// DiscoverSnippets lists every snippet with its folder associations.
func (c *Capturer) DiscoverSnippets(ctx context.Context) ([]types.Snippet, error) {
	items, err := c.client.List(ctx, types.KindSnippet, api.Target{})
	if err != nil {
		return nil, fmt.Errorf("failed to list snippets: %w", err)
	}

	snippets := make([]types.Snippet, 0, len(items))
	for _, item := range items {
		name, _ := item["name"].(string)
		if name == "" {
			continue
		}
		id, _ := item["id"].(string)
		desc, _ := item["description"].(string)
		snippets = append(snippets, types.Snippet{
			ID:          id,
			Name:        name,
			Description: desc,
			Folders:     associatedFolders(item["folders"]),
			IsDefault:   c.classifier.Classify(types.KindSnippet, name, ""),
		})
	}
	return snippets, nil
}

// associatedFolders accepts both a list of names and a list of
// {"name": ...} objects.
func associatedFolders(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, entry := range list {
		switch e := entry.(type) {
		case string:
			out = append(out, e)
		case map[string]any:
			if name, ok := e["name"].(string); ok {
				out = append(out, name)
			}
		}
	}
	return out
}
