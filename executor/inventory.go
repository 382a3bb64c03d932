package executor

import (
	"context"
	"fmt"

	"github.com/yairfalse/ferry/api"
	"github.com/yairfalse/ferry/types"
)

// inventory knows which names are taken in the destination. It is fed
// either by a snapshot or by listing each (kind, container) once.
// Containers created by the run are known to be empty and never listed.
type inventory struct {
	dest     Destination
	snapshot bool
	loaded   map[string]bool
	fresh    map[string]bool
	ids      map[string]string
}

func newInventory(dest Destination, snapshot *types.Tree) *inventory {
	inv := &inventory{
		dest:   dest,
		loaded: make(map[string]bool),
		fresh:  make(map[string]bool),
		ids:    make(map[string]string),
	}
	if snapshot == nil {
		return inv
	}

	inv.snapshot = true
	for _, f := range snapshot.SecurityPolicies.Folders {
		inv.ids[types.RecordKey(types.KindFolder, "", f.Name)] = f.ID
	}
	for _, s := range snapshot.SecurityPolicies.Snippets {
		inv.ids[types.RecordKey(types.KindSnippet, "", s.Name)] = s.ID
	}
	for _, rec := range snapshot.AllRecords() {
		inv.ids[rec.Key()] = rec.ID
	}
	return inv
}

func freshKey(kind types.Kind, name string) string {
	return string(kind) + "\x00" + name
}

// planned marks a folder or snippet the run creates. A dry run never
// writes it, so listing its contents would hit a container the
// destination does not have.
func (inv *inventory) planned(kind types.Kind, name string) {
	inv.fresh[freshKey(kind, name)] = true
}

func (inv *inventory) isFresh(target api.Target) bool {
	if target.Snippet != "" {
		return inv.fresh[freshKey(types.KindSnippet, target.Snippet)]
	}
	return target.Folder != "" && inv.fresh[freshKey(types.KindFolder, target.Folder)]
}

func containerOf(target api.Target) string {
	if target.Snippet != "" {
		return target.Snippet
	}
	return target.Folder
}

// scope returns the container a kind is keyed under at target.
func scope(kind types.Kind, target api.Target) string {
	if kind.MustSpec().Scope == types.ScopeTenant {
		return ""
	}
	return containerOf(target)
}

// lookup returns the destination id of name and whether it exists.
func (inv *inventory) lookup(ctx context.Context, kind types.Kind, target api.Target, name string) (string, bool, error) {
	if err := inv.load(ctx, kind, target); err != nil {
		return "", false, err
	}
	id, ok := inv.ids[types.RecordKey(kind, scope(kind, target), name)]
	return id, ok, nil
}

// add marks name as taken.
func (inv *inventory) add(kind types.Kind, target api.Target, name, id string) {
	inv.ids[types.RecordKey(kind, scope(kind, target), name)] = id
}

// freeName picks <name><suffix>, then <name><suffix>_2 and so on.
func (inv *inventory) freeName(ctx context.Context, kind types.Kind, target api.Target, name, suffix string) (string, error) {
	candidate := name + suffix
	for n := 2; ; n++ {
		_, taken, err := inv.lookup(ctx, kind, target, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%s_%d", name, suffix, n)
	}
}

func (inv *inventory) load(ctx context.Context, kind types.Kind, target api.Target) error {
	if inv.snapshot {
		return nil
	}
	container := scope(kind, target)
	loadKey := string(kind) + "\x00" + container
	if inv.loaded[loadKey] {
		return nil
	}
	if container != "" && inv.isFresh(target) {
		inv.loaded[loadKey] = true
		return nil
	}

	positions := kind.MustSpec().Positions
	if len(positions) == 0 {
		positions = []string{""}
	}
	for _, position := range positions {
		listTarget := api.Target{Folder: target.Folder, Snippet: target.Snippet, Position: position}
		items, err := inv.dest.List(ctx, kind, listTarget)
		if err != nil {
			return fmt.Errorf("failed to list destination %s at %s: %w", kind, listTarget, err)
		}
		for _, item := range items {
			if container != "" && !ownedBy(item, container) {
				continue
			}
			name, _ := item["name"].(string)
			id, _ := item["id"].(string)
			if name != "" {
				inv.ids[types.RecordKey(kind, container, name)] = id
			}
		}
	}
	inv.loaded[loadKey] = true
	return nil
}

// ownedBy reports whether a listed item lives in container rather than
// being inherited from an ancestor folder.
func ownedBy(item api.Item, container string) bool {
	if folder, _ := item["folder"].(string); folder == container {
		return true
	}
	snippet, _ := item["snippet"].(string)
	return snippet == container
}
