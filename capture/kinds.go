package capture

import (
	"context"
	"fmt"

	"github.com/yairfalse/ferry/api"
	"github.com/yairfalse/ferry/types"
)

func positionsOf(kind types.Kind) []string {
	if p := kind.MustSpec().Positions; len(p) > 0 {
		return p
	}
	return []string{""}
}

func checkFolderKind(kind types.Kind) error {
	spec, ok := kind.Spec()
	if !ok {
		return fmt.Errorf("unknown resource kind %q", kind)
	}
	if spec.Scope != types.ScopeFolder {
		return fmt.Errorf("kind %s is not folder scoped", kind)
	}
	return nil
}

// split lists kind as seen from folder and separates records owned by the
// folder from records inherited from an ancestor. The service only shows
// a folder its own records and those of its ancestors, so any other owner
// is a strict ancestor. Snippet records are neither.
func (c *Capturer) split(ctx context.Context, kind types.Kind, folder string) (owned, inherited []types.Record, err error) {
	for _, pos := range positionsOf(kind) {
		target := api.Target{Folder: folder, Position: pos}
		items, err := c.client.List(ctx, kind, target)
		if err != nil {
			return owned, inherited, err
		}
		for _, item := range items {
			rec := c.toRecord(kind, item, target)
			switch {
			case rec.Snippet != "":
				continue
			case rec.Folder == folder:
				owned = append(owned, rec)
			default:
				inherited = append(inherited, rec)
			}
		}
	}
	return owned, inherited, nil
}

// CaptureKind returns the records of kind owned by folder. Rules come
// back pre then post, each in service order.
func (c *Capturer) CaptureKind(ctx context.Context, kind types.Kind, folder string) ([]types.Record, error) {
	if err := checkFolderKind(kind); err != nil {
		return nil, err
	}
	owned, _, err := c.split(ctx, kind, folder)
	return owned, err
}

// CaptureParentLevelKind returns the records of kind visible in folder
// but owned by one of its ancestors.
func (c *Capturer) CaptureParentLevelKind(ctx context.Context, kind types.Kind, folder string) ([]types.Record, error) {
	if err := checkFolderKind(kind); err != nil {
		return nil, err
	}
	_, inherited, err := c.split(ctx, kind, folder)
	return inherited, err
}

// captureFamily captures every folder scoped kind of family for folder.
// A failing kind is recorded and the remaining kinds still run. With
// tolerateMissing a 404 means the family is not available on the tenant.
func (c *Capturer) captureFamily(ctx context.Context, family types.Family, folder string, tolerateMissing bool) Result {
	var res Result
	seen := make(map[string]bool)

	for _, kind := range types.KindsOfScope(family, types.ScopeFolder) {
		if !c.filter.ShouldCaptureKind(kind) {
			continue
		}
		owned, inherited, err := c.split(ctx, kind, folder)
		if err != nil {
			if tolerateMissing && api.IsNotFound(err) {
				c.logger.Debug().Str("kind", string(kind)).Str("folder", folder).Msg("resource family not available")
				continue
			}
			capErr := newCaptureError(folder, kind, err)
			res.Errors = append(res.Errors, capErr)
			c.logger.Warn().Err(err).Str("kind", string(kind)).Str("folder", folder).Msg("capture failed")
			if capErr.Fatal() {
				return res
			}
		}

		res.Owned = append(res.Owned, owned...)
		for _, rec := range inherited {
			key := rec.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			res.Parents = append(res.Parents, types.ParentDependency{
				Kind:         rec.Kind,
				Name:         rec.Name,
				SourceFolder: rec.Folder,
			})
		}
	}
	return res
}

// CaptureRules captures the security rules of folder.
func (c *Capturer) CaptureRules(ctx context.Context, folder string) Result {
	return c.captureFamily(ctx, types.FamilyRule, folder, false)
}

// CaptureObjects captures tags, addresses, services, applications and
// the other shared objects of folder.
func (c *Capturer) CaptureObjects(ctx context.Context, folder string) Result {
	return c.captureFamily(ctx, types.FamilyObject, folder, false)
}

// CaptureProfiles captures the security profiles of folder.
func (c *Capturer) CaptureProfiles(ctx context.Context, folder string) Result {
	return c.captureFamily(ctx, types.FamilyProfile, folder, false)
}

// CaptureHIP captures HIP objects and profiles of folder.
func (c *Capturer) CaptureHIP(ctx context.Context, folder string) Result {
	return c.captureFamily(ctx, types.FamilyHIP, folder, false)
}

// CaptureInfrastructure captures folder scoped infrastructure. Families
// the tenant does not offer yield no records.
func (c *Capturer) CaptureInfrastructure(ctx context.Context, folder string) Result {
	return c.captureFamily(ctx, types.FamilyInfrastructure, folder, true)
}

// CaptureTenantInfrastructure captures the tenant scoped infrastructure.
func (c *Capturer) CaptureTenantInfrastructure(ctx context.Context) (types.Infrastructure, []*CaptureError) {
	infra := types.Infrastructure{}
	var errs []*CaptureError

	for _, kind := range types.KindsOfScope(types.FamilyInfrastructure, types.ScopeTenant) {
		if !c.filter.ShouldCaptureKind(kind) {
			continue
		}
		items, err := c.client.List(ctx, kind, api.Target{})
		if err != nil {
			if api.IsNotFound(err) {
				continue
			}
			capErr := newCaptureError("", kind, err)
			errs = append(errs, capErr)
			if capErr.Fatal() {
				return infra, errs
			}
			continue
		}
		for _, item := range items {
			infra[kind] = append(infra[kind], c.toRecord(kind, item, api.Target{}))
		}
	}
	return infra, errs
}

// CaptureSnippetContents captures every record owned by the snippet.
func (c *Capturer) CaptureSnippetContents(ctx context.Context, snippet string) Result {
	var res Result
	families := []types.Family{types.FamilyRule, types.FamilyObject, types.FamilyProfile, types.FamilyHIP}

	for _, family := range families {
		for _, kind := range types.KindsOfScope(family, types.ScopeFolder) {
			if !kind.MustSpec().Snippets || !c.filter.ShouldCaptureKind(kind) {
				continue
			}
			for _, pos := range positionsOf(kind) {
				target := api.Target{Snippet: snippet, Position: pos}
				items, err := c.client.List(ctx, kind, target)
				if err != nil {
					capErr := newCaptureError(snippet, kind, err)
					res.Errors = append(res.Errors, capErr)
					if capErr.Fatal() {
						return res
					}
					break
				}
				for _, item := range items {
					rec := c.toRecord(kind, item, target)
					if rec.Snippet == snippet {
						res.Owned = append(res.Owned, rec)
					}
				}
			}
		}
	}
	return res
}
