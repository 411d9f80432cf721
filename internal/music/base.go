// Package music implements the library resolution and synchronization
// core: identity resolution and upsert of provider-sourced media items,
// cache-backed provider fan-out, cross-provider matching, and cascading
// delete, over one generic controller parameterized per media type.
package music

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harmonia-music/harmonia/internal/cache"
	"github.com/harmonia-music/harmonia/internal/event"
	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/provider"
	"github.com/harmonia-music/harmonia/internal/store"
)

// sortNameScanLimit bounds how many equal-sort-name candidate rows the
// identity resolution scans before giving up and inserting a new row.
const sortNameScanLimit = 500

// dependentsLimit bounds how many dependent rows a cascading delete will
// consider in one pass.
const dependentsLimit = 5000

// Dependent identifies one row that references another item and must be
// removed before that item can be deleted.
type Dependent struct {
	Kind   media.Type
	ItemID string
}

// Policy carries the per-media-type configuration of the generic
// controller: table name, row codec, provider accessor, and the variant
// field hooks identity resolution and merging need.
type Policy[T media.Item] struct {
	Kind  media.Type
	Table string

	FromRow func(store.Row) (T, error)
	ToRow   func(T) store.Row

	// FetchItem retrieves one full item from a provider.
	FetchItem func(ctx context.Context, p provider.Provider, id string) (T, error)

	// MergeFields merges the variant-specific fields of src into dst.
	// Core fields (name, metadata, mappings) are merged by the controller
	// itself. Optional.
	MergeFields func(dst, src T, authoritative bool)

	// Canonicalize normalizes identity-sensitive fields before resolution
	// and again after merge. Optional.
	Canonicalize func(T)

	// Dependents lists rows in other tables referencing the item. Wired
	// by the controller set after construction; nil means no dependents.
	Dependents func(ctx context.Context, itemID string) ([]Dependent, error)

	// DeleteDependent removes one dependent via its own type's delete.
	DeleteDependent func(ctx context.Context, d Dependent) error
}

// Controller implements add/update/get/delete and identity resolution for
// one media type. The four concrete controllers are thin wrappers over it.
type Controller[T media.Item] struct {
	policy   Policy[T]
	store    *store.Store
	cache    *cache.Store
	registry *provider.Registry
	limiters *provider.RateLimiterMap
	bus      *event.Bus
	logger   *slog.Logger

	// enrich is a best-effort external metadata hook applied on add.
	enrich func(ctx context.Context, item T) error

	// addLock serializes the read-then-decide-then-write span of Add for
	// this media type. Identity is heuristic, so no finer-grained lock is
	// possible before the match is found.
	addLock sync.Mutex
}

func newController[T media.Item](p Policy[T], deps controllerDeps) *Controller[T] {
	return &Controller[T]{
		policy:   p,
		store:    deps.store,
		cache:    deps.cache,
		registry: deps.registry,
		limiters: deps.limiters,
		bus:      deps.bus,
		logger:   deps.logger.With(slog.String("media_type", string(p.Kind))),
	}
}

type controllerDeps struct {
	store    *store.Store
	cache    *cache.Store
	registry *provider.Registry
	limiters *provider.RateLimiterMap
	bus      *event.Bus
	logger   *slog.Logger
}

// Get returns the canonical item with the given id.
func (c *Controller[T]) Get(ctx context.Context, itemID string) (T, error) {
	var zero T
	row, err := c.store.GetRow(ctx, c.policy.Table, store.Row{"item_id": itemID})
	if err != nil {
		return zero, err
	}
	if row == nil {
		return zero, &NotFoundError{Kind: c.policy.Kind, Key: itemID}
	}
	return c.policy.FromRow(row)
}

// GetByProviderID resolves the canonical item holding a mapping for the
// given provider item id. The bool result is false when no such mapping
// exists.
func (c *Controller[T]) GetByProviderID(ctx context.Context, domainOrInstance, providerItemID string) (T, bool, error) {
	var zero T
	match := store.Row{
		"media_type":       string(c.policy.Kind),
		"provider_item_id": providerItemID,
	}
	rows, err := c.store.GetRows(ctx, store.TableProviderMappings, match, "", 0)
	if err != nil {
		return zero, false, err
	}
	for _, row := range rows {
		if row.String("provider_domain") != domainOrInstance &&
			row.String("provider_instance") != domainOrInstance {
			continue
		}
		item, err := c.Get(ctx, row.String("item_id"))
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return zero, false, err
		}
		return item, true, nil
	}
	return zero, false, nil
}

// Library lists canonical in-library items, optionally filtered by a
// case-insensitive name substring, ordered by sort name.
func (c *Controller[T]) Library(ctx context.Context, search string, limit, offset int) ([]T, error) {
	query := "SELECT * FROM " + c.policy.Table + " WHERE in_library = 1" //nolint:gosec // table name is a policy constant
	var args []any
	if search != "" {
		query += " AND (name LIKE ? OR sort_name LIKE ?)"
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}
	query += " ORDER BY sort_name"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	rows, err := c.store.GetRowsFromQuery(ctx, query, args, 0)
	if err != nil {
		return nil, err
	}
	return c.itemsFromRows(rows)
}

// Resolve returns the item identified by a provider reference: the
// canonical row for the library pseudo provider or when a mapping already
// links the provider id to one, otherwise the item fetched live from the
// provider.
func (c *Controller[T]) Resolve(ctx context.Context, domainOrInstance, itemID string) (T, error) {
	var zero T
	if domainOrInstance == media.ProviderLibrary {
		return c.Get(ctx, itemID)
	}
	if item, ok, err := c.GetByProviderID(ctx, domainOrInstance, itemID); err != nil {
		return zero, err
	} else if ok {
		return item, nil
	}
	return c.GetProviderItem(ctx, domainOrInstance, itemID)
}

// GetProviderItem fetches one full item live from a provider. An
// unregistered provider is a NotFoundError.
func (c *Controller[T]) GetProviderItem(ctx context.Context, domainOrInstance, itemID string) (T, error) {
	var zero T
	p := c.registry.Get(domainOrInstance)
	if p == nil {
		return zero, &NotFoundError{Kind: c.policy.Kind, Key: domainOrInstance + "/" + itemID}
	}
	if err := c.limiters.Wait(ctx, p.Instance()); err != nil {
		return zero, err
	}
	return c.policy.FetchItem(ctx, p, itemID)
}

// Add reconciles an incoming provider-sourced item against the canonical
// table and returns the canonical item, guaranteeing a single row per
// real-world entity even under concurrent adds. overwrite forces the
// incoming item's display fields to win during merge.
func (c *Controller[T]) Add(ctx context.Context, item T, overwrite bool) (T, error) {
	var zero T
	core := item.Common()
	if len(core.Mappings) == 0 {
		return zero, &InvariantError{Reason: fmt.Sprintf("%s %q has no provider mappings", c.policy.Kind, core.Name)}
	}
	core.Normalize()
	if c.policy.Canonicalize != nil {
		c.policy.Canonicalize(item)
	}
	if c.enrich != nil {
		if err := c.enrich(ctx, item); err != nil {
			c.logger.Debug("metadata enrichment failed", "name", core.Name, "error", err)
		}
	}

	c.addLock.Lock()
	existingID, err := c.matchExisting(ctx, item)
	if err != nil {
		c.addLock.Unlock()
		return zero, err
	}
	if existingID != "" {
		c.addLock.Unlock()
		return c.Update(ctx, existingID, item, overwrite)
	}

	core.Touch(time.Now())
	row := c.policy.ToRow(item)
	inserted, err := c.store.Insert(ctx, c.policy.Table, row)
	c.addLock.Unlock()
	if err != nil {
		return zero, err
	}

	itemID := inserted.String("item_id")
	if err := c.writeMappings(ctx, itemID, core.Mappings); err != nil {
		return zero, err
	}
	stored, err := c.Get(ctx, itemID)
	if err != nil {
		return zero, err
	}
	c.publish(event.MediaItemAdded, stored)
	return stored, nil
}

// Update merges an incoming item into the existing canonical row and
// returns the re-read result. Display fields only change when the incoming
// item comes from a file-based provider or overwrite is set; metadata
// augments, mappings union, in_library never downgrades.
func (c *Controller[T]) Update(ctx context.Context, itemID string, item T, overwrite bool) (T, error) {
	var zero T
	existing, err := c.Get(ctx, itemID)
	if err != nil {
		return zero, err
	}

	in := item.Common()
	cur := existing.Common()
	authoritative := overwrite || fromFileProvider(in.Mappings)

	if in.Name != "" && (cur.Name == "" || authoritative) {
		cur.Name = in.Name
		cur.SortName = media.SortNameOf(in.Name)
	}
	if in.ExternalID != "" && (cur.ExternalID == "" || authoritative) {
		cur.ExternalID = in.ExternalID
	}
	if in.Version != "" && (cur.Version == "" || authoritative) {
		cur.Version = in.Version
	}
	cur.Metadata.Merge(in.Metadata, authoritative)
	cur.Mappings = cur.Mappings.Union(in.Mappings)
	cur.InLibrary = cur.InLibrary || in.InLibrary

	if c.policy.MergeFields != nil {
		c.policy.MergeFields(existing, item, authoritative)
	}
	if c.policy.Canonicalize != nil {
		c.policy.Canonicalize(existing)
	}
	cur.Touch(time.Now())

	row := c.policy.ToRow(existing)
	delete(row, "item_id")
	delete(row, "timestamp_added")
	if err := c.store.Update(ctx, c.policy.Table, store.Row{"item_id": itemID}, row); err != nil {
		return zero, err
	}
	if err := c.writeMappings(ctx, itemID, cur.Mappings); err != nil {
		return zero, err
	}
	stored, err := c.Get(ctx, itemID)
	if err != nil {
		return zero, err
	}
	c.publish(event.MediaItemUpdated, stored)
	return stored, nil
}

// SetInLibrary flips the in-library flag on a canonical item.
func (c *Controller[T]) SetInLibrary(ctx context.Context, itemID string, inLibrary bool) error {
	item, err := c.Get(ctx, itemID)
	if err != nil {
		return err
	}
	core := item.Common()
	if core.InLibrary == inLibrary {
		return nil
	}
	core.InLibrary = inLibrary
	core.Touch(time.Now())
	err = c.store.Update(ctx, c.policy.Table, store.Row{"item_id": itemID}, store.Row{
		"in_library":         boolInt(inLibrary),
		"timestamp_modified": core.TimestampModified,
	})
	if err != nil {
		return err
	}
	c.publish(event.MediaItemUpdated, item)
	return nil
}

// Delete removes a canonical item and its mapping rows. Items with
// dependents are rejected unless recursive is set, in which case each
// dependent is deleted first via its own type's delete. Concurrent
// structural mutations of the same id are a caller responsibility.
func (c *Controller[T]) Delete(ctx context.Context, itemID string, recursive bool) error {
	item, err := c.Get(ctx, itemID)
	if err != nil {
		return err
	}

	if c.policy.Dependents != nil {
		deps, err := c.policy.Dependents(ctx, itemID)
		if err != nil {
			return err
		}
		if len(deps) > 0 && !recursive {
			return &InvariantError{Reason: fmt.Sprintf(
				"%s %s has %d dependent items, recursive delete required", c.policy.Kind, itemID, len(deps))}
		}
		for _, d := range deps {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.policy.DeleteDependent(ctx, d); err != nil {
				// A concurrent operation may have removed it already.
				if IsNotFound(err) {
					continue
				}
				return err
			}
		}
	}

	if err := c.store.Delete(ctx, c.policy.Table, store.Row{"item_id": itemID}); err != nil {
		return err
	}
	err = c.store.Delete(ctx, store.TableProviderMappings, store.Row{
		"media_type": string(c.policy.Kind),
		"item_id":    itemID,
	})
	if err != nil {
		return err
	}
	c.publish(event.MediaItemDeleted, item)
	return nil
}

// matchExisting resolves an incoming item to an existing canonical row id,
// or "" when none matches. Strongest signal first: exact external id, then
// a bounded scan of equal-sort-name rows (most recently modified first)
// accepting the first exact sort-name and version agreement. Must run
// under the add lock.
func (c *Controller[T]) matchExisting(ctx context.Context, item T) (string, error) {
	core := item.Common()

	if core.ExternalID != "" {
		row, err := c.store.GetRow(ctx, c.policy.Table, store.Row{"external_id": core.ExternalID})
		if err != nil {
			return "", err
		}
		if row != nil {
			return row.String("item_id"), nil
		}
	}

	rows, err := c.store.GetRows(ctx, c.policy.Table,
		store.Row{"sort_name": core.SortName}, "timestamp_modified DESC", sortNameScanLimit)
	if err != nil {
		return "", err
	}
	for _, row := range rows {
		candidate, err := c.policy.FromRow(row)
		if err != nil {
			continue
		}
		cc := candidate.Common()
		if cc.SortName == core.SortName && cc.Version == core.Version {
			return cc.ItemID, nil
		}
	}
	return "", nil
}

// writeMappings persists the mapping set into the mapping table, the write
// path of record for provider-id lookups.
func (c *Controller[T]) writeMappings(ctx context.Context, itemID string, mappings media.MappingSet) error {
	for _, m := range mappings {
		match := store.Row{
			"media_type":       string(c.policy.Kind),
			"item_id":          itemID,
			"provider_domain":  m.ProviderDomain,
			"provider_item_id": m.ItemID,
		}
		row, err := c.store.GetRow(ctx, store.TableProviderMappings, match)
		if err != nil {
			return err
		}
		if row != nil {
			continue
		}
		insert := store.Row{
			"media_type":        string(c.policy.Kind),
			"item_id":           itemID,
			"provider_domain":   m.ProviderDomain,
			"provider_instance": m.ProviderInstance,
			"provider_item_id":  m.ItemID,
		}
		if _, err := c.store.Insert(ctx, store.TableProviderMappings, insert); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller[T]) itemsFromRows(rows []store.Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		item, err := c.policy.FromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Controller[T]) publish(t event.Type, item T) {
	c.bus.Publish(event.Event{
		Type: t,
		URI:  media.ItemURI(item),
		Data: item,
	})
}

// fromFileProvider reports whether any mapping in the set belongs to a
// file-based provider. File providers are authoritative for display fields.
func fromFileProvider(mappings media.MappingSet) bool {
	for _, m := range mappings {
		if provider.IsFileDomain(m.ProviderDomain) {
			return true
		}
	}
	return false
}
