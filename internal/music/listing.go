package music

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/harmonia-music/harmonia/internal/cache"
	"github.com/harmonia-music/harmonia/internal/media"
)

// Listing kinds, part of the deterministic cache key
// {provider_instance}.{listing_kind}.{entity_id}.
const (
	listingArtistAlbums   = "artist.albums"
	listingArtistTracks   = "artist.toptracks"
	listingAlbumTracks    = "album.tracks"
	listingPlaylistTracks = "playlist.tracks"
	listingAlbumVersions  = "album.versions"
	listingTrackVersions  = "track.versions"
)

// fanOutLimit bounds how many provider listing calls run at once.
const fanOutLimit = 8

func listingKey(instance, kind, entityID string) string {
	return instance + "." + kind + "." + entityID
}

// cachedListing returns the cached listing for key when the stored checksum
// matches, otherwise runs fetch and writes the result back asynchronously.
// A failed cache write only costs a miss next time.
func cachedListing[U media.Item](ctx context.Context, cs *cache.Store, key, checksum string, fetch func(ctx context.Context) ([]U, error)) ([]U, error) {
	if data, ok := cs.Get(ctx, key, checksum); ok {
		var out []U
		if err := json.Unmarshal(data, &out); err == nil {
			return out, nil
		}
	}
	items, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(items); err == nil {
		cs.SetAsync(key, data, checksum)
	}
	return items, nil
}

// fanOut runs branch once per provider mapping concurrently and collects
// the results. A branch that errors contributes nothing; it never aborts
// or blocks the other branches.
func fanOut[U media.Item](ctx context.Context, logger *slog.Logger, mappings media.MappingSet, branch func(ctx context.Context, m media.ProviderMapping) ([]U, error)) []U {
	var (
		mu  sync.Mutex
		all []U
	)
	var g errgroup.Group
	g.SetLimit(fanOutLimit)
	for _, m := range mappings {
		m := m
		g.Go(func() error {
			items, err := branch(ctx, m)
			if err != nil {
				logger.Debug("provider listing failed",
					"provider", m.ProviderInstance, "provider_item_id", m.ItemID, "error", err)
				return nil
			}
			mu.Lock()
			all = append(all, items...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // branches never return errors
	return all
}

// mergeChildren de-duplicates per-provider child items. The merge key is
// (sort name, version), not a provider id: the same child appears under a
// different id per source. Mapping sets union; in_library is a logical OR
// and never downgrades.
func mergeChildren[U media.Item](items []U) []U {
	out := make([]U, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		c := item.Common()
		if c.SortName == "" {
			c.SortName = media.SortNameOf(c.Name)
		}
		key := c.SortName + "\x00" + c.Version
		if i, ok := index[key]; ok {
			mc := out[i].Common()
			mc.Mappings = mc.Mappings.Union(c.Mappings)
			mc.InLibrary = mc.InLibrary || c.InLibrary
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	return out
}
