package music

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/provider"
	"github.com/harmonia-music/harmonia/internal/store"
)

// AlbumController manages canonical albums.
type AlbumController struct {
	*Controller[*media.Album]
	set *Set
}

// Add resolves the album's artist references to canonical artists before
// running identity resolution, creating minimal canonical artists for
// references seen for the first time.
func (a *AlbumController) Add(ctx context.Context, album *media.Album, overwrite bool) (*media.Album, error) {
	refs, err := a.set.resolveArtistRefs(ctx, album.Artists)
	if err != nil {
		return nil, err
	}
	album.Artists = refs
	return a.Controller.Add(ctx, album, overwrite)
}

// Tracks lists the album's tracks, fanned out across the album's provider
// mappings and merged on (sort name, version).
func (a *AlbumController) Tracks(ctx context.Context, album *media.Album) ([]*media.Track, error) {
	checksum := album.Metadata.Checksum
	all := fanOut(ctx, a.logger, album.Mappings, func(ctx context.Context, m media.ProviderMapping) ([]*media.Track, error) {
		key := listingKey(m.ProviderInstance, listingAlbumTracks, m.ItemID)
		return cachedListing(ctx, a.cache, key, checksum, func(ctx context.Context) ([]*media.Track, error) {
			return a.providerTracks(ctx, album, m)
		})
	})
	return mergeChildren(all), nil
}

func (a *AlbumController) providerTracks(ctx context.Context, album *media.Album, m media.ProviderMapping) ([]*media.Track, error) {
	p := a.registry.Get(m.ProviderInstance)
	if p == nil {
		return nil, nil
	}
	if !provider.Supports(p, provider.FeatureAlbumTracks) {
		return a.localTracks(ctx, album, m.ProviderInstance)
	}
	if err := a.limiters.Wait(ctx, p.Instance()); err != nil {
		return nil, err
	}
	return p.GetAlbumTracks(ctx, m.ItemID)
}

// localTracks approximates a provider's album-tracks listing from rows
// already in the library.
func (a *AlbumController) localTracks(ctx context.Context, album *media.Album, instance string) ([]*media.Track, error) {
	if !album.IsCanonical() {
		return nil, nil
	}
	rows, err := a.set.rowsReferencing(ctx, store.TableTracks, "album", album.ItemID)
	if err != nil {
		return nil, err
	}
	var out []*media.Track
	for _, row := range rows {
		track, err := trackFromRow(row)
		if err != nil {
			continue
		}
		if _, ok := track.Mappings.ForInstance(instance); ok {
			out = append(out, track)
		}
	}
	return out, nil
}

// Versions searches every active search-capable provider for alternate
// versions of the album (remasters, deluxe editions). A hit must agree on
// album name and album artist; provider items the album is already mapped
// to are excluded. Raw search results are cached per provider under the
// album's metadata checksum.
func (a *AlbumController) Versions(ctx context.Context, album *media.Album) ([]*media.Album, error) {
	artist := album.Artist()
	if artist == nil {
		return nil, nil
	}
	refSort := album.SortName
	if refSort == "" {
		refSort = media.SortNameOf(album.Name)
	}
	artistSort := artist.SortName
	if artistSort == "" {
		artistSort = media.SortNameOf(artist.Name)
	}
	query := artist.Name + " - " + album.Name
	checksum := album.Metadata.Checksum

	var (
		mu  sync.Mutex
		all []*media.Album
	)
	var g errgroup.Group
	g.SetLimit(fanOutLimit)
	for _, p := range a.registry.Active() {
		p := p
		if !provider.Supports(p, provider.FeatureSearch) {
			continue
		}
		g.Go(func() error {
			key := listingKey(p.Instance(), listingAlbumVersions, album.ItemID)
			hits, err := cachedListing(ctx, a.cache, key, checksum, func(ctx context.Context) ([]*media.Album, error) {
				if err := a.limiters.Wait(ctx, p.Instance()); err != nil {
					return nil, err
				}
				results, err := p.Search(ctx, query, media.TypeAlbum, searchLimit)
				if err != nil {
					return nil, err
				}
				return results.Albums, nil
			})
			if err != nil {
				a.logger.Debug("album version search failed",
					"album", album.Name, "provider", p.Instance(), "error", err)
				return nil
			}
			var keep []*media.Album
			for _, hit := range hits {
				if media.SortNameOf(hit.Name) != refSort {
					continue
				}
				hitArtist := hit.Artist()
				if hitArtist == nil || media.SortNameOf(hitArtist.Name) != artistSort {
					continue
				}
				if album.Mappings.Contains(media.ProviderMapping{ProviderDomain: p.Domain(), ItemID: hit.ItemID}) {
					continue
				}
				keep = append(keep, hit)
			}
			mu.Lock()
			all = append(all, keep...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // branches never return errors
	return mergeChildren(all), nil
}

// Match links the canonical album to every active search-capable provider
// it has no mapping for yet. Only an exact album name and album-artist
// agreement creates a link.
func (a *AlbumController) Match(ctx context.Context, album *media.Album) error {
	if !album.IsCanonical() {
		return &InvariantError{Reason: "only canonical items can be matched"}
	}
	if album.AlbumType == media.AlbumTypeCompilation {
		// Compilations share their name across catalogs too freely to
		// link safely.
		return nil
	}
	domains := album.Mappings.Domains()

	var g errgroup.Group
	for _, p := range a.registry.Active() {
		p := p
		if _, ok := domains[p.Domain()]; ok {
			continue
		}
		if !provider.Supports(p, provider.FeatureSearch) {
			continue
		}
		g.Go(func() error {
			if err := a.set.matchSem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer a.set.matchSem.Release(1)
			found, err := a.matchOne(ctx, album, p)
			if err != nil {
				a.logger.Warn("album match failed", "album", album.Name, "provider", p.Instance(), "error", err)
				return nil
			}
			if !found {
				a.logger.Info("could not match album on provider", "album", album.Name, "provider", p.Instance())
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *AlbumController) matchOne(ctx context.Context, album *media.Album, p provider.Provider) (bool, error) {
	artist := album.Artist()
	if artist == nil {
		return false, nil
	}
	artistSort := artist.SortName
	if artistSort == "" {
		artistSort = media.SortNameOf(artist.Name)
	}
	queries := []string{
		artist.Name + " - " + album.Name,
		artist.Name + " " + album.Name,
		album.Name,
	}
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := a.limiters.Wait(ctx, p.Instance()); err != nil {
			return false, err
		}
		results, err := p.Search(ctx, q, media.TypeAlbum, searchLimit)
		if err != nil {
			continue
		}
		for _, hit := range results.Albums {
			if media.SortNameOf(hit.Name) != album.SortName {
				continue
			}
			if media.SortNameOf(hit.Version) != media.SortNameOf(album.Version) {
				continue
			}
			hitArtist := hit.Artist()
			if hitArtist == nil || media.SortNameOf(hitArtist.Name) != artistSort {
				continue
			}
			return true, a.linkProviderAlbum(ctx, album, p, hit.ItemID)
		}
	}
	return false, nil
}

func (a *AlbumController) linkProviderAlbum(ctx context.Context, album *media.Album, p provider.Provider, providerItemID string) error {
	if err := a.limiters.Wait(ctx, p.Instance()); err != nil {
		return err
	}
	full, err := p.GetAlbum(ctx, providerItemID)
	if err != nil {
		return err
	}
	ensureMapping(&full.Core, p, providerItemID)
	_, err = a.Update(ctx, album.ItemID, full, false)
	return err
}

// mergeAlbumFields merges the album-specific fields of src into dst.
func mergeAlbumFields(dst, src *media.Album, authoritative bool) {
	if src.Year != 0 && (dst.Year == 0 || authoritative) {
		dst.Year = src.Year
	}
	if src.AlbumType != "" && src.AlbumType != media.AlbumTypeUnknown &&
		(dst.AlbumType == "" || dst.AlbumType == media.AlbumTypeUnknown || authoritative) {
		dst.AlbumType = src.AlbumType
	}
	if len(src.Artists) > 0 && (len(dst.Artists) == 0 || authoritative) {
		dst.Artists = src.Artists
	}
	dst.Barcodes = mergeUnique(dst.Barcodes, src.Barcodes)
}

func mergeUnique(cur, in []string) []string {
	seen := make(map[string]struct{}, len(cur))
	for _, s := range cur {
		seen[s] = struct{}{}
	}
	for _, s := range in {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			cur = append(cur, s)
		}
	}
	return cur
}
