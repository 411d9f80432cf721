package music

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/provider"
	"github.com/harmonia-music/harmonia/internal/store"
)

// maxRefTracks caps how many reference tracks the track-anchored match
// stage tries per provider.
const maxRefTracks = 25

// searchLimit is the per-query result cap used during matching.
const searchLimit = 25

// ArtistController manages canonical artists.
type ArtistController struct {
	*Controller[*media.Artist]
	set *Set
}

// Albums lists the artist's albums, fanned out in parallel across every
// provider in the artist's mapping set and merged on (sort name, version).
func (a *ArtistController) Albums(ctx context.Context, artist *media.Artist) ([]*media.Album, error) {
	checksum := artist.Metadata.Checksum
	all := fanOut(ctx, a.logger, artist.Mappings, func(ctx context.Context, m media.ProviderMapping) ([]*media.Album, error) {
		key := listingKey(m.ProviderInstance, listingArtistAlbums, m.ItemID)
		return cachedListing(ctx, a.cache, key, checksum, func(ctx context.Context) ([]*media.Album, error) {
			return a.providerAlbums(ctx, artist, m)
		})
	})
	return mergeChildren(all), nil
}

// providerAlbums fetches one provider's album listing for the artist,
// falling back to locally known albums when the provider has no native
// artist-albums capability. An unregistered provider yields nothing.
func (a *ArtistController) providerAlbums(ctx context.Context, artist *media.Artist, m media.ProviderMapping) ([]*media.Album, error) {
	p := a.registry.Get(m.ProviderInstance)
	if p == nil {
		return nil, nil
	}
	if !provider.Supports(p, provider.FeatureArtistAlbums) {
		return a.localAlbums(ctx, artist, m.ProviderInstance)
	}
	if err := a.limiters.Wait(ctx, p.Instance()); err != nil {
		return nil, err
	}
	return p.GetArtistAlbums(ctx, m.ItemID)
}

// TopTracks lists the artist's representative tracks across providers.
func (a *ArtistController) TopTracks(ctx context.Context, artist *media.Artist) ([]*media.Track, error) {
	checksum := artist.Metadata.Checksum
	all := fanOut(ctx, a.logger, artist.Mappings, func(ctx context.Context, m media.ProviderMapping) ([]*media.Track, error) {
		key := listingKey(m.ProviderInstance, listingArtistTracks, m.ItemID)
		return cachedListing(ctx, a.cache, key, checksum, func(ctx context.Context) ([]*media.Track, error) {
			return a.providerTopTracks(ctx, artist, m)
		})
	})
	return mergeChildren(all), nil
}

func (a *ArtistController) providerTopTracks(ctx context.Context, artist *media.Artist, m media.ProviderMapping) ([]*media.Track, error) {
	p := a.registry.Get(m.ProviderInstance)
	if p == nil {
		return nil, nil
	}
	if !provider.Supports(p, provider.FeatureArtistTopTracks) {
		return a.localTracks(ctx, artist, m.ProviderInstance)
	}
	if err := a.limiters.Wait(ctx, p.Instance()); err != nil {
		return nil, err
	}
	return p.GetArtistTopTracks(ctx, m.ItemID)
}

// localAlbums approximates a provider's artist-albums listing from rows
// already in the library. Never touches the network.
func (a *ArtistController) localAlbums(ctx context.Context, artist *media.Artist, instance string) ([]*media.Album, error) {
	if !artist.IsCanonical() {
		return nil, nil
	}
	rows, err := a.set.rowsReferencing(ctx, store.TableAlbums, "artists", artist.ItemID)
	if err != nil {
		return nil, err
	}
	var out []*media.Album
	for _, row := range rows {
		album, err := albumFromRow(row)
		if err != nil {
			continue
		}
		if _, ok := album.Mappings.ForInstance(instance); ok {
			out = append(out, album)
		}
	}
	return out, nil
}

// localTracks approximates a provider's top-tracks listing the same way.
func (a *ArtistController) localTracks(ctx context.Context, artist *media.Artist, instance string) ([]*media.Track, error) {
	if !artist.IsCanonical() {
		return nil, nil
	}
	rows, err := a.set.rowsReferencing(ctx, store.TableTracks, "artists", artist.ItemID)
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

// Match tries to link the canonical artist to every active search-capable
// provider it has no mapping for yet. Absence of a match on a provider is
// logged, never an error; only a 100%-exact agreement creates a link.
func (a *ArtistController) Match(ctx context.Context, artist *media.Artist) error {
	if !artist.IsCanonical() {
		return &InvariantError{Reason: "only canonical items can be matched"}
	}
	domains := artist.Mappings.Domains()

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
			found, err := a.matchOne(ctx, artist, p)
			if err != nil {
				a.logger.Warn("artist match failed", "artist", artist.Name, "provider", p.Instance(), "error", err)
				return nil
			}
			if !found {
				a.logger.Info("could not match artist on provider", "artist", artist.Name, "provider", p.Instance())
			}
			return nil
		})
	}
	return g.Wait()
}

// matchOne runs the two-stage match against one provider: track-anchored
// first, album-anchored as fallback. Short-circuits on the first exact hit.
func (a *ArtistController) matchOne(ctx context.Context, artist *media.Artist, p provider.Provider) (bool, error) {
	refTracks, err := a.TopTracks(ctx, artist)
	if err == nil {
		if len(refTracks) > maxRefTracks {
			refTracks = refTracks[:maxRefTracks]
		}
		for _, ref := range refTracks {
			found, err := a.matchByTrack(ctx, artist, p, ref)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
	}

	albums, err := a.Albums(ctx, artist)
	if err != nil {
		return false, nil
	}
	for _, album := range albums {
		if album.AlbumType == media.AlbumTypeCompilation {
			continue
		}
		found, err := a.matchByAlbum(ctx, artist, p, album)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// matchByTrack searches the provider with combinations of artist and track
// name. A hit counts only when its normalized name equals the reference
// track's and one of the hit's own artists equals the canonical artist.
func (a *ArtistController) matchByTrack(ctx context.Context, artist *media.Artist, p provider.Provider, ref *media.Track) (bool, error) {
	refSort := media.SortNameOf(ref.Name)
	queries := []string{
		artist.Name + " - " + ref.Name,
		artist.Name + " " + ref.Name,
		ref.Name,
	}
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := a.limiters.Wait(ctx, p.Instance()); err != nil {
			return false, err
		}
		results, err := p.Search(ctx, q, media.TypeTrack, searchLimit)
		if err != nil {
			continue
		}
		for _, hit := range results.Tracks {
			if media.SortNameOf(hit.Name) != refSort {
				continue
			}
			for _, hitArtist := range hit.Artists {
				if media.SortNameOf(hitArtist.Name) != artist.SortName {
					continue
				}
				return true, a.linkProviderArtist(ctx, artist, p, hitArtist.ItemID)
			}
		}
	}
	return false, nil
}

// matchByAlbum accepts only a hit whose album name and album-artist name
// both agree exactly with the canonical item.
func (a *ArtistController) matchByAlbum(ctx context.Context, artist *media.Artist, p provider.Provider, album *media.Album) (bool, error) {
	albumSort := media.SortNameOf(album.Name)
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
			if media.SortNameOf(hit.Name) != albumSort {
				continue
			}
			hitArtist := hit.Artist()
			if hitArtist == nil {
				continue
			}
			if media.SortNameOf(hitArtist.Name) != artist.SortName {
				continue
			}
			return true, a.linkProviderArtist(ctx, artist, p, hitArtist.ItemID)
		}
	}
	return false, nil
}

// linkProviderArtist fetches the matched provider artist in full and
// merges it into the canonical row.
func (a *ArtistController) linkProviderArtist(ctx context.Context, artist *media.Artist, p provider.Provider, providerItemID string) error {
	if err := a.limiters.Wait(ctx, p.Instance()); err != nil {
		return err
	}
	full, err := p.GetArtist(ctx, providerItemID)
	if err != nil {
		return err
	}
	ensureMapping(&full.Core, p, providerItemID)
	_, err = a.Update(ctx, artist.ItemID, full, false)
	return err
}

// ensureMapping guarantees a provider-sourced item carries a mapping for
// the provider it came from.
func ensureMapping(c *media.Core, p provider.Provider, providerItemID string) {
	m := media.ProviderMapping{
		ItemID:           providerItemID,
		ProviderDomain:   p.Domain(),
		ProviderInstance: p.Instance(),
		Available:        true,
	}
	if !c.Mappings.Contains(m) {
		c.Mappings = c.Mappings.Union(media.MappingSet{m})
	}
}

// VariousArtists returns the reserved aggregate-contributor artist,
// creating it on first use.
func (a *ArtistController) VariousArtists(ctx context.Context) (*media.Artist, error) {
	row, err := a.store.GetRow(ctx, store.TableArtists, store.Row{"external_id": media.VariousArtistsID})
	if err != nil {
		return nil, err
	}
	if row != nil {
		return artistFromRow(row)
	}
	artist := &media.Artist{Core: media.Core{
		Provider:   media.ProviderLibrary,
		Name:       media.VariousArtists,
		ExternalID: media.VariousArtistsID,
		Mappings: media.MappingSet{{
			ItemID:           media.VariousArtistsID,
			ProviderDomain:   media.ProviderLibrary,
			ProviderInstance: media.ProviderLibrary,
			Available:        true,
		}},
	}}
	return a.Add(ctx, artist, false)
}
