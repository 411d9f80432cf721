package music

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/provider"
)

// TrackController manages canonical tracks.
type TrackController struct {
	*Controller[*media.Track]
	set *Set
}

// Add resolves the track's artist and album references to canonical items
// before running identity resolution.
func (t *TrackController) Add(ctx context.Context, track *media.Track, overwrite bool) (*media.Track, error) {
	refs, err := t.set.resolveArtistRefs(ctx, track.Artists)
	if err != nil {
		return nil, err
	}
	track.Artists = refs
	if err := t.resolveAlbumRef(ctx, track); err != nil {
		return nil, err
	}
	return t.Controller.Add(ctx, track, overwrite)
}

// resolveAlbumRef replaces a provider-sourced album reference with one
// pointing at a canonical album, adding a minimal canonical album when the
// reference is seen for the first time.
func (t *TrackController) resolveAlbumRef(ctx context.Context, track *media.Track) error {
	ref := track.Album
	if ref == nil || ref.Provider == media.ProviderLibrary || ref.Provider == "" {
		return nil
	}
	existing, ok, err := t.set.Albums.GetByProviderID(ctx, ref.Provider, ref.ItemID)
	if err != nil {
		return err
	}
	if ok {
		r := media.RefOf(existing)
		track.Album = &r
		return nil
	}
	album := &media.Album{
		Core: media.Core{
			Provider: ref.Provider,
			Name:     ref.Name,
			SortName: ref.SortName,
			Version:  ref.Version,
			Mappings: media.MappingSet{{
				ItemID:           ref.ItemID,
				ProviderDomain:   t.set.domainOf(ref.Provider),
				ProviderInstance: ref.Provider,
				Available:        true,
			}},
		},
		AlbumType: media.AlbumTypeUnknown,
		Artists:   track.Artists,
	}
	added, err := t.set.Albums.Add(ctx, album, false)
	if err != nil {
		return err
	}
	r := media.RefOf(added)
	track.Album = &r
	return nil
}

// Versions searches every active search-capable provider for alternate
// versions of the track (remasters, acoustic takes, re-releases). A hit
// must agree on track name and on at least one artist; provider items the
// track is already mapped to are excluded. Raw search results are cached
// per provider under the track's metadata checksum.
func (t *TrackController) Versions(ctx context.Context, track *media.Track) ([]*media.Track, error) {
	artist := track.Artist()
	if artist == nil {
		return nil, nil
	}
	refSort := track.SortName
	if refSort == "" {
		refSort = media.SortNameOf(track.Name)
	}
	artistSorts := make(map[string]struct{}, len(track.Artists))
	for _, ref := range track.Artists {
		artistSorts[media.SortNameOf(ref.Name)] = struct{}{}
	}
	query := artist.Name + " - " + track.Name
	checksum := track.Metadata.Checksum

	var (
		mu  sync.Mutex
		all []*media.Track
	)
	var g errgroup.Group
	g.SetLimit(fanOutLimit)
	for _, p := range t.registry.Active() {
		p := p
		if !provider.Supports(p, provider.FeatureSearch) {
			continue
		}
		g.Go(func() error {
			key := listingKey(p.Instance(), listingTrackVersions, track.ItemID)
			hits, err := cachedListing(ctx, t.cache, key, checksum, func(ctx context.Context) ([]*media.Track, error) {
				if err := t.limiters.Wait(ctx, p.Instance()); err != nil {
					return nil, err
				}
				results, err := p.Search(ctx, query, media.TypeTrack, searchLimit)
				if err != nil {
					return nil, err
				}
				return results.Tracks, nil
			})
			if err != nil {
				t.logger.Debug("track version search failed",
					"track", track.Name, "provider", p.Instance(), "error", err)
				return nil
			}
			var keep []*media.Track
			for _, hit := range hits {
				if media.SortNameOf(hit.Name) != refSort {
					continue
				}
				if !anyArtistAgrees(hit.Artists, artistSorts) {
					continue
				}
				if track.Mappings.Contains(media.ProviderMapping{ProviderDomain: p.Domain(), ItemID: hit.ItemID}) {
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

// Match links the canonical track to every active search-capable provider
// it has no mapping for yet. A hit must agree exactly on track name and on
// at least one artist name.
func (t *TrackController) Match(ctx context.Context, track *media.Track) error {
	if !track.IsCanonical() {
		return &InvariantError{Reason: "only canonical items can be matched"}
	}
	domains := track.Mappings.Domains()

	var g errgroup.Group
	for _, p := range t.registry.Active() {
		p := p
		if _, ok := domains[p.Domain()]; ok {
			continue
		}
		if !provider.Supports(p, provider.FeatureSearch) {
			continue
		}
		g.Go(func() error {
			if err := t.set.matchSem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer t.set.matchSem.Release(1)
			found, err := t.matchOne(ctx, track, p)
			if err != nil {
				t.logger.Warn("track match failed", "track", track.Name, "provider", p.Instance(), "error", err)
				return nil
			}
			if !found {
				t.logger.Info("could not match track on provider", "track", track.Name, "provider", p.Instance())
			}
			return nil
		})
	}
	return g.Wait()
}

func (t *TrackController) matchOne(ctx context.Context, track *media.Track, p provider.Provider) (bool, error) {
	artist := track.Artist()
	if artist == nil {
		return false, nil
	}
	artistSorts := make(map[string]struct{}, len(track.Artists))
	for _, ref := range track.Artists {
		artistSorts[media.SortNameOf(ref.Name)] = struct{}{}
	}
	queries := []string{
		artist.Name + " - " + track.Name,
		artist.Name + " " + track.Name,
		track.Name,
	}
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := t.limiters.Wait(ctx, p.Instance()); err != nil {
			return false, err
		}
		results, err := p.Search(ctx, q, media.TypeTrack, searchLimit)
		if err != nil {
			continue
		}
		for _, hit := range results.Tracks {
			if media.SortNameOf(hit.Name) != track.SortName {
				continue
			}
			if media.SortNameOf(hit.Version) != media.SortNameOf(track.Version) {
				continue
			}
			if !anyArtistAgrees(hit.Artists, artistSorts) {
				continue
			}
			return true, t.linkProviderTrack(ctx, track, p, hit.ItemID)
		}
	}
	return false, nil
}

func anyArtistAgrees(refs []media.ItemRef, sorts map[string]struct{}) bool {
	for _, ref := range refs {
		if _, ok := sorts[media.SortNameOf(ref.Name)]; ok {
			return true
		}
	}
	return false
}

func (t *TrackController) linkProviderTrack(ctx context.Context, track *media.Track, p provider.Provider, providerItemID string) error {
	if err := t.limiters.Wait(ctx, p.Instance()); err != nil {
		return err
	}
	full, err := p.GetTrack(ctx, providerItemID)
	if err != nil {
		return err
	}
	ensureMapping(&full.Core, p, providerItemID)
	_, err = t.Update(ctx, track.ItemID, full, false)
	return err
}

// mergeTrackFields merges the track-specific fields of src into dst.
func mergeTrackFields(dst, src *media.Track, authoritative bool) {
	if src.Duration != 0 && (dst.Duration == 0 || authoritative) {
		dst.Duration = src.Duration
	}
	if src.DiscNumber != 0 && (dst.DiscNumber == 0 || authoritative) {
		dst.DiscNumber = src.DiscNumber
	}
	if src.TrackNumber != 0 && (dst.TrackNumber == 0 || authoritative) {
		dst.TrackNumber = src.TrackNumber
	}
	if len(src.Artists) > 0 && (len(dst.Artists) == 0 || authoritative) {
		dst.Artists = src.Artists
	}
	if src.Album != nil && (dst.Album == nil || authoritative) {
		dst.Album = src.Album
	}
	dst.ISRCs = mergeUnique(dst.ISRCs, src.ISRCs)
}
