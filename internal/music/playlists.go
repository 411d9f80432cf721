package music

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/harmonia-music/harmonia/internal/media"
	"github.com/harmonia-music/harmonia/internal/provider"
	"github.com/harmonia-music/harmonia/internal/store"
)

// PlaylistController manages canonical playlists. Playlists have no
// cross-provider matching: identity is name plus owner on one provider,
// which is not a safe link signal across catalogs.
type PlaylistController struct {
	*Controller[*media.Playlist]
	set *Set
}

// Tracks lists the playlist's tracks in order. A playlist lives on exactly
// one provider; the first available mapping is used. Positions are
// assigned from listing order when the provider does not set them.
func (p *PlaylistController) Tracks(ctx context.Context, playlist *media.Playlist) ([]*media.Track, error) {
	m, prov := p.firstMapping(playlist)
	if prov == nil {
		return nil, nil
	}
	checksum := playlist.Metadata.Checksum
	key := listingKey(m.ProviderInstance, listingPlaylistTracks, m.ItemID)
	tracks, err := cachedListing(ctx, p.cache, key, checksum, func(ctx context.Context) ([]*media.Track, error) {
		if !provider.Supports(prov, provider.FeaturePlaylistTracks) {
			return nil, provider.ErrUnsupported
		}
		if err := p.limiters.Wait(ctx, prov.Instance()); err != nil {
			return nil, err
		}
		return prov.GetPlaylistTracks(ctx, m.ItemID)
	})
	if err != nil {
		return nil, err
	}
	for i, t := range tracks {
		if t.Position == 0 {
			t.Position = i + 1
		}
	}
	return tracks, nil
}

// AddTracks appends canonical tracks to an editable playlist on its
// provider, then bumps the playlist checksum so cached listings invalidate.
func (p *PlaylistController) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	playlist, err := p.Get(ctx, playlistID)
	if err != nil {
		return err
	}
	if !playlist.IsEditable {
		return &InvariantError{Reason: "playlist is not editable"}
	}
	m, prov := p.firstMapping(playlist)
	if prov == nil {
		return &NotFoundError{Kind: media.TypePlaylist, Key: playlistID}
	}
	if !provider.Supports(prov, provider.FeaturePlaylistTracksEdit) {
		return provider.ErrUnsupported
	}

	providerIDs := make([]string, 0, len(trackIDs))
	for _, id := range trackIDs {
		track, err := p.set.Tracks.Get(ctx, id)
		if err != nil {
			return err
		}
		tm, ok := track.Mappings.ForInstance(prov.Instance())
		if !ok {
			tm, ok = track.Mappings.ForInstance(prov.Domain())
		}
		if !ok {
			p.logger.Warn("track has no mapping on playlist provider, skipping",
				"track", track.Name, "provider", prov.Instance())
			continue
		}
		providerIDs = append(providerIDs, tm.ItemID)
	}
	if len(providerIDs) == 0 {
		return nil
	}

	if err := p.limiters.Wait(ctx, prov.Instance()); err != nil {
		return err
	}
	if err := prov.AddPlaylistTracks(ctx, m.ItemID, providerIDs); err != nil {
		return err
	}
	return p.bumpChecksum(ctx, playlist)
}

// RemoveTracks removes the tracks at the given positions from an editable
// playlist on its provider, then bumps the checksum.
func (p *PlaylistController) RemoveTracks(ctx context.Context, playlistID string, positions []int) error {
	playlist, err := p.Get(ctx, playlistID)
	if err != nil {
		return err
	}
	if !playlist.IsEditable {
		return &InvariantError{Reason: "playlist is not editable"}
	}
	m, prov := p.firstMapping(playlist)
	if prov == nil {
		return &NotFoundError{Kind: media.TypePlaylist, Key: playlistID}
	}
	if !provider.Supports(prov, provider.FeaturePlaylistTracksEdit) {
		return provider.ErrUnsupported
	}

	if err := p.limiters.Wait(ctx, prov.Instance()); err != nil {
		return err
	}
	if err := prov.RemovePlaylistTracks(ctx, m.ItemID, positions); err != nil {
		return err
	}
	return p.bumpChecksum(ctx, playlist)
}

// Create creates a playlist on the given provider and registers it as a
// canonical in-library playlist.
func (p *PlaylistController) Create(ctx context.Context, domainOrInstance, name string) (*media.Playlist, error) {
	prov := p.registry.Get(domainOrInstance)
	if prov == nil {
		return nil, &NotFoundError{Kind: media.TypePlaylist, Key: domainOrInstance}
	}
	if !provider.Supports(prov, provider.FeaturePlaylistCreate) {
		return nil, provider.ErrUnsupported
	}
	if err := p.limiters.Wait(ctx, prov.Instance()); err != nil {
		return nil, err
	}
	created, err := prov.CreatePlaylist(ctx, name)
	if err != nil {
		return nil, err
	}
	ensureMapping(&created.Core, prov, created.ItemID)
	created.InLibrary = true
	created.IsEditable = true
	return p.Add(ctx, created, false)
}

// bumpChecksum assigns a fresh metadata checksum after a provider-side
// edit so that every cached track listing for the playlist is stale.
func (p *PlaylistController) bumpChecksum(ctx context.Context, playlist *media.Playlist) error {
	playlist.Metadata.Checksum = uuid.New().String()
	playlist.Touch(time.Now())
	return p.store.Update(ctx, store.TablePlaylists,
		store.Row{"item_id": playlist.ItemID}, store.Row{
			"metadata":           encodeJSON(playlist.Metadata),
			"timestamp_modified": playlist.TimestampModified,
		})
}

// firstMapping returns the playlist's first mapping with a registered
// provider, or nil when none resolves.
func (p *PlaylistController) firstMapping(playlist *media.Playlist) (media.ProviderMapping, provider.Provider) {
	for _, m := range playlist.Mappings {
		if prov := p.registry.Get(m.ProviderInstance); prov != nil {
			return m, prov
		}
		if prov := p.registry.Get(m.ProviderDomain); prov != nil {
			return m, prov
		}
	}
	return media.ProviderMapping{}, nil
}

// mergePlaylistFields merges the playlist-specific fields of src into dst.
func mergePlaylistFields(dst, src *media.Playlist, authoritative bool) {
	if src.Owner != "" && (dst.Owner == "" || authoritative) {
		dst.Owner = src.Owner
	}
	dst.IsEditable = dst.IsEditable || src.IsEditable
}
